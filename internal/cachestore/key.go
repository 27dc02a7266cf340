package cachestore

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// Key derives the cache key for one ZIP and variable set. The variable list
// is sorted before hashing so the same set always maps to the same key
// regardless of request order.
func (o Options) Key(zip string, vars []string) string {
	sorted := make([]string, len(vars))
	copy(sorted, vars)
	sort.Strings(sorted)

	sum := sha256.Sum256([]byte(zip + "|" + strings.Join(sorted, ",")))
	ns := o.Namespace
	if ns == "" {
		ns = DefaultNamespace
	}
	return ns + ":" + hex.EncodeToString(sum[:])
}
