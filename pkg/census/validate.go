package census

import (
	"context"

	"github.com/mykull23/us-census-map-shanir/internal/resilience"
)

// KeyStatus classifies a ValidateKey probe outcome.
type KeyStatus string

const (
	KeyValid       KeyStatus = "valid"
	KeyInvalid     KeyStatus = "invalid"
	KeyRateLimited KeyStatus = "rate_limited"
	KeyUnknown     KeyStatus = "unknown"
)

// Probe parameters: one cheap variable for one ZCTA keeps the request tiny.
const (
	probeDataset  = "acs/acs5"
	probeYear     = 2023
	probeVariable = "B01003_001E" // total population
	probeZCTA     = "90210"
)

// ValidateKey implements Client. A rejected or throttled key is a
// classification, not a failure; only unexpected outcomes return an error.
func (c *client) ValidateKey(ctx context.Context, key string) (KeyStatus, error) {
	_, err := c.FetchBatch(ctx, probeDataset, probeYear, []string{probeVariable}, []string{probeZCTA}, key)
	switch {
	case err == nil:
		return KeyValid, nil
	case resilience.IsCredential(err):
		return KeyInvalid, nil
	case resilience.IsRateLimit(err):
		return KeyRateLimited, nil
	default:
		return KeyUnknown, err
	}
}
