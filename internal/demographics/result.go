package demographics

// ZipValues holds the fetched variable values for one ZIP and where they
// came from ("cache" or "api").
type ZipValues struct {
	Zip    string            `json:"zip"`
	Values map[string]string `json:"values"`
	Source string            `json:"source"`
}

// BatchFailure records one batch that exhausted its retries. Sibling batches
// still deliver, so failures ride along inside an otherwise usable result.
type BatchFailure struct {
	Zips     []string `json:"zips"`
	Attempts int      `json:"attempts"`
	Error    string   `json:"error"`
}

// Result is the outcome of one FetchVariables call. Partial success is the
// normal shape: cache hits, fresh values, missing ZIPs and failed batches
// coexist in one response.
type Result struct {
	RequestID string               `json:"request_id"`
	Values    map[string]ZipValues `json:"values"`
	Missing   []string             `json:"missing,omitempty"`
	Failures  []BatchFailure       `json:"failures,omitempty"`
}

// Stats reports service counters accumulated since construction.
type Stats struct {
	Calls     int64 `json:"calls"`
	CacheHits int64 `json:"cache_hits"`
	Fetched   int64 `json:"fetched"`
	Failures  int64 `json:"failures"`
}

// CacheStats reports entry count and payload bytes for the cache namespace.
type CacheStats struct {
	Entries   int   `json:"entries"`
	SizeBytes int64 `json:"size_bytes"`
}
