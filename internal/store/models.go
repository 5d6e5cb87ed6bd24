package store

import "time"

// Run status values
const (
	RunRunning = "running"
	RunSuccess = "success"
	RunFailed  = "failed"
)

// Run records one execution of a CLI command
type Run struct {
	ID           int64
	Command      string // "match", "fetch", "build", "set", "unset", "cleanup"
	StartTime    time.Time
	EndTime      time.Time
	Matched      int
	Unmatched    int
	Programmes   int
	Status       string // "running", "success", "failed"
	ErrorMessage string
}

// FetchFailure is a cache key that could not be fetched after all attempts
type FetchFailure struct {
	ID           int64
	Provider     string
	CacheKey     string
	URL          string
	CachePath    string
	Error        string
	Attempts     int
	FailureCount int
	FirstFailure time.Time
	LastFailure  time.Time
}
