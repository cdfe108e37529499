package fsm

// ApodRequest is the FSM input
type ApodRequest struct {
	RunID string
	Date  string
}

// ApodResponse is the FSM output (accumulated across transitions)
type ApodResponse struct {
	// From Fetching
	Title       string
	Explanation string
	MediaType   string
	ImageURL    string
	StagingPath string
	Size        int64

	// From Hashing
	ContentHash string

	// From Storing
	RecordID int64
	FilePath string
	CacheHit bool

	// From Complete/Failed
	Status       string
	ErrorMessage string
}

// State names
const (
	StateFetching = "fetching"
	StateHashing  = "hashing"
	StateStoring  = "storing"
	StateComplete = "complete"
	StateFailed   = "failed"
)

// Terminal statuses
const (
	StatusComplete = "complete"
	StatusFailed   = "failed"
)
