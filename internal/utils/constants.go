package utils

// Retry behavior
const (
	// MaxRetryDelayMs caps exponential backoff between attempts
	MaxRetryDelayMs = 32000
	// DefaultMaxRetries is the default number of retry attempts for Graph calls
	DefaultMaxRetries = 3
	// DefaultRetryBaseDelayMs is the starting backoff delay
	DefaultRetryBaseDelayMs = 1000
)

// Transfer behavior
const (
	// SimpleUploadLimit is the largest payload sent as a single PUT; bigger
	// files go through an upload session.
	SimpleUploadLimit = 4 * 1024 * 1024
	// UploadChunkSize is the per-request chunk for upload sessions. Graph
	// requires a multiple of 320 KiB.
	UploadChunkSize = 10 * 320 * 1024
	// DownloadBufferSize is the copy buffer for streaming downloads
	DownloadBufferSize = 256 * 1024
	// TempSuffix marks in-progress downloads; excluded from scans
	TempSuffix = ".odsync-tmp"
)

// Mass-deletion safety gate defaults
const (
	// DefaultDeleteGateThreshold is the fraction of tracked paths whose
	// deletion in one pass arms the gate
	DefaultDeleteGateThreshold = 0.5
	// DefaultDeleteGateMinTracked disarms the fractional gate for tiny
	// mappings, where a few deletions are routine
	DefaultDeleteGateMinTracked = 10
)

// Conflict side-file suffixes
const (
	ConflictLocalSuffix  = ".conflict-local"
	ConflictRemoteSuffix = ".conflict-remote"
)
