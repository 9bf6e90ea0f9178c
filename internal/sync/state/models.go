package state

// Direction restricts which way changes flow for a mapping
type Direction string

const (
	DirectionBoth     Direction = "both"
	DirectionUpload   Direction = "upload"
	DirectionDownload Direction = "download"
)

// ConflictPolicy decides the winner when both sides changed the same path
type ConflictPolicy string

const (
	PolicyPreferLocal  ConflictPolicy = "prefer-local"
	PolicyPreferRemote ConflictPolicy = "prefer-remote"
	PolicyKeepBoth     ConflictPolicy = "keep-both"
	PolicyAsk          ConflictPolicy = "ask"
)

// Mapping pairs a local folder with a remote folder and carries the
// per-mapping sync policy plus cursor bookkeeping.
type Mapping struct {
	ID              string
	LocalRoot       string
	RemoteID        string
	RemotePath      string
	DriveID         string
	Direction       Direction
	ConflictPolicy  ConflictPolicy
	ExcludePatterns []string
	Enabled         bool
	DeltaCursor     string
	LastSyncTime    int64
	FailureStreak   int
}

// ItemRecord is the persisted last-synced observation of one path: the
// shared baseline both sides are diffed against.
type ItemRecord struct {
	MappingID    string
	RelativePath string
	IsDir        bool
	RemoteID     string
	ETag         string
	Fingerprint  string
	LocalMTime   int64
	Size         int64
}

// Transfer is a persisted in-flight transfer, kept so an interrupted
// upload session or partial download resumes instead of restarting.
type Transfer struct {
	MappingID    string
	RelativePath string
	Kind         string // "upload" or "download"
	ResumeToken  string
	TempPath     string
}

// PendingConflict is a conflict awaiting an external decision under the
// ask policy. Resolution is empty until a decision is recorded.
type PendingConflict struct {
	MappingID    string
	RelativePath string
	DetectedAt   int64
	LocalDigest  string
	RemoteETag   string
	Resolution   ConflictPolicy
}

// PendingDelete is a deletion withheld by the mass-deletion gate until
// the operator confirms it.
type PendingDelete struct {
	MappingID    string
	RelativePath string
	Side         string // "local" or "remote"
	RemoteID     string
	IsDir        bool
	RequestedAt  int64
}
