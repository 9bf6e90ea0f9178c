package types

// RequestType categorizes Graph API requests for logging and shaping
type RequestType string

const (
	RequestTypeDelta    RequestType = "delta"
	RequestTypeDownload RequestType = "download"
	RequestTypeUpload   RequestType = "upload"
	RequestTypeDelete   RequestType = "delete"
	RequestTypeMetadata RequestType = "metadata"
)

// RequestContext carries per-pass request metadata through the engine
type RequestContext struct {
	Profile     string
	MappingID   string
	DriveID     string
	RequestType RequestType
	TraceID     string
}

// OutputFormat controls CLI rendering
type OutputFormat string

const (
	OutputFormatJSON  OutputFormat = "json"
	OutputFormatTable OutputFormat = "table"
)

// GlobalFlags holds flags shared by all CLI commands
type GlobalFlags struct {
	Profile      string
	OutputFormat OutputFormat
	Quiet        bool
	Verbose      bool
	Debug        bool
	Config       string
	LogFile      string
	DryRun       bool
	Yes          bool
	JSON         bool
}
