package reconcile

import (
	"github.com/dl-alexandre/odsync/internal/sync/state"
)

// Side identifies which replica produced a change event
type Side string

const (
	SideLocal  Side = "local"
	SideRemote Side = "remote"
)

// Kind classifies a change event against the prior record
type Kind string

const (
	Created  Kind = "created"
	Modified Kind = "modified"
	Deleted  Kind = "deleted"
	Renamed  Kind = "renamed"
)

// ChangeEvent is one observed difference between a replica and the prior
// record. Renamed events carry the old path in FromPath. SHA256 is the
// service-reported content hash on remote events, when the drive
// publishes one.
type ChangeEvent struct {
	Side        Side
	Kind        Kind
	Path        string
	FromPath    string
	IsDir       bool
	Fingerprint string
	ETag        string
	SHA256      string
	RemoteID    string
	Size        int64
	MTime       int64
}

type ActionType string

const (
	ActionUpload       ActionType = "upload"
	ActionDownload     ActionType = "download"
	ActionDeleteLocal  ActionType = "delete_local"
	ActionDeleteRemote ActionType = "delete_remote"
	ActionMkdirLocal   ActionType = "mkdir_local"
	ActionMkdirRemote  ActionType = "mkdir_remote"
	ActionMoveLocal    ActionType = "move_local"
	ActionMoveRemote   ActionType = "move_remote"

	// ActionRecord updates the stored record without touching either
	// replica, used when both sides already agree (double delete,
	// independent identical creations of a folder).
	ActionRecord ActionType = "record"
)

// Action is one planned operation against a replica or the record store
type Action struct {
	Type     ActionType
	Path     string
	FromPath string
	Local    *ChangeEvent
	Remote   *ChangeEvent
	Prev     *state.ItemRecord
}

type ConflictKind string

const (
	ConflictBothModified               ConflictKind = "both_modified"
	ConflictLocalDeletedRemoteModified ConflictKind = "local_deleted_remote_modified"
	ConflictRemoteDeletedLocalModified ConflictKind = "remote_deleted_local_modified"
	ConflictTypeMismatch               ConflictKind = "type_mismatch"
)

// Conflict is a path where independent changes cannot be merged without
// a policy decision.
type Conflict struct {
	Path   string
	Kind   ConflictKind
	Local  *ChangeEvent
	Remote *ChangeEvent
	Prev   *state.ItemRecord
}

// Options tunes one reconciliation
type Options struct {
	Direction state.Direction

	// Mass-deletion gate: when more than GateThreshold of TrackedCount
	// paths would be deleted in one pass, deletions are withheld unless
	// DeletesAcknowledged. The gate is disarmed below GateMinTracked.
	GateThreshold       float64
	GateMinTracked      int
	TrackedCount        int
	DeletesAcknowledged bool
}

// Plan is the ordered result of a reconciliation
type Plan struct {
	Actions        []Action
	Conflicts      []Conflict
	PendingDeletes []Action
	GateTriggered  bool
}
