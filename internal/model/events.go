package model

// EventKind names a downstream notification the merge logic knows is warranted but does not act on.
type EventKind string

const (
	// EventSessionSwitchover: a recipient's PNI-bound identity moved onto its ACI or was replaced;
	// a session rekey may be warranted.
	EventSessionSwitchover EventKind = "session_switchover"
	// EventNumberChanged: an account-bearing recipient gained, swapped, or lost its phone number.
	EventNumberChanged EventKind = "number_changed"
)

// Event is an optional planner output. RecipientID refers to a row that existed before the merge.
type Event struct {
	Kind        EventKind `json:"kind"`
	RecipientID int64     `json:"recipient_id"`
	OldE164     *E164     `json:"-"`
	NewE164     *E164     `json:"-"`
}

// ChangeKind is the row-level mutation type observed by change-feed subscribers.
type ChangeKind string

const (
	ChangeInsert ChangeKind = "insert"
	ChangeUpdate ChangeKind = "update"
	ChangeDelete ChangeKind = "delete"
)

// Store table names as seen by change-feed subscribers.
const (
	TableRecipients     = "recipients"
	TableMessages       = "messages"
	TableSessions       = "sessions"
	TableGroupV1Members = "group_v1_members"
	TableGroupV2Members = "group_v2_members"
	TableReactions      = "reactions"
	TableReceipts       = "receipts"
	TableCalls          = "calls"
)

// Change is one row-level mutation: which table, what happened, and the affected row id.
type Change struct {
	Table string     `json:"table" yaml:"table"`
	Kind  ChangeKind `json:"kind" yaml:"kind"`
	RowID int64      `json:"id" yaml:"id"`
}

// MergeOutcome reports what a Merge op did to its source row.
type MergeOutcome struct {
	Dest          int64
	SourceDeleted bool
}
