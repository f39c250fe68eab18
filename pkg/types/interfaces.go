// Package types - interface definitions for pluggable pipeline components.
package types

import (
	"context"
	"time"
)

// Catalog is the queryable store the pipeline reconciles into: one row per
// known entry, keyed by EntryId. GET_INFO_DB and DB_APPLY are its only
// callers; SCAN_SWEEP additionally uses the mass-removal and variable
// operations.
type Catalog interface {
	// Get returns the catalog's current attributes for id and the mask
	// naming which fields are populated. exists is false (and mask/attrs
	// are zero) when id has no row.
	Get(ctx context.Context, id EntryId) (attrs EntryAttributes, mask AttrMask, exists bool, err error)

	// CheckStripe reports whether id already has a stripe recorded
	// (GET_INFO_DB's existence probe for the stripe fetch flag).
	CheckStripe(ctx context.Context, id EntryId) (known bool, err error)

	// Insert writes a row for id built from attrs (per mask). An existing
	// row for id is replaced, not merged.
	Insert(ctx context.Context, id EntryId, attrs EntryAttributes, mask AttrMask) error

	// Update merges attrs (per mask) into the existing row for id.
	Update(ctx context.Context, id EntryId, attrs EntryAttributes, mask AttrMask) error

	// Remove deletes id's row outright.
	Remove(ctx context.Context, id EntryId) error

	// SoftRemove marks id's row as removed without deleting it, moving it
	// to the deferred-removal queue: path (when known) and deadline are
	// retained so a later backend cleanup pass can act on them.
	SoftRemove(ctx context.Context, id EntryId, path string, deadline time.Time) error

	// MassSoftRemove marks every row with MdUpdate older than before as
	// removed; it is SCAN_SWEEP's end-of-pass cleanup of entries no scan
	// in the current pass touched. It returns the number of rows marked.
	MassSoftRemove(ctx context.Context, before time.Time) (int, error)

	// SetVar persists a named scalar variable (e.g. LastScan) outside
	// the per-entry rows.
	SetVar(ctx context.Context, name string, value string) error

	// GetVar reads back a variable set with SetVar. ok is false if unset.
	GetVar(ctx context.Context, name string) (value string, ok bool, err error)

	// ForceCommit toggles the catalog's durability mode: SCAN_SWEEP
	// forces every write to fsync before the mass-removal pass, then
	// reverts to batched commits afterwards.
	ForceCommit(ctx context.Context, enabled bool) error
}

// FSProbe retrieves filesystem-side information GET_INFO_FS needs to fill
// an operation's FetchPlan. One implementation talks to the real
// filesystem; tests use a fake.
type FSProbe interface {
	// PathToID resolves a path to its stable EntryId (GET_ID, scan side).
	PathToID(ctx context.Context, path string) (EntryId, error)

	// IDToPath resolves an id back to its current full path
	// (NeedPath). Returns a xerrors.KindMissing error if the id is stale.
	IDToPath(ctx context.Context, id EntryId) (string, error)

	// Lstat retrieves basic metadata (NeedAttr): times and the
	// regular-file test.
	Lstat(ctx context.Context, id EntryId, path string) (StatInfo, error)

	// GetStripe retrieves layout information (NeedStripe).
	GetStripe(ctx context.Context, id EntryId, path string) (StripeInfo, []string, error)

	// GetHSMStatus retrieves the current archival status (NeedStatus).
	GetHSMStatus(ctx context.Context, id EntryId, path string) (HSMStatus, error)
}

// StatInfo is the subset of filesystem metadata GET_INFO_FS folds into an
// EntryAttributes record.
type StatInfo struct {
	IsRegularFile bool
	MdUpdate      time.Time
	CreationTime  time.Time
}

// AlertEmitter is the destination for REPORTING's best-effort "raise"
// notifications. Emission failures are logged and never affect pipeline
// routing.
type AlertEmitter interface {
	Emit(ctx context.Context, alert Alert) error
}

// Alert is one REPORTING notification.
type Alert struct {
	EntryId EntryId
	Kind    string
	Message string
	At      time.Time
}

// PolicyMatcher evaluates release/archive class predicates against an
// entry's attributes. The rule language itself is out of scope; this is a
// narrow seam GET_INFO_FS calls when class matching is enabled.
type PolicyMatcher interface {
	Match(attrs EntryAttributes, mask AttrMask) PolicyMatch
}

// JournalSource delivers decoded journal records to the pipeline and
// accepts the acknowledgement callback JOURNAL_ACK invokes once a record's
// mutation is durable.
type JournalSource interface {
	// Start begins reading records and pushing them to handler until ctx
	// is cancelled or Stop is called.
	Start(ctx context.Context, handler func(JournalRecord, AckFunc, any)) error
	Stop() error
}

// Scanner periodically walks the monitored tree and pushes paths to the
// GET_ID stage. It never needs an acknowledgement callback: scan-sourced
// operations terminate at JOURNAL_ACK with a no-op ack.
type Scanner interface {
	Start(ctx context.Context, handler func(path string)) error
	Stop() error
}
