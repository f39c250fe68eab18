// Package types defines the data model shared across the entry processing
// pipeline: entry identifiers, attribute masks, the operation that flows
// through pipeline stages, and the journal records that drive it.
package types

import "time"

// EntryId is the opaque, comparable identifier a filesystem assigns to an
// entry. It is the ordering key for the per-id constraint at GET_INFO_DB
// and the primary key of the catalog.
type EntryId uint64

// String renders the id in hex with a "0x" prefix. Trace span attributes
// carry the id in decimal instead.
func (id EntryId) String() string {
	return formatEntryId(uint64(id))
}

// AttrField names one field of an EntryAttributes record. The numeric value
// is also the bit position in an AttrMask.
type AttrField uint

const (
	AttrFullPath AttrField = iota
	AttrName
	AttrCreationTime
	AttrMdUpdate
	AttrPathUpdate
	AttrStatus
	AttrNoRelease
	AttrNoArchive
	AttrLastArchive
	AttrLastRestore
	AttrStripeInfo
	AttrStripeItems
	AttrReleaseClass
	AttrArchiveClass
	AttrRelClUpdate
	AttrArchClUpdate
	AttrLastOpIndex
	attrFieldCount
)

// AttrMask is a bitset naming which fields of an EntryAttributes record are
// meaningful. Every mutation of an attribute updates its mask bit; a field
// may only be read when its bit is set.
type AttrMask uint32

func (m AttrMask) Test(f AttrField) bool      { return m&(1<<f) != 0 }
func (m AttrMask) Set(f AttrField) AttrMask   { return m | (1 << f) }
func (m AttrMask) Unset(f AttrField) AttrMask { return m &^ (1 << f) }
func (m AttrMask) Union(other AttrMask) AttrMask     { return m | other }
func (m AttrMask) Intersect(other AttrMask) AttrMask { return m & other }
func (m AttrMask) Empty() bool                       { return m == 0 }

// FullMask is every attribute bit set.
var FullMask = func() AttrMask {
	var m AttrMask
	for f := AttrField(0); f < attrFieldCount; f++ {
		m = m.Set(f)
	}
	return m
}()

// ReadOnlyMask names attribute bits the catalog manages itself (e.g.
// derived aggregates); DB_APPLY clears them from an operation's mask
// before any write so a handler can never push a stale or synthetic
// value over catalog-computed state. No field modeled in this pipeline
// is currently catalog-derived, but DB_APPLY still strips this mask so
// adding one later doesn't require touching the write path.
var ReadOnlyMask AttrMask

// StripReadOnly clears the bits named by ReadOnlyMask.
func (m AttrMask) StripReadOnly() AttrMask {
	return m &^ ReadOnlyMask
}

// HSMStatus is the per-file archival state, per the glossary.
type HSMStatus int

const (
	StatusUnknown HSMStatus = iota
	StatusNew
	StatusModified
	StatusReleased
	StatusReleasePending
	StatusArchiveRunning
	StatusNoFlags
)

func (s HSMStatus) String() string {
	switch s {
	case StatusNew:
		return "NEW"
	case StatusModified:
		return "MODIFIED"
	case StatusReleased:
		return "RELEASED"
	case StatusReleasePending:
		return "RELEASE_PENDING"
	case StatusArchiveRunning:
		return "ARCHIVE_RUNNING"
	case StatusNoFlags:
		return "NO_FLAGS"
	default:
		return "UNKNOWN"
	}
}

// StripeInfo describes layout metadata: how a file is distributed across
// storage targets. StripeItems holds the per-target placement; its exact
// shape is adapter-defined (see internal/fsprobe).
type StripeInfo struct {
	StripeCount int
	StripeSize  int64
}

// EntryAttributes is a record keyed by AttrField. Only fields whose bit is
// set in the accompanying AttrMask are meaningful; unset fields must not be
// read.
type EntryAttributes struct {
	FullPath     string
	Name         string
	CreationTime time.Time
	MdUpdate     time.Time
	PathUpdate   time.Time
	Status       HSMStatus
	NoRelease    bool
	NoArchive    bool
	LastArchive  time.Time
	LastRestore  time.Time
	StripeInfo   StripeInfo
	StripeItems  []string
	ReleaseClass string
	ArchiveClass string
	RelClUpdate  time.Time
	ArchClUpdate time.Time
	LastOpIndex  uint64
}

// FetchPlan names what GET_INFO_FS must still retrieve for an operation;
// it is computed by GET_INFO_DB and consumed by GET_INFO_FS.
type FetchPlan struct {
	NeedAttr   bool
	NeedPath   bool
	NeedStripe bool
	NeedStatus bool
}

// Any reports whether the plan asks for at least one probe.
func (p FetchPlan) Any() bool {
	return p.NeedAttr || p.NeedPath || p.NeedStripe || p.NeedStatus
}

// RecordType enumerates the journal record classes the pipeline dispatches
// on. The journal's wire format is out of scope; this is the decoded,
// in-memory shape any journal source adapter produces.
type RecordType int

const (
	RecordCreate RecordType = iota
	RecordUnlink
	RecordRenameExt
	RecordTrunc
	RecordSetAttr
	RecordTime
	RecordHSM
	RecordOther
)

// ImpliesMetadataChange reports whether this record class means the
// cached attributes must be refreshed.
func (t RecordType) ImpliesMetadataChange() bool {
	switch t {
	case RecordTrunc, RecordSetAttr, RecordHSM, RecordTime:
		return true
	default:
		return false
	}
}

func (t RecordType) String() string {
	switch t {
	case RecordCreate:
		return "CREATE"
	case RecordUnlink:
		return "UNLINK"
	case RecordRenameExt:
		return "RENAME_EXT"
	case RecordTrunc:
		return "TRUNC"
	case RecordSetAttr:
		return "SETATTR"
	case RecordTime:
		return "TIME"
	case RecordHSM:
		return "HSM"
	default:
		return "OTHER"
	}
}

// JournalRecord is the decoded representation of one filesystem change
// journal entry.
type JournalRecord struct {
	Type            RecordType
	Time            time.Time
	Index           uint64 // monotonic record index; JOURNAL_ACK orders on this
	NameLen         int
	Name            string
	UnlinkLast      bool // "last reference" flag, when the source can report it
	UnlinkLastKnown bool
}

// DbOp names the database mutation DB_APPLY must perform.
type DbOp int

const (
	DbOpNone DbOp = iota
	DbOpInsert
	DbOpUpdate
	DbOpRemove
	DbOpSoftRemove
)

func (op DbOp) String() string {
	switch op {
	case DbOpInsert:
		return "INSERT"
	case DbOpUpdate:
		return "UPDATE"
	case DbOpRemove:
		return "REMOVE"
	case DbOpSoftRemove:
		return "SOFT_REMOVE"
	default:
		return "NONE"
	}
}

// Tri is a tri-valued bool: unknown until GET_INFO_DB resolves it.
type Tri int

const (
	TriUnknown Tri = iota
	TriTrue
	TriFalse
)

func (t Tri) Bool() bool { return t == TriTrue }

// SourceKind tags which producer created an Operation.
type SourceKind int

const (
	SourceScan SourceKind = iota
	SourceJournal
)

// AckFunc notifies the journal reader that a record has been durably
// committed (catalog mutation applied). It is invoked from JOURNAL_ACK,
// strictly in increasing record-index order across all operations that
// reach that stage.
type AckFunc func(param any) error

// Source is a tagged variant distinguishing the two event producers. Only
// the fields matching Kind are meaningful.
type Source struct {
	Kind SourceKind

	// Journal-only fields.
	Record        JournalRecord
	Callback      AckFunc
	CallbackParam any
}

// StageID names one stage in the fixed pipeline order. Values are ordered:
// routing to a lower StageID than the operation's current stage is invalid
// (no back-edges).
type StageID int

const (
	StageGetID StageID = iota
	StageGetInfoDB
	StageGetInfoFS
	StageReporting
	StageDbApply
	StageJournalAck
	StageScanSweep
	// StageComplete is returned by JOURNAL_ACK to signal that an
	// operation has finished the pipeline; it is never a pool key, so
	// the scheduler's routing table treats it (like StageReporting and
	// StageScanSweep) as a release rather than a re-queue.
	StageComplete
	stageCount
)

func (s StageID) String() string {
	switch s {
	case StageGetID:
		return "GET_ID"
	case StageGetInfoDB:
		return "GET_INFO_DB"
	case StageGetInfoFS:
		return "GET_INFO_FS"
	case StageReporting:
		return "REPORTING"
	case StageDbApply:
		return "DB_APPLY"
	case StageJournalAck:
		return "JOURNAL_ACK"
	case StageScanSweep:
		return "SCAN_SWEEP"
	case StageComplete:
		return "COMPLETE"
	default:
		return "UNKNOWN"
	}
}

// PolicyMatch is the outcome of evaluating purge/migration class predicates
// against an entry, attached by GET_INFO_FS when class matching is enabled.
type PolicyMatch struct {
	Evaluated    bool
	ReleaseClass string
	ArchiveClass string
}

// Operation is the unit that flows through the pipeline: one file event,
// from ingress to terminal acknowledgement.
type Operation struct {
	EntryId      EntryId
	EntryIdIsSet bool

	EntryAttr EntryAttributes
	AttrMask  AttrMask
	AttrIsSet bool

	ExtraInfoIsSet bool
	Plan           FetchPlan

	Source Source

	DbOp     DbOp
	DbExists Tri

	// RemovalDeadline is the deferred-removal deadline GET_INFO_DB sets
	// for a SOFT_REMOVE (record.time plus the configured removal delay)
	// and DB_APPLY passes to the catalog.
	RemovalDeadline time.Time

	CurrentStage StageID

	PolicyResult PolicyMatch
}

// IsJournal reports whether this operation originated from the journal.
func (op *Operation) IsJournal() bool { return op.Source.Kind == SourceJournal }

// MergeAttrs copies every field named in src's mask from src into dst,
// setting the corresponding bits in dst's mask. This is the merge step
// GET_INFO_DB performs after a catalog hit, and the catalog's Update
// performs when writing a row.
func MergeAttrs(dst *EntryAttributes, dstMask AttrMask, src EntryAttributes, srcMask AttrMask) AttrMask {
	result := dstMask
	for f := AttrField(0); f < attrFieldCount; f++ {
		if !srcMask.Test(f) {
			continue
		}
		copyAttrField(dst, src, f)
		result = result.Set(f)
	}
	return result
}

func copyAttrField(dst *EntryAttributes, src EntryAttributes, f AttrField) {
	switch f {
	case AttrFullPath:
		dst.FullPath = src.FullPath
	case AttrName:
		dst.Name = src.Name
	case AttrCreationTime:
		dst.CreationTime = src.CreationTime
	case AttrMdUpdate:
		dst.MdUpdate = src.MdUpdate
	case AttrPathUpdate:
		dst.PathUpdate = src.PathUpdate
	case AttrStatus:
		dst.Status = src.Status
	case AttrNoRelease:
		dst.NoRelease = src.NoRelease
	case AttrNoArchive:
		dst.NoArchive = src.NoArchive
	case AttrLastArchive:
		dst.LastArchive = src.LastArchive
	case AttrLastRestore:
		dst.LastRestore = src.LastRestore
	case AttrStripeInfo:
		dst.StripeInfo = src.StripeInfo
	case AttrStripeItems:
		dst.StripeItems = src.StripeItems
	case AttrReleaseClass:
		dst.ReleaseClass = src.ReleaseClass
	case AttrArchiveClass:
		dst.ArchiveClass = src.ArchiveClass
	case AttrRelClUpdate:
		dst.RelClUpdate = src.RelClUpdate
	case AttrArchClUpdate:
		dst.ArchClUpdate = src.ArchClUpdate
	case AttrLastOpIndex:
		dst.LastOpIndex = src.LastOpIndex
	}
}

func formatEntryId(id uint64) string {
	const hexDigits = "0123456789abcdef"
	if id == 0 {
		return "0x0"
	}
	buf := make([]byte, 0, 18)
	buf = append(buf, '0', 'x')
	started := false
	for shift := 60; shift >= 0; shift -= 4 {
		nibble := (id >> uint(shift)) & 0xf
		if nibble != 0 {
			started = true
		}
		if started {
			buf = append(buf, hexDigits[nibble])
		}
	}
	return string(buf)
}

// CircuitBreakerState mirrors pkg/circuit's state machine; kept here so
// pkg/circuit stays a generic, domain-agnostic package.
type CircuitBreakerState int

const (
	CircuitBreakerClosed CircuitBreakerState = iota
	CircuitBreakerOpen
	CircuitBreakerHalfOpen
)

func (s CircuitBreakerState) String() string {
	switch s {
	case CircuitBreakerOpen:
		return "open"
	case CircuitBreakerHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// CircuitBreakerStats is a snapshot of a breaker's counters.
type CircuitBreakerStats struct {
	State         CircuitBreakerState
	Failures      int64
	Successes     int64
	Requests      int64
	LastFailure   time.Time
	LastSuccess   time.Time
	NextRetryTime time.Time
}
