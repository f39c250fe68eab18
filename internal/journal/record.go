// Package journal provides change-journal sources that feed the
// pipeline's GET_ID stage: a Kafka consumer-group source for a
// centrally-brokered journal and a tailed-file source for a local one.
// The decoded record shape (types.JournalRecord) is deliberately
// disconnected from either wire format, per the "journal wire format is
// out of scope" boundary the data model itself documents.
package journal

import (
	"encoding/json"
	"fmt"
	"time"

	"entryproc/pkg/types"
)

// wireRecord is the on-the-wire shape both sources decode into before
// converting to types.JournalRecord. It is intentionally small and
// stringly-typed (RecordType as its String() name) so either adapter can
// produce it without needing a shared schema registry.
type wireRecord struct {
	Type            string `json:"type"`
	Time            string `json:"time"`
	Name            string `json:"name"`
	UnlinkLast      bool   `json:"unlink_last,omitempty"`
	UnlinkLastKnown bool   `json:"unlink_last_known,omitempty"`
}

// DecodeRecord parses one journal message body into a types.JournalRecord.
// Index and any source-specific sequencing are left to the caller, since
// only the source knows whether that comes from a broker offset or a
// local line counter.
func DecodeRecord(data []byte) (types.JournalRecord, error) {
	var w wireRecord
	if err := json.Unmarshal(data, &w); err != nil {
		return types.JournalRecord{}, fmt.Errorf("journal: decode record: %w", err)
	}

	rt, err := parseRecordType(w.Type)
	if err != nil {
		return types.JournalRecord{}, err
	}

	ts := time.Now()
	if w.Time != "" {
		parsed, err := time.Parse(time.RFC3339Nano, w.Time)
		if err != nil {
			return types.JournalRecord{}, fmt.Errorf("journal: decode record time: %w", err)
		}
		ts = parsed
	}

	return types.JournalRecord{
		Type:            rt,
		Time:            ts,
		NameLen:         len(w.Name),
		Name:            w.Name,
		UnlinkLast:      w.UnlinkLast,
		UnlinkLastKnown: w.UnlinkLastKnown,
	}, nil
}

func parseRecordType(s string) (types.RecordType, error) {
	switch s {
	case "CREATE":
		return types.RecordCreate, nil
	case "UNLINK":
		return types.RecordUnlink, nil
	case "RENAME_EXT":
		return types.RecordRenameExt, nil
	case "TRUNC":
		return types.RecordTrunc, nil
	case "SETATTR":
		return types.RecordSetAttr, nil
	case "TIME":
		return types.RecordTime, nil
	case "HSM":
		return types.RecordHSM, nil
	case "OTHER", "":
		return types.RecordOther, nil
	default:
		return 0, fmt.Errorf("journal: unknown record type %q", s)
	}
}
