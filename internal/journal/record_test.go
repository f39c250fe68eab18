package journal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"entryproc/pkg/types"
)

func TestDecodeRecordParsesKnownTypes(t *testing.T) {
	rec, err := DecodeRecord([]byte(`{"type":"CREATE","time":"2026-07-31T00:00:00Z","name":"a.txt"}`))
	require.NoError(t, err)
	assert.Equal(t, types.RecordCreate, rec.Type)
	assert.Equal(t, "a.txt", rec.Name)
	assert.Equal(t, len("a.txt"), rec.NameLen)
}

func TestDecodeRecordUnlinkFlags(t *testing.T) {
	rec, err := DecodeRecord([]byte(`{"type":"UNLINK","unlink_last":true,"unlink_last_known":true}`))
	require.NoError(t, err)
	assert.Equal(t, types.RecordUnlink, rec.Type)
	assert.True(t, rec.UnlinkLast)
	assert.True(t, rec.UnlinkLastKnown)
}

func TestDecodeRecordRejectsUnknownType(t *testing.T) {
	_, err := DecodeRecord([]byte(`{"type":"BOGUS"}`))
	require.Error(t, err)
}

func TestDecodeRecordRejectsMalformedJSON(t *testing.T) {
	_, err := DecodeRecord([]byte(`not json`))
	require.Error(t, err)
}

func TestDecodeRecordDefaultsMissingTimeToNow(t *testing.T) {
	rec, err := DecodeRecord([]byte(`{"type":"OTHER"}`))
	require.NoError(t, err)
	assert.False(t, rec.Time.IsZero())
}
