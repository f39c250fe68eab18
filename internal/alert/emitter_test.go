package alert

import (
	"bufio"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"entryproc/pkg/types"
)

func discardLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func TestLocalFileEmitterAppendsOneLinePerAlert(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alerts.log")
	emitter, err := NewLocalFileEmitter(path)
	require.NoError(t, err)
	defer emitter.Close()

	require.NoError(t, emitter.Emit(context.Background(), types.Alert{EntryId: 1, Kind: "policy_match"}))
	require.NoError(t, emitter.Emit(context.Background(), types.Alert{EntryId: 2, Kind: "policy_match"}))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	lines := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines++
	}
	assert.Equal(t, 2, lines)
}

type stubEmitter struct {
	err   error
	calls int
}

func (s *stubEmitter) Emit(context.Context, types.Alert) error {
	s.calls++
	return s.err
}

func TestFallbackEmitterUsesPrimaryWhenItSucceeds(t *testing.T) {
	primary := &stubEmitter{}
	secondary := &stubEmitter{}
	e := NewFallbackEmitter(primary, secondary, discardLogger())

	require.NoError(t, e.Emit(context.Background(), types.Alert{EntryId: 1}))
	assert.Equal(t, 1, primary.calls)
	assert.Equal(t, 0, secondary.calls)
}

func TestFallbackEmitterFallsBackOnPrimaryFailure(t *testing.T) {
	primary := &stubEmitter{err: errors.New("broker down")}
	secondary := &stubEmitter{}
	e := NewFallbackEmitter(primary, secondary, discardLogger())

	require.NoError(t, e.Emit(context.Background(), types.Alert{EntryId: 1}))
	assert.Equal(t, 1, primary.calls)
	assert.Equal(t, 1, secondary.calls)
}
