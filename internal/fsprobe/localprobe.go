// Package fsprobe is the reference types.FSProbe: a single local
// filesystem backend, queried directly through os/syscall rather than a
// remote metadata service. It is the "concrete, swappable adapter behind
// a narrow interface" role the teacher's monitors fill for log sources,
// applied to filesystem entries instead.
package fsprobe

import (
	"context"
	"encoding/binary"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/cespare/xxhash/v2"

	"entryproc/pkg/types"
	"entryproc/pkg/xerrors"
)

// Local implements types.FSProbe against the machine's own filesystem. It
// keeps an in-memory id-to-path cache since a bare inode number can't be
// reversed back into a path: every successful PathToID call populates the
// cache, as does every RegisterPath call.
type Local struct {
	mu    sync.RWMutex
	paths map[types.EntryId]string

	// modifiedWindow is how soon after creation an mtime still counts as
	// "just created" rather than "modified" for GetHSMStatus's heuristic.
	modifiedWindow time.Duration
}

func New() *Local {
	return &Local{
		paths:          make(map[types.EntryId]string),
		modifiedWindow: time.Second,
	}
}

// RegisterPath seeds the id-to-path cache directly, for callers that
// already know the mapping (the app's journal ingress registers a
// record's name under its resolved id) and shouldn't have to pay for a
// redundant PathToID lookup.
func (l *Local) RegisterPath(id types.EntryId, path string) {
	l.mu.Lock()
	l.paths[id] = path
	l.mu.Unlock()
}

func (l *Local) PathToID(_ context.Context, path string) (types.EntryId, error) {
	var st syscall.Stat_t
	if err := syscall.Lstat(path, &st); err != nil {
		return 0, probeErr("PathToID", path, err)
	}
	id := idFor(uint64(st.Dev), st.Ino)
	l.RegisterPath(id, path)
	return id, nil
}

func (l *Local) IDToPath(_ context.Context, id types.EntryId) (string, error) {
	l.mu.RLock()
	path, ok := l.paths[id]
	l.mu.RUnlock()
	if !ok {
		return "", xerrors.Missing("fsprobe", "IDToPath", "no known path for entry id")
	}
	return path, nil
}

func (l *Local) Lstat(_ context.Context, _ types.EntryId, path string) (types.StatInfo, error) {
	var st syscall.Stat_t
	if err := syscall.Lstat(path, &st); err != nil {
		return types.StatInfo{}, probeErr("Lstat", path, err)
	}
	mode := os.FileMode(st.Mode)
	return types.StatInfo{
		IsRegularFile: mode.IsRegular(),
		MdUpdate:      time.Unix(st.Mtim.Sec, st.Mtim.Nsec),
		CreationTime:  time.Unix(st.Ctim.Sec, st.Ctim.Nsec),
	}, nil
}

// GetStripe reports a synthetic single-stripe layout sized to the file
// itself. There is no real striping filesystem underneath a local probe;
// this exists so FetchPlan.NeedStripe has something meaningful to fill in
// rather than leaving the field permanently unknown.
func (l *Local) GetStripe(_ context.Context, _ types.EntryId, path string) (types.StripeInfo, []string, error) {
	var st syscall.Stat_t
	if err := syscall.Lstat(path, &st); err != nil {
		return types.StripeInfo{}, nil, probeErr("GetStripe", path, err)
	}
	return types.StripeInfo{StripeCount: 1, StripeSize: st.Size}, []string{path}, nil
}

// GetHSMStatus has no backing HSM on a plain local filesystem, so it
// derives a status from the gap between ctime and mtime: a file touched
// only at creation is New, one touched again afterward is Modified. This
// is a heuristic stand-in, not a real archive/release oracle.
func (l *Local) GetHSMStatus(_ context.Context, _ types.EntryId, path string) (types.HSMStatus, error) {
	var st syscall.Stat_t
	if err := syscall.Lstat(path, &st); err != nil {
		return types.StatusUnknown, probeErr("GetHSMStatus", path, err)
	}
	ctime := time.Unix(st.Ctim.Sec, st.Ctim.Nsec)
	mtime := time.Unix(st.Mtim.Sec, st.Mtim.Nsec)
	if mtime.After(ctime.Add(l.modifiedWindow)) {
		return types.StatusModified, nil
	}
	return types.StatusNew, nil
}

func idFor(dev, ino uint64) types.EntryId {
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], dev)
	binary.BigEndian.PutUint64(buf[8:], ino)
	return types.EntryId(xxhash.Sum64(buf[:]))
}

func probeErr(op, path string, cause error) error {
	if os.IsNotExist(cause) || cause == syscall.ESTALE {
		return xerrors.Missing("fsprobe", op, path).Wrap(cause)
	}
	return xerrors.Transient("fsprobe", op, path).Wrap(cause)
}
