// Package catalog implements the pipeline's queryable store against an
// embedded bbolt database: one ordered key/value bucket keyed by EntryId
// for entry rows, and a second small bucket for named scalar variables
// (LastScan and friends).
package catalog

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"entryproc/internal/metrics"
	"entryproc/pkg/types"
)

// instrument times op and records it (plus any error) to the catalog
// operation metrics, returning err unchanged so call sites can still
// `return instrument(...)`.
func instrument(op string, start time.Time, err error) error {
	metrics.RecordCatalogOp(op, time.Since(start), err)
	return err
}

var (
	entriesBucket = []byte("entries")
	varsBucket    = []byte("vars")
)

// Catalog is a bbolt-backed types.Catalog implementation.
type Catalog struct {
	db *bbolt.DB
}

// Open opens (creating if necessary) a bbolt database at path and ensures
// its buckets exist.
func Open(path string, timeout time.Duration) (*Catalog, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("catalog: open %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(entriesBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(varsBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("catalog: init buckets: %w", err)
	}

	return &Catalog{db: db}, nil
}

func (c *Catalog) Close() error { return c.db.Close() }

// row is the on-disk representation of one entry; fields track
// types.EntryAttributes/AttrMask directly so Get/Insert/Update round-trip
// without lossy conversion.
type row struct {
	Mask            types.AttrMask  `json:"mask"`
	FullPath        string          `json:"full_path,omitempty"`
	Name            string          `json:"name,omitempty"`
	CreationTime    time.Time       `json:"creation_time,omitempty"`
	MdUpdate        time.Time       `json:"md_update,omitempty"`
	PathUpdate      time.Time       `json:"path_update,omitempty"`
	Status          types.HSMStatus `json:"status,omitempty"`
	NoRelease       bool            `json:"no_release,omitempty"`
	NoArchive       bool            `json:"no_archive,omitempty"`
	LastArchive     time.Time       `json:"last_archive,omitempty"`
	LastRestore     time.Time       `json:"last_restore,omitempty"`
	StripeCount     int             `json:"stripe_count,omitempty"`
	StripeSize      int64           `json:"stripe_size,omitempty"`
	StripeItems     []string        `json:"stripe_items,omitempty"`
	ReleaseClass    string          `json:"release_class,omitempty"`
	ArchiveClass    string          `json:"archive_class,omitempty"`
	RelClUpdate     time.Time       `json:"rel_cl_update,omitempty"`
	ArchClUpdate    time.Time       `json:"arch_cl_update,omitempty"`
	LastOpIndex     uint64          `json:"last_op_index,omitempty"`
	Removed         bool            `json:"removed,omitempty"`
	RemovalPath     string          `json:"removal_path,omitempty"`
	RemovalDeadline time.Time       `json:"removal_deadline,omitempty"`
}

func toRow(attrs types.EntryAttributes, mask types.AttrMask) row {
	return row{
		Mask:         mask,
		FullPath:     attrs.FullPath,
		Name:         attrs.Name,
		CreationTime: attrs.CreationTime,
		MdUpdate:     attrs.MdUpdate,
		PathUpdate:   attrs.PathUpdate,
		Status:       attrs.Status,
		NoRelease:    attrs.NoRelease,
		NoArchive:    attrs.NoArchive,
		LastArchive:  attrs.LastArchive,
		LastRestore:  attrs.LastRestore,
		StripeCount:  attrs.StripeInfo.StripeCount,
		StripeSize:   attrs.StripeInfo.StripeSize,
		StripeItems:  attrs.StripeItems,
		ReleaseClass: attrs.ReleaseClass,
		ArchiveClass: attrs.ArchiveClass,
		RelClUpdate:  attrs.RelClUpdate,
		ArchClUpdate: attrs.ArchClUpdate,
		LastOpIndex:  attrs.LastOpIndex,
	}
}

func (r row) toAttrs() types.EntryAttributes {
	return types.EntryAttributes{
		FullPath:     r.FullPath,
		Name:         r.Name,
		CreationTime: r.CreationTime,
		MdUpdate:     r.MdUpdate,
		PathUpdate:   r.PathUpdate,
		Status:       r.Status,
		NoRelease:    r.NoRelease,
		NoArchive:    r.NoArchive,
		LastArchive:  r.LastArchive,
		LastRestore:  r.LastRestore,
		StripeInfo:   types.StripeInfo{StripeCount: r.StripeCount, StripeSize: r.StripeSize},
		StripeItems:  r.StripeItems,
		ReleaseClass: r.ReleaseClass,
		ArchiveClass: r.ArchiveClass,
		RelClUpdate:  r.RelClUpdate,
		ArchClUpdate: r.ArchClUpdate,
		LastOpIndex:  r.LastOpIndex,
	}
}

func idKey(id types.EntryId) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(id))
	return b[:]
}

func (c *Catalog) Get(_ context.Context, id types.EntryId) (types.EntryAttributes, types.AttrMask, bool, error) {
	start := time.Now()
	var r row
	var found bool
	err := c.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(entriesBucket).Get(idKey(id))
		if v == nil {
			return nil
		}
		found = true
		return json.Unmarshal(v, &r)
	})
	if err != nil {
		_ = instrument("get", start, err)
		return types.EntryAttributes{}, 0, false, fmt.Errorf("catalog: get %s: %w", id, err)
	}
	_ = instrument("get", start, nil)
	if !found || r.Removed {
		return types.EntryAttributes{}, 0, false, nil
	}
	return r.toAttrs(), r.Mask, true, nil
}

func (c *Catalog) CheckStripe(ctx context.Context, id types.EntryId) (bool, error) {
	_, mask, exists, err := c.Get(ctx, id)
	if err != nil || !exists {
		return false, err
	}
	return mask.Test(types.AttrStripeInfo), nil
}

func (c *Catalog) Insert(_ context.Context, id types.EntryId, attrs types.EntryAttributes, mask types.AttrMask) error {
	start := time.Now()
	r := toRow(attrs, mask)
	buf, err := json.Marshal(r)
	if err != nil {
		return instrument("insert", start, fmt.Errorf("catalog: encode %s: %w", id, err))
	}
	return instrument("insert", start, c.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(entriesBucket).Put(idKey(id), buf)
	}))
}

func (c *Catalog) Update(_ context.Context, id types.EntryId, attrs types.EntryAttributes, mask types.AttrMask) error {
	start := time.Now()
	return instrument("update", start, c.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(entriesBucket)
		key := idKey(id)

		var existing row
		if v := b.Get(key); v != nil {
			if err := json.Unmarshal(v, &existing); err != nil {
				return fmt.Errorf("catalog: decode %s: %w", id, err)
			}
		}
		existingAttrs := existing.toAttrs()
		newMask := types.MergeAttrs(&existingAttrs, existing.Mask, attrs, mask)
		existing.Removed = false

		merged := toRow(existingAttrs, newMask)
		buf, err := json.Marshal(merged)
		if err != nil {
			return fmt.Errorf("catalog: encode %s: %w", id, err)
		}
		return b.Put(key, buf)
	}))
}

func (c *Catalog) Remove(_ context.Context, id types.EntryId) error {
	start := time.Now()
	return instrument("remove", start, c.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(entriesBucket).Delete(idKey(id))
	}))
}

// SoftRemove moves id's row to the deferred-removal queue: it stays in
// the entries bucket, marked Removed, carrying the path known at removal
// time and the deadline a later backend cleanup pass must honor.
func (c *Catalog) SoftRemove(_ context.Context, id types.EntryId, path string, deadline time.Time) error {
	start := time.Now()
	return instrument("soft_remove", start, c.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(entriesBucket)
		key := idKey(id)
		v := b.Get(key)
		var r row
		if v != nil {
			if err := json.Unmarshal(v, &r); err != nil {
				return fmt.Errorf("catalog: decode %s: %w", id, err)
			}
		}
		r.Removed = true
		if path != "" {
			r.FullPath = path
		}
		r.RemovalPath = path
		r.RemovalDeadline = deadline
		buf, err := json.Marshal(r)
		if err != nil {
			return err
		}
		return b.Put(key, buf)
	}))
}

// MassSoftRemove scans every row, marking (and counting) those whose
// MdUpdate predates before as removed. This is a full-bucket scan rather
// than a secondary sorted index: at the scale a single-host catalog
// reference implementation targets, that trade simplicity for the extra
// index-maintenance bbolt would otherwise need on every Update.
func (c *Catalog) MassSoftRemove(_ context.Context, before time.Time) (int, error) {
	start := time.Now()
	removed := 0
	err := c.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(entriesBucket)
		return b.ForEach(func(k, v []byte) error {
			var r row
			if err := json.Unmarshal(v, &r); err != nil {
				return fmt.Errorf("catalog: decode during mass removal: %w", err)
			}
			if r.Removed || !r.MdUpdate.Before(before) {
				return nil
			}
			r.Removed = true
			buf, err := json.Marshal(r)
			if err != nil {
				return err
			}
			removed++
			return b.Put(k, buf)
		})
	})
	return removed, instrument("mass_soft_remove", start, err)
}

func (c *Catalog) SetVar(_ context.Context, name string, value string) error {
	return c.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(varsBucket).Put([]byte(name), []byte(value))
	})
}

func (c *Catalog) GetVar(_ context.Context, name string) (string, bool, error) {
	var value string
	var ok bool
	err := c.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(varsBucket).Get([]byte(name))
		if v == nil {
			return nil
		}
		ok = true
		value = string(v)
		return nil
	})
	return value, ok, err
}

// ForceCommit toggles bbolt's fsync-per-commit behavior: enabled means
// every write is durable before it returns (used around SCAN_SWEEP's
// mass-removal pass), disabled allows bbolt to batch commits for
// throughput during steady-state per-operation writes.
func (c *Catalog) ForceCommit(_ context.Context, enabled bool) error {
	c.db.NoSync = !enabled
	return nil
}
