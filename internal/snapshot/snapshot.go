// Package snapshot exports whole-store dumps to an archive and restores them.
// Archived snapshots are named snapshots/<uuidv7>.<codec>, so listing them in
// key order is listing them in creation order.
package snapshot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"kvorm/internal/infra/archive/core"
	"kvorm/pkg/kv"
)

// Prefix is the archive key prefix of every snapshot.
const Prefix = "snapshots/"

// Metadata keys attached to archived snapshots.
const (
	MetaCodec   = "codec"
	MetaKeys    = "keys"
	MetaCreated = "created"
)

// Snapshot errors.
var (
	ErrUnknownCodec = errors.New("snapshot: unknown codec")
	ErrNotSnapshot  = errors.New("snapshot: not a snapshot key")
)

// Exporter writes snapshots of a store to an archive.
type Exporter struct {
	archive core.Archive
	codec   Codec
	now     func() time.Time
	newID   func() (uuid.UUID, error)
}

// Option configures an Exporter.
type Option func(*Exporter)

// WithCodec selects the encoding; JSON is the default.
func WithCodec(c Codec) Option {
	return func(e *Exporter) {
		if c != nil {
			e.codec = c
		}
	}
}

// NewExporter returns an exporter writing to archive.
func NewExporter(archive core.Archive, opts ...Option) *Exporter {
	e := &Exporter{archive: archive, codec: JSON, now: time.Now, newID: uuid.NewV7}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Export dumps src and archives the encoded snapshot.
func (e *Exporter) Export(ctx context.Context, src kv.Dumper) (core.Info, error) {
	snap, err := src.Dump(ctx)
	if err != nil {
		return core.Info{}, fmt.Errorf("dump store: %w", err)
	}
	payload, err := e.codec.Marshal(snap)
	if err != nil {
		return core.Info{}, fmt.Errorf("encode snapshot: %w", err)
	}
	id, err := e.newID()
	if err != nil {
		return core.Info{}, fmt.Errorf("snapshot id: %w", err)
	}
	key := Prefix + id.String() + "." + e.codec.Name()
	return e.archive.Put(ctx, key, bytes.NewReader(payload), core.PutOptions{
		ContentType: e.codec.ContentType(),
		Metadata: map[string]string{
			MetaCodec:   e.codec.Name(),
			MetaKeys:    strconv.Itoa(snap.Len()),
			MetaCreated: e.now().UTC().Format(time.RFC3339),
		},
	})
}

// Read loads and decodes the snapshot stored under key. A bare name is
// resolved under Prefix.
func Read(ctx context.Context, archive core.Archive, key string) (kv.Snapshot, error) {
	if !strings.HasPrefix(key, Prefix) {
		key = Prefix + key
	}
	codec, err := codecForKey(key)
	if err != nil {
		return kv.Snapshot{}, fmt.Errorf("%s: %w", key, err)
	}
	_, rc, err := archive.Get(ctx, key)
	if err != nil {
		return kv.Snapshot{}, err
	}
	defer rc.Close()
	payload, err := io.ReadAll(rc)
	if err != nil {
		return kv.Snapshot{}, fmt.Errorf("read %s: %w", key, err)
	}
	var snap kv.Snapshot
	if err := codec.Unmarshal(payload, &snap); err != nil {
		return kv.Snapshot{}, fmt.Errorf("decode %s: %w", key, err)
	}
	return snap, nil
}

// Import replaces the contents of dst with the snapshot stored under key.
func Import(ctx context.Context, archive core.Archive, key string, dst kv.Dumper) (kv.Snapshot, error) {
	snap, err := Read(ctx, archive, key)
	if err != nil {
		return kv.Snapshot{}, err
	}
	if err := dst.Restore(ctx, snap); err != nil {
		return kv.Snapshot{}, fmt.Errorf("restore store: %w", err)
	}
	return snap, nil
}

// List returns the archived snapshots, oldest first.
func List(ctx context.Context, archive core.Archive) ([]core.Info, error) {
	infos, err := archive.List(ctx, Prefix)
	if err != nil {
		return nil, err
	}
	out := infos[:0]
	for _, info := range infos {
		if _, err := codecForKey(info.Key); err == nil {
			out = append(out, info)
		}
	}
	return out, nil
}

// ID extracts the snapshot identifier from an archive key.
func ID(key string) (uuid.UUID, error) {
	name, ok := strings.CutPrefix(key, Prefix)
	if !ok {
		return uuid.Nil, fmt.Errorf("%w: %s", ErrNotSnapshot, key)
	}
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		name = name[:i]
	}
	id, err := uuid.Parse(name)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %s", ErrNotSnapshot, key)
	}
	return id, nil
}
