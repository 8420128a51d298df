package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/renameio/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"market-feed/internal/domain"
	"market-feed/pkg/utils"
)

// fileMode is the listing file's permission before the umask.
const fileMode = 0o644

// errDirSync marks a failure after the new file is already in place.
var errDirSync = errors.New("failed to sync data directory")

// syncDir is replaced in tests.
var syncDir = func(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}

// fileListingRepository keeps every listing in one JSON array file. Each
// commit rewrites the whole file through a synced temp file and an atomic
// rename; the in-memory copy readers use is swapped only afterwards.
type fileListingRepository struct {
	path   string
	slot   writeSlot
	opts   options
	tracer trace.Tracer

	mu       sync.RWMutex
	listings []*domain.Listing // commit order, oldest first
	closed   bool

	// guarded by slot
	ids  map[string]struct{}
	last time.Time
}

// NewFileListingRepository opens the store at path, creating an empty file
// if none exists.
func NewFileListingRepository(path string, opts ...Option) (ListingRepository, error) {
	r := &fileListingRepository{
		path:   path,
		slot:   newWriteSlot(),
		opts:   newOptions(opts),
		tracer: otel.Tracer("market-feed/repository"),
		ids:    make(map[string]struct{}),
	}

	listings, err := r.load()
	if err != nil {
		return nil, err
	}

	for _, l := range listings {
		if _, dup := r.ids[l.ID]; dup {
			return nil, fmt.Errorf("listing file %s: duplicate id %q", path, l.ID)
		}
		r.ids[l.ID] = struct{}{}
		if l.CreatedAt.After(r.last) {
			r.last = l.CreatedAt
		}
	}
	r.listings = listings

	return r, nil
}

func (r *fileListingRepository) load() ([]*domain.Listing, error) {
	data, err := os.ReadFile(r.path)
	if errors.Is(err, fs.ErrNotExist) {
		if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		if err := writeFileAtomic(r.path, []byte("[]")); err != nil && !errors.Is(err, errDirSync) {
			return nil, err
		}
		return []*domain.Listing{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read listing file: %w", err)
	}

	var listings []*domain.Listing
	if err := json.Unmarshal(data, &listings); err != nil {
		return nil, fmt.Errorf("failed to decode listing file %s: %w", r.path, err)
	}
	if listings == nil {
		listings = []*domain.Listing{}
	}
	return listings, nil
}

func (r *fileListingRepository) Append(ctx context.Context, candidate domain.Candidate) (*domain.Listing, error) {
	ctx, span := r.tracer.Start(ctx, "Repository Append")
	defer span.End()

	startTime := time.Now()
	status := "success"

	defer func() {
		r.opts.metrics.ObserveQuery("Append", status, startTime)
	}()

	if err := r.slot.acquire(ctx); err != nil {
		status = "cancelled"
		return nil, err
	}
	defer r.slot.release()

	r.mu.RLock()
	closed, current := r.closed, r.listings
	r.mu.RUnlock()

	if closed {
		status = "error"
		return nil, ErrClosed
	}

	id := r.opts.newID()
	for _, taken := r.ids[id]; taken; _, taken = r.ids[id] {
		id = r.opts.newID()
	}
	listing := candidate.Commit(id, r.opts.commitTime(r.last))

	next := make([]*domain.Listing, len(current), len(current)+1)
	copy(next, current)
	next = append(next, listing)

	data, err := json.MarshalIndent(next, "", "  ")
	if err != nil {
		status = "error"
		span.RecordError(err)
		return nil, fmt.Errorf("failed to encode listings: %w", err)
	}

	switch err := writeFileAtomic(r.path, data); {
	case errors.Is(err, errDirSync):
		// The rename happened, so readers of the file already see the
		// listing; only its survival across a power loss is unconfirmed.
		status = "unsynced"
		span.RecordError(err)
		if r.opts.logger != nil {
			r.opts.logger.Warn("Listing committed without a directory sync",
				"listing_id", listing.ID, utils.Err(err))
		}
	case err != nil:
		status = "error"
		span.RecordError(err)
		return nil, err
	}

	r.mu.Lock()
	r.listings = next
	r.mu.Unlock()

	r.ids[id] = struct{}{}
	r.last = listing.CreatedAt

	span.SetAttributes(
		attribute.String("listing.id", listing.ID),
		attribute.Int("listings.count", len(next)),
	)

	return listing.Clone(), nil
}

func (r *fileListingRepository) Recent(ctx context.Context, limit int) ([]*domain.Listing, error) {
	_, span := r.tracer.Start(ctx, "Repository Recent")
	defer span.End()

	startTime := time.Now()
	status := "success"

	defer func() {
		r.opts.metrics.ObserveQuery("Recent", status, startTime)
	}()

	span.SetAttributes(attribute.Int("listings.limit", limit))

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		status = "error"
		return nil, ErrClosed
	}

	if limit <= 0 {
		return []*domain.Listing{}, nil
	}

	n := min(limit, len(r.listings))
	out := make([]*domain.Listing, 0, n)
	for i := len(r.listings) - 1; i >= len(r.listings)-n; i-- {
		out = append(out, r.listings[i].Clone())
	}
	return out, nil
}

// Close waits for an in-flight commit to finish.
func (r *fileListingRepository) Close() error {
	_ = r.slot.acquire(context.Background())
	defer r.slot.release()

	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return nil
}

// writeFileAtomic replaces path with data through a synced temp file in the
// same directory, then syncs the directory so the rename itself is durable.
// An error wrapping errDirSync means the new content is already in place.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)

	if err := renameio.WriteFile(path, data, fileMode, renameio.WithTempDir(dir)); err != nil {
		return fmt.Errorf("failed to replace listing file: %w", err)
	}

	if err := syncDir(dir); err != nil {
		return fmt.Errorf("%w: %w", errDirSync, err)
	}
	return nil
}
