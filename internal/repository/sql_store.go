package repository

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"market-feed/internal/domain"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migrate creates the listings table for the connection's driver if it does
// not exist yet.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	schema, err := migrationFiles.ReadFile("migrations/" + db.DriverName() + ".sql")
	if err != nil {
		return fmt.Errorf("no schema for driver %q: %w", db.DriverName(), err)
	}

	for _, stmt := range strings.Split(string(schema), ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

type listingRow struct {
	ID          string         `db:"id"`
	Title       string         `db:"title"`
	Description string         `db:"description"`
	PriceCents  int64          `db:"price_cents"`
	Category    sql.NullString `db:"category"`
	ImageURL    sql.NullString `db:"image_url"`
	Images      string         `db:"images"`
	Attributes  string         `db:"attributes"`
	CreatedAt   int64          `db:"created_at"`
}

const (
	lastCreatedAtQuery = `SELECT COALESCE(MAX(created_at), 0) FROM listings`

	insertListingQuery = `
		INSERT INTO listings (id, title, description, price_cents, category, image_url, images, attributes, created_at)
		VALUES (:id, :title, :description, :price_cents, :category, :image_url, :images, :attributes, :created_at)`

	recentListingsQuery = `
		SELECT id, title, description, price_cents, category, image_url, images, attributes, created_at
		FROM listings
		ORDER BY created_at DESC, seq DESC
		LIMIT ?`
)

type sqlListingRepository struct {
	db     *sqlx.DB
	slot   writeSlot
	opts   options
	tracer trace.Tracer
	closed bool // guarded by slot
}

// NewSQLListingRepository stores listings in a relational table; the schema
// must already exist (see Migrate). The caller owns db.
func NewSQLListingRepository(db *sqlx.DB, opts ...Option) ListingRepository {
	return &sqlListingRepository{
		db:     db,
		slot:   newWriteSlot(),
		opts:   newOptions(opts),
		tracer: otel.Tracer("market-feed/repository"),
	}
}

func (r *sqlListingRepository) Append(ctx context.Context, candidate domain.Candidate) (_ *domain.Listing, err error) {
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

	if r.closed {
		status = "error"
		return nil, ErrClosed
	}

	// From here the commit runs to completion even if the caller goes away.
	commitCtx := context.WithoutCancel(ctx)

	tx, err := r.db.BeginTxx(commitCtx, nil)
	if err != nil {
		status = "error"
		span.RecordError(err)
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var lastMicros int64
	if err = tx.GetContext(commitCtx, &lastMicros, lastCreatedAtQuery); err != nil {
		status = "error"
		span.RecordError(err)
		return nil, fmt.Errorf("failed to read last commit time: %w", err)
	}

	listing := candidate.Commit(r.opts.newID(), r.opts.commitTime(time.UnixMicro(lastMicros).UTC()))

	row, err := toRow(listing)
	if err != nil {
		status = "error"
		return nil, err
	}

	if _, err = tx.NamedExecContext(commitCtx, insertListingQuery, row); err != nil {
		status = "error"
		span.RecordError(err)
		return nil, fmt.Errorf("failed to insert listing: %w", err)
	}

	if err = tx.Commit(); err != nil {
		status = "error"
		span.RecordError(err)
		return nil, fmt.Errorf("failed to commit listing: %w", err)
	}

	span.SetAttributes(attribute.String("listing.id", listing.ID))
	return listing, nil
}

func (r *sqlListingRepository) Recent(ctx context.Context, limit int) ([]*domain.Listing, error) {
	ctx, span := r.tracer.Start(ctx, "Repository Recent")
	defer span.End()

	startTime := time.Now()
	status := "success"

	defer func() {
		r.opts.metrics.ObserveQuery("Recent", status, startTime)
	}()

	span.SetAttributes(attribute.Int("listings.limit", limit))

	if limit <= 0 {
		return []*domain.Listing{}, nil
	}

	var rows []listingRow
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(recentListingsQuery), limit); err != nil {
		status = "error"
		span.RecordError(err)
		return nil, fmt.Errorf("failed to retrieve listings: %w", err)
	}

	listings := make([]*domain.Listing, 0, len(rows))
	for _, row := range rows {
		l, err := row.toListing()
		if err != nil {
			status = "error"
			span.RecordError(err)
			return nil, err
		}
		listings = append(listings, l)
	}
	return listings, nil
}

// Close stops accepting appends. The database handle stays open.
func (r *sqlListingRepository) Close() error {
	_ = r.slot.acquire(context.Background())
	defer r.slot.release()

	r.closed = true
	return nil
}

func toRow(l *domain.Listing) (listingRow, error) {
	images, err := json.Marshal(l.Images)
	if err != nil {
		return listingRow{}, fmt.Errorf("failed to encode images: %w", err)
	}
	attributes, err := json.Marshal(l.Attributes)
	if err != nil {
		return listingRow{}, fmt.Errorf("failed to encode attributes: %w", err)
	}

	return listingRow{
		ID:          l.ID,
		Title:       l.Title,
		Description: l.Description,
		PriceCents:  l.Price.Cents(),
		Category:    nullString(l.Category),
		ImageURL:    nullString(l.ImageURL),
		Images:      string(images),
		Attributes:  string(attributes),
		CreatedAt:   l.CreatedAt.UnixMicro(),
	}, nil
}

func (row listingRow) toListing() (*domain.Listing, error) {
	l := &domain.Listing{
		ID:          row.ID,
		Title:       row.Title,
		Description: row.Description,
		Price:       domain.Price(row.PriceCents),
		Category:    stringPtr(row.Category),
		ImageURL:    stringPtr(row.ImageURL),
		CreatedAt:   time.UnixMicro(row.CreatedAt).UTC(),
	}

	if err := json.Unmarshal([]byte(row.Images), &l.Images); err != nil {
		return nil, fmt.Errorf("failed to decode images of listing %s: %w", row.ID, err)
	}
	if l.Images == nil {
		l.Images = []domain.Media{}
	}
	if err := json.Unmarshal([]byte(row.Attributes), &l.Attributes); err != nil {
		return nil, fmt.Errorf("failed to decode attributes of listing %s: %w", row.ID, err)
	}
	return l, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
