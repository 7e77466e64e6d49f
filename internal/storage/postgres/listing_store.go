package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/activity-harvester/internal/harvest"
)

const listingSchema = `
CREATE TABLE IF NOT EXISTS %s (
	seller_identifier BIGINT NOT NULL,
	item_name         TEXT NOT NULL,
	unit_price        BIGINT NOT NULL,
	quantity          BIGINT NOT NULL,
	recorded_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

type batchSender interface {
	SendBatch(context.Context, *pgx.Batch) pgx.BatchResults
}

// ListingStore appends bazaar listings to a table in one batch per seller.
type ListingStore struct {
	pool  pool
	table string
}

// NewListingStore wraps p; table defaults to "listings".
func NewListingStore(p pool, table string) (*ListingStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "listings"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &ListingStore{pool: p, table: table}, nil
}

// EnsureSchema creates the listing table when missing.
func (s *ListingStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, fmt.Sprintf(listingSchema, s.table)); err != nil {
		return fmt.Errorf("create listing schema: %w", err)
	}
	return nil
}

// AppendListings implements harvest.RecordSink.
func (s *ListingStore) AppendListings(ctx context.Context, sellerID int64, listings []harvest.Listing) error {
	if len(listings) == 0 {
		return nil
	}
	query := fmt.Sprintf(
		`INSERT INTO %s (seller_identifier, item_name, unit_price, quantity) VALUES ($1, $2, $3, $4);`,
		s.table,
	)
	sender, ok := s.pool.(batchSender)
	if !ok {
		for _, l := range listings {
			if _, err := s.pool.Exec(ctx, query, sellerID, l.ItemName, l.UnitPrice, l.Quantity); err != nil {
				return fmt.Errorf("insert listing for %d: %w", sellerID, err)
			}
		}
		return nil
	}

	batch := &pgx.Batch{}
	for _, l := range listings {
		batch.Queue(query, sellerID, l.ItemName, l.UnitPrice, l.Quantity)
	}
	results := sender.SendBatch(ctx, batch)
	for range listings {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return fmt.Errorf("insert listing for %d: %w", sellerID, err)
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("close listing batch for %d: %w", sellerID, err)
	}
	return nil
}
