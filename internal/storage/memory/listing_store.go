package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/activity-harvester/internal/harvest"
)

// ListingRow is one stored listing with its seller.
type ListingRow struct {
	SellerID int64
	harvest.Listing
}

// ListingStore collects listings in memory and implements harvest.RecordSink.
type ListingStore struct {
	mu   sync.RWMutex
	rows []ListingRow
	err  error
}

// NewListingStore constructs an empty ListingStore.
func NewListingStore() *ListingStore {
	return &ListingStore{}
}

// FailWith makes subsequent appends return err.
func (s *ListingStore) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// AppendListings implements harvest.RecordSink.
func (s *ListingStore) AppendListings(_ context.Context, sellerID int64, listings []harvest.Listing) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	for _, l := range listings {
		s.rows = append(s.rows, ListingRow{SellerID: sellerID, Listing: l})
	}
	return nil
}

// Rows returns a copy of everything stored.
func (s *ListingStore) Rows() []ListingRow {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ListingRow, len(s.rows))
	copy(out, s.rows)
	return out
}
