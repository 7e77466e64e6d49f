package csvfile

import (
	"context"
	"strconv"

	"github.com/JakeFAU/activity-harvester/internal/harvest"
)

var listingHeader = []string{"seller_identifier", "item_name", "unit_price", "quantity"}

// ListingWriter appends bazaar listings to a CSV file.
type ListingWriter struct {
	out *appender
}

// NewListingWriter writes to path, creating it with a header when needed.
func NewListingWriter(path string, fsync bool) *ListingWriter {
	return &ListingWriter{out: newAppender(path, listingHeader, fsync)}
}

// Path returns the output file.
func (w *ListingWriter) Path() string {
	return w.out.path
}

// AppendListings implements harvest.RecordSink. All rows for one seller are
// flushed together.
func (w *ListingWriter) AppendListings(_ context.Context, sellerID int64, listings []harvest.Listing) error {
	if len(listings) == 0 {
		return nil
	}
	seller := strconv.FormatInt(sellerID, 10)
	rows := make([][]string, 0, len(listings))
	for _, l := range listings {
		rows = append(rows, []string{
			seller,
			l.ItemName,
			strconv.FormatInt(l.UnitPrice, 10),
			strconv.FormatInt(l.Quantity, 10),
		})
	}
	return w.out.write(rows...)
}

// Close flushes and closes the file.
func (w *ListingWriter) Close() error {
	return w.out.close()
}
