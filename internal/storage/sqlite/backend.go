// Package sqlite keeps classification state in a single SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/JakeFAU/activity-harvester/internal/harvest"
	"github.com/JakeFAU/activity-harvester/internal/state"
)

var validPrefix = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const schema = `
CREATE TABLE IF NOT EXISTS %[1]sactive (
	identifier INTEGER PRIMARY KEY,
	last_seen  INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS %[1]sblacklist (
	identifier INTEGER PRIMARY KEY
);
CREATE TABLE IF NOT EXISTS %[1]srecently_inactive (
	identifier INTEGER PRIMARY KEY
);
CREATE TABLE IF NOT EXISTS %[1]slistings (
	seller_identifier INTEGER NOT NULL,
	item_name         TEXT NOT NULL,
	unit_price        INTEGER NOT NULL,
	quantity          INTEGER NOT NULL
);
`

var _ state.Backend = (*Backend)(nil)

// Backend implements state.Backend and harvest.RecordSink on SQLite.
type Backend struct {
	db     *sql.DB
	prefix string
}

// Open opens (or creates) the database at path and applies the schema.
func Open(ctx context.Context, path, prefix string) (*Backend, error) {
	if prefix != "" && !validPrefix.MatchString(prefix) {
		return nil, fmt.Errorf("%w: invalid table prefix %q", harvest.ErrConfiguration, prefix)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// PRAGMAs are per connection.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=10000",
		"PRAGMA synchronous=FULL",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf(schema, prefix)); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &Backend{db: db, prefix: prefix}, nil
}

// Load reads the three sets.
func (b *Backend) Load(ctx context.Context) (state.Sets, error) {
	sets := state.NewSets()

	rows, err := b.db.QueryContext(ctx, fmt.Sprintf(`SELECT identifier, last_seen FROM %sactive`, b.prefix))
	if err != nil {
		return sets, fmt.Errorf("query active: %w", err)
	}
	for rows.Next() {
		var id, ts int64
		if err := rows.Scan(&id, &ts); err != nil {
			_ = rows.Close()
			return sets, fmt.Errorf("scan active row: %w", err)
		}
		sets.Active[id] = time.Unix(ts, 0).UTC()
	}
	if err := rows.Close(); err != nil {
		return sets, fmt.Errorf("close active rows: %w", err)
	}
	if err := rows.Err(); err != nil {
		return sets, fmt.Errorf("iterate active: %w", err)
	}

	if err := b.loadIDs(ctx, "blacklist", sets.Blacklisted); err != nil {
		return sets, err
	}
	if err := b.loadIDs(ctx, "recently_inactive", sets.RecentlyInactive); err != nil {
		return sets, err
	}
	return sets, nil
}

func (b *Backend) loadIDs(ctx context.Context, table string, into map[int64]struct{}) error {
	rows, err := b.db.QueryContext(ctx, fmt.Sprintf(`SELECT identifier FROM %s%s`, b.prefix, table))
	if err != nil {
		return fmt.Errorf("query %s: %w", table, err)
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return fmt.Errorf("scan %s row: %w", table, err)
		}
		into[id] = struct{}{}
	}
	return rows.Err()
}

// Append writes one classification in its own transaction.
func (b *Backend) Append(ctx context.Context, id int64, c harvest.Classification) error {
	var err error
	switch c.Kind {
	case harvest.ClassActive:
		_, err = b.db.ExecContext(ctx,
			fmt.Sprintf(`INSERT INTO %sactive (identifier, last_seen) VALUES (?, ?)
				ON CONFLICT(identifier) DO UPDATE SET last_seen = excluded.last_seen`, b.prefix),
			id, c.LastSeen.Unix())
	case harvest.ClassBlacklisted:
		_, err = b.db.ExecContext(ctx,
			fmt.Sprintf(`INSERT OR IGNORE INTO %sblacklist (identifier) VALUES (?)`, b.prefix), id)
	case harvest.ClassRecentlyInactive:
		_, err = b.db.ExecContext(ctx,
			fmt.Sprintf(`INSERT OR IGNORE INTO %srecently_inactive (identifier) VALUES (?)`, b.prefix), id)
	default:
		return harvest.ErrUnclassified
	}
	if err != nil {
		return fmt.Errorf("insert %s %d: %w", c.Kind, id, err)
	}
	return nil
}

// AppendListings implements harvest.RecordSink; one transaction per seller.
func (b *Backend) AppendListings(ctx context.Context, sellerID int64, listings []harvest.Listing) error {
	if len(listings) == 0 {
		return nil
	}
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin listings tx: %w", err)
	}
	stmt := fmt.Sprintf(
		`INSERT INTO %slistings (seller_identifier, item_name, unit_price, quantity) VALUES (?, ?, ?, ?)`,
		b.prefix,
	)
	for _, l := range listings {
		if _, err := tx.ExecContext(ctx, stmt, sellerID, l.ItemName, l.UnitPrice, l.Quantity); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert listing for %d: %w", sellerID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit listings for %d: %w", sellerID, err)
	}
	return nil
}

// ListingCount returns how many listing rows are stored.
func (b *Backend) ListingCount(ctx context.Context) (int64, error) {
	var n int64
	err := b.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %slistings`, b.prefix)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count listings: %w", err)
	}
	return n, nil
}

// Close closes the database.
func (b *Backend) Close() error {
	return b.db.Close()
}

// Name implements state.Backend.
func (b *Backend) Name() string {
	return "sqlite"
}
