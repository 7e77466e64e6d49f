package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/JakeFAU/activity-harvester/internal/harvest"
	"github.com/JakeFAU/activity-harvester/internal/state"
)

var _ state.Backend = (*StateBackend)(nil)

// StateBackend stores the classification sets in three tables. Every Append
// is its own autocommit statement.
type StateBackend struct {
	pool   pool
	prefix string
	owned  bool
}

// NewStateBackend wraps p. prefix namespaces the tables ("bazaar_" yields
// bazaar_active and so on). When owned is true Close closes the pool.
func NewStateBackend(p pool, prefix string, owned bool) (*StateBackend, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if prefix != "" && !validTableName.MatchString(prefix) {
		return nil, fmt.Errorf("invalid table prefix %q", prefix)
	}
	return &StateBackend{pool: p, prefix: prefix, owned: owned}, nil
}

// EnsureSchema creates the classification tables when missing.
func (b *StateBackend) EnsureSchema(ctx context.Context) error {
	if _, err := b.pool.Exec(ctx, fmt.Sprintf(stateSchema, b.prefix)); err != nil {
		return fmt.Errorf("create state schema: %w", err)
	}
	return nil
}

// Load reads all three tables.
func (b *StateBackend) Load(ctx context.Context) (state.Sets, error) {
	sets := state.NewSets()

	rows, err := b.pool.Query(ctx, fmt.Sprintf(`SELECT identifier, last_seen FROM %sactive;`, b.prefix))
	if err != nil {
		return sets, fmt.Errorf("query active: %w", err)
	}
	for rows.Next() {
		var (
			id       int64
			lastSeen time.Time
		)
		if err := rows.Scan(&id, &lastSeen); err != nil {
			rows.Close()
			return sets, fmt.Errorf("scan active row: %w", err)
		}
		sets.Active[id] = lastSeen.UTC()
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return sets, fmt.Errorf("iterate active: %w", err)
	}

	if err := b.loadIDs(ctx, b.table("blacklist"), sets.Blacklisted); err != nil {
		return sets, err
	}
	if err := b.loadIDs(ctx, b.table("recently_inactive"), sets.RecentlyInactive); err != nil {
		return sets, err
	}
	return sets, nil
}

func (b *StateBackend) loadIDs(ctx context.Context, table string, into map[int64]struct{}) error {
	rows, err := b.pool.Query(ctx, fmt.Sprintf(`SELECT identifier FROM %s;`, table))
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
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate %s: %w", table, err)
	}
	return nil
}

// Append writes one classification.
func (b *StateBackend) Append(ctx context.Context, id int64, c harvest.Classification) error {
	var (
		query string
		args  []any
	)
	switch c.Kind {
	case harvest.ClassActive:
		query = fmt.Sprintf(`
			INSERT INTO %s (identifier, last_seen) VALUES ($1, $2)
			ON CONFLICT (identifier) DO UPDATE SET last_seen = EXCLUDED.last_seen;`, b.table("active"))
		args = []any{id, c.LastSeen.UTC()}
	case harvest.ClassBlacklisted:
		query = fmt.Sprintf(`INSERT INTO %s (identifier) VALUES ($1) ON CONFLICT (identifier) DO NOTHING;`, b.table("blacklist"))
		args = []any{id}
	case harvest.ClassRecentlyInactive:
		query = fmt.Sprintf(
			`INSERT INTO %s (identifier) VALUES ($1) ON CONFLICT (identifier) DO NOTHING;`,
			b.table("recently_inactive"),
		)
		args = []any{id}
	default:
		return harvest.ErrUnclassified
	}
	if _, err := b.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert %s: %w", c.Kind, err)
	}
	return nil
}

// Close closes the pool when this backend owns it.
func (b *StateBackend) Close() error {
	if b.owned {
		b.pool.Close()
	}
	return nil
}

// Name implements state.Backend.
func (b *StateBackend) Name() string {
	return "postgres"
}

func (b *StateBackend) table(name string) string {
	return b.prefix + name
}
