package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// IDCounter allocates per (prefix, year) application sequences from the
// application_id_counters table.
type IDCounter struct {
	store
}

func NewIDCounter(db *sql.DB, options Options) *IDCounter {
	return &IDCounter{store: newStore(db, options)}
}

func (c *IDCounter) Next(ctx context.Context, prefix string, year int) (int64, error) {
	var next int64
	err := c.run(ctx, "allocate application id", func(ctx context.Context) error {
		return c.db.QueryRowContext(ctx, `
INSERT INTO application_id_counters (prefix, year, last_value)
VALUES ($1, $2, 1)
ON CONFLICT (prefix, year) DO UPDATE SET last_value = application_id_counters.last_value + 1
RETURNING last_value
`, prefix, year).Scan(&next)
	})
	if err != nil {
		return 0, err
	}
	return next, nil
}

// HighestSequence returns the largest sequence already stored for
// prefix and year, or 0 when there is none.
func (c *IDCounter) HighestSequence(ctx context.Context, prefix string, year int) (int64, error) {
	var highest int64
	pattern := fmt.Sprintf("%s\\_%04d\\_%%", prefix, year)
	err := c.run(ctx, "read highest application id", func(ctx context.Context) error {
		return c.db.QueryRowContext(ctx, `
SELECT COALESCE(MAX(CAST(SUBSTRING(application_id FROM 10) AS BIGINT)), 0)
FROM applications
WHERE application_id LIKE $1
`, pattern).Scan(&highest)
	})
	if err != nil {
		return 0, err
	}
	return highest, nil
}
