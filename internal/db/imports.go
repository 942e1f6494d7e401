package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// ErrNoImport is returned when no finished GTFS import matches a city.
var ErrNoImport = errors.New("no gtfs import found")

// ResolveLatestImportDBName returns the db_name with the most recent imported_at
// from public.latest_successful_imports where db_name ILIKE '%city%'.
func ResolveLatestImportDBName(ctx context.Context, meta *sql.DB, city string) (string, error) {
	city = strings.TrimSpace(city)
	if city == "" {
		return "", errors.New("city is required")
	}
	q := `
SELECT db_name
FROM public.latest_successful_imports
WHERE db_name ILIKE '%' || $1 || '%'
ORDER BY imported_at DESC
LIMIT 1`
	var dbName sql.NullString
	if err := meta.QueryRowContext(ctx, q, city).Scan(&dbName); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("%w for city like %q", ErrNoImport, city)
		}
		return "", fmt.Errorf("query latest import: %w", err)
	}
	if !dbName.Valid || dbName.String == "" {
		return "", fmt.Errorf("%w: empty db_name for city like %q", ErrNoImport, city)
	}
	return dbName.String, nil
}
