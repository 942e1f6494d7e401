package db

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// WithDBName returns dsn with its database path replaced. A dsn without a
// scheme is taken as postgres://.
func WithDBName(dsn, database string) (string, error) {
	if dsn == "" {
		return "", errors.New("empty DSN")
	}
	if !strings.Contains(dsn, "://") {
		dsn = "postgres://" + dsn
	}
	u, err := url.Parse(dsn)
	if err != nil {
		return "", err
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return "", fmt.Errorf("unsupported DSN scheme %q", u.Scheme)
	}
	u.Path = "/" + strings.TrimPrefix(database, "/")
	return u.String(), nil
}

// FeedDSN picks the database holding a feed's GTFS import. An explicit
// database wins; otherwise the newest import matching city is looked up in
// the cluster's postgres database. With neither, baseDSN is returned as is.
func FeedDSN(ctx context.Context, baseDSN, database, city string) (string, error) {
	if database != "" {
		return WithDBName(baseDSN, database)
	}
	if city == "" {
		return baseDSN, nil
	}

	rootDSN, err := WithDBName(baseDSN, "postgres")
	if err != nil {
		return "", fmt.Errorf("invalid base DSN: %w", err)
	}
	meta, err := OpenAndPing(ctx, rootDSN)
	if err != nil {
		return "", fmt.Errorf("meta db: %w", err)
	}
	defer meta.Close()

	name, err := ResolveLatestImportDBName(ctx, meta, city)
	if err != nil {
		return "", err
	}
	return WithDBName(baseDSN, name)
}
