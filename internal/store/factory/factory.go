package factory

import (
	"errors"
	"strings"

	"github.com/kibitz-hq/kibitz/internal/store"
	pg "github.com/kibitz-hq/kibitz/internal/store/postgres"
	sq "github.com/kibitz-hq/kibitz/internal/store/sqlite"
)

// NewFromDSN selects a store backend by DSN scheme: postgres:// and
// postgresql:// open PostgreSQL, sqlite:// and scheme-less paths open
// SQLite. Unknown schemes are rejected rather than guessed at.
func NewFromDSN(dsn string) (store.Store, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("empty DSN")
	}

	scheme, rest, found := strings.Cut(dsn, "://")
	if !found {
		return sq.New(dsn)
	}
	switch strings.ToLower(scheme) {
	case "postgres", "postgresql":
		return pg.New(dsn)
	case "sqlite":
		return sq.New(rest)
	default:
		return nil, errors.New("unsupported store DSN: " + dsn)
	}
}
