package probe

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const defaultPostgresCheckTimeout = 3 * time.Second

// PostgresProbe checks readiness by opening a connection and running a
// trivial query. A cold-starting server accepts TCP connections well before
// it can execute SQL, so the query is the readiness signal.
type PostgresProbe struct {
	// Timeout bounds a single check. Zero means the default.
	Timeout time.Duration
}

func (p *PostgresProbe) Kind() string {
	return "postgres"
}

func (p *PostgresProbe) Check(ctx context.Context, endpoint string) Result {
	start := time.Now()

	if err := validatePostgresEndpoint(endpoint); err != nil {
		return failure(start, err)
	}

	timeout := p.Timeout
	if timeout <= 0 {
		timeout = defaultPostgresCheckTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	db, err := sql.Open("pgx", endpoint)
	if err != nil {
		return failure(start, fmt.Errorf("open connection: %w", err))
	}
	defer db.Close()

	var one int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return failure(start, fmt.Errorf("query: %w", err))
	}
	if one != 1 {
		return failure(start, fmt.Errorf("unexpected query result %d", one))
	}

	return success(start)
}

func validatePostgresEndpoint(endpoint string) error {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return fmt.Errorf("%w: endpoint is empty", ErrMisconfigured)
	}
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("%w: parse endpoint: %v", ErrMisconfigured, err)
	}
	switch parsed.Scheme {
	case "postgres", "postgresql":
		return nil
	default:
		return fmt.Errorf("%w: unsupported scheme %q", ErrMisconfigured, parsed.Scheme)
	}
}
