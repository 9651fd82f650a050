package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/singleflight"

	"github.com/ajith4Tech/rforum/internal/domain"
)

const (
	lookupSessionQuery = `SELECT unique_code, COALESCE(title, ''), is_live FROM sessions WHERE unique_code = $1`

	// lookupTimeout bounds a shared lookup, which outlives any one caller.
	lookupTimeout = 5 * time.Second
)

// ChannelDirectory resolves session codes against the sessions table owned
// by the CRUD service. Concurrent lookups of one code share a single query,
// which matters when a whole audience reconnects at once.
type ChannelDirectory struct {
	pool  *pgxpool.Pool
	group singleflight.Group
}

var _ domain.ChannelDirectory = (*ChannelDirectory)(nil)

// NewChannelDirectory returns a directory that reads sessions from pool.
func NewChannelDirectory(pool *pgxpool.Pool) *ChannelDirectory {
	return &ChannelDirectory{pool: pool}
}

// Lookup returns the session registered under code. The query runs detached
// from ctx so that one caller giving up does not fail the others sharing it;
// ctx still bounds how long this caller waits.
func (d *ChannelDirectory) Lookup(ctx context.Context, code string) (*domain.ChannelInfo, error) {
	ch := d.group.DoChan(code, func() (any, error) {
		qctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), lookupTimeout)
		defer cancel()

		var info domain.ChannelInfo
		err := d.pool.QueryRow(qctx, lookupSessionQuery, code).Scan(&info.Code, &info.Title, &info.Live)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("session %q: %w", code, domain.ErrChannelNotFound)
		}
		if err != nil {
			return nil, fmt.Errorf("lookup session %q: %w", code, err)
		}
		return &info, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		info := *res.Val.(*domain.ChannelInfo)
		return &info, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("lookup session %q: %w", code, ctx.Err())
	}
}
