// Package clock provides the tamper-resistant time source used for
// license expiration checks. It prefers network time servers over the
// local system clock so that rolling the machine clock back does not
// revive an expired license.
package clock

import (
	"context"
	"log/slog"
	"time"

	"github.com/beevik/ntp"
)

// Clock is the time source consumed by the entitlement engine. A fixed
// implementation is used in tests to pin validation at a known instant.
type Clock interface {
	Now(ctx context.Context) time.Time
}

// querier performs a single NTP query. Swappable in tests.
type querier func(host string, timeout time.Duration) (time.Time, error)

// ReliableClock queries an ordered list of NTP servers with a bounded
// per-server timeout and falls back to the local system clock when all
// of them fail. It never returns an error: total failure degrades to
// local time.
type ReliableClock struct {
	servers []string
	timeout time.Duration
	logger  *slog.Logger
	query   querier
}

// Option configures a ReliableClock.
type Option func(*ReliableClock)

// WithQuerier replaces the NTP query function. Test hook.
func WithQuerier(q querier) Option {
	return func(c *ReliableClock) { c.query = q }
}

// NewReliableClock creates a clock that consults servers in order with
// the given per-server timeout.
func NewReliableClock(servers []string, timeout time.Duration, logger *slog.Logger, opts ...Option) *ReliableClock {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &ReliableClock{
		servers: servers,
		timeout: timeout,
		logger:  logger.With(slog.String("component", "reliable_clock")),
		query:   ntpQuery,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Now returns the current time from the first responding time server,
// or the local clock if none respond or the context is done. The call
// blocks for at most len(servers) x timeout.
func (c *ReliableClock) Now(ctx context.Context) time.Time {
	for _, server := range c.servers {
		if ctx.Err() != nil {
			break
		}

		t, err := c.query(server, c.timeout)
		if err != nil {
			c.logger.DebugContext(ctx, "time server query failed",
				slog.String("server", server),
				slog.String("error", err.Error()),
			)
			continue
		}

		c.logger.DebugContext(ctx, "network time obtained",
			slog.String("server", server),
			slog.Time("network_time", t),
		)
		return t
	}

	c.logger.WarnContext(ctx, "all time servers unreachable, falling back to local clock",
		slog.Int("servers_tried", len(c.servers)),
	)
	return time.Now().UTC()
}

// ntpQuery performs one NTP round trip against host.
func ntpQuery(host string, timeout time.Duration) (time.Time, error) {
	resp, err := ntp.QueryWithOptions(host, ntp.QueryOptions{Timeout: timeout})
	if err != nil {
		return time.Time{}, err
	}
	if err := resp.Validate(); err != nil {
		return time.Time{}, err
	}
	return time.Now().Add(resp.ClockOffset).UTC(), nil
}

// Fixed is a Clock that always reports the same instant. Used by tests
// to model a trusted time independent of the machine clock.
type Fixed struct {
	T time.Time
}

// Now returns the pinned instant.
func (f Fixed) Now(ctx context.Context) time.Time { return f.T }

// System is a Clock backed directly by the local system clock.
type System struct{}

// Now returns the local time in UTC.
func (System) Now(ctx context.Context) time.Time { return time.Now().UTC() }
