package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Listen holds a dedicated connection subscribed to channel and calls notify
// with each payload until ctx is cancelled. Dropped connections are re-opened
// after a short pause.
func Listen(ctx context.Context, databaseURL, channel string, logger *slog.Logger, notify func(payload string)) {
	for {
		if ctx.Err() != nil {
			return
		}

		// pgxpool.ParseConfig consumes pool_* parameters client side.
		poolConf, err := pgxpool.ParseConfig(databaseURL)
		if err != nil {
			logger.Error("listen parse config failed", "channel", channel, "error", err)
			return
		}

		conn, err := pgx.ConnectConfig(ctx, poolConf.ConnConfig)
		if err != nil {
			logger.Warn("listen connect failed", "channel", channel, "error", err)
			if !sleepCtx(ctx, 2*time.Second) {
				return
			}
			continue
		}

		if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize()); err != nil {
			logger.Warn("LISTEN failed", "channel", channel, "error", err)
			_ = conn.Close(context.Background())
			if !sleepCtx(ctx, 2*time.Second) {
				return
			}
			continue
		}

		for {
			n, err := conn.WaitForNotification(ctx)
			if err != nil {
				_ = conn.Close(context.Background())
				if ctx.Err() == nil {
					logger.Warn("wait for notification failed", "channel", channel, "error", err)
				}
				break
			}
			notify(n.Payload)
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
