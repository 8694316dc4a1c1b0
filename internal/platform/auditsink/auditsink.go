// Package auditsink builds the audit publisher from configuration.
package auditsink

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq"

	"bansync/internal/platform/config"
	audit "bansync/pkg/platform/audit"
	"bansync/pkg/platform/audit/publisher"
	"bansync/pkg/platform/audit/publishers/kafka"
	"bansync/pkg/platform/audit/store/memory"
	"bansync/pkg/platform/audit/store/postgres"
)

// Open returns a publisher that fans events out to every configured sink.
// With no sink configured events are kept in memory. The returned close
// function drains the buffer and releases connections.
func Open(ctx context.Context, cfg config.AuditConfig, logger *slog.Logger) (*publisher.Publisher, func(), error) {
	var (
		stores  audit.Fanout
		closers []func()
	)
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.PostgresDSN != "" {
		db, err := sql.Open("postgres", cfg.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open audit database: %w", err)
		}
		closers = append(closers, func() { _ = db.Close() })
		if err := db.PingContext(ctx); err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("ping audit database: %w", err)
		}
		store := postgres.New(db)
		if err := store.Migrate(ctx); err != nil {
			closeAll()
			return nil, nil, err
		}
		stores = append(stores, store)
		logger.InfoContext(ctx, "audit sink enabled", "sink", "postgres")
	}

	if len(cfg.KafkaBrokers) > 0 {
		sink, err := kafka.New(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		closers = append(closers, sink.Close)
		if err := sink.EnsureTopic(ctx); err != nil {
			closeAll()
			return nil, nil, err
		}
		stores = append(stores, sink)
		logger.InfoContext(ctx, "audit sink enabled", "sink", "kafka", "topic", cfg.KafkaTopic)
	}

	if len(stores) == 0 {
		stores = append(stores, memory.NewInMemoryStore())
	}

	pub := publisher.NewPublisher(stores,
		publisher.WithAsyncBuffer(cfg.BufferSize),
		publisher.WithLogger(logger),
	)
	return pub, func() {
		pub.Close()
		closeAll()
	}, nil
}
