package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"voltguard/internal/config"
	"voltguard/internal/model"
)

var ErrNoSnapshot = errors.New("no market snapshot received yet")

type cachedSnapshot struct {
	snapshot   model.MarketSnapshot
	receivedAt time.Time
}

// Feed consumes market price ticks from a Kafka topic and serves the
// latest one as the snapshot. A tick older than MaxAge is treated as
// missing data so the evaluator fails safe instead of acting on a
// stale price.
type Feed struct {
	cfg    config.MarketKafkaConfig
	latest atomic.Value
	logger *slog.Logger
}

func NewFeed(cfg config.MarketKafkaConfig, logger *slog.Logger) *Feed {
	return &Feed{cfg: cfg, logger: logger}
}

func (f *Feed) Start(ctx context.Context) {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  f.cfg.Brokers,
		Topic:    f.cfg.Topic,
		GroupID:  f.cfg.GroupID,
		MinBytes: 1e3,
		MaxBytes: 10e6,
	})
	if f.logger != nil {
		f.logger.Info("market feed started", "brokers", f.cfg.Brokers, "topic", f.cfg.Topic, "group_id", f.cfg.GroupID)
	}
	go func() {
		defer reader.Close()
		for {
			m, err := reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if f.logger != nil {
					f.logger.Warn("market feed read error", "err", err)
				}
				continue
			}
			var snapshot model.MarketSnapshot
			if err := json.Unmarshal(m.Value, &snapshot); err != nil {
				if f.logger != nil {
					f.logger.Warn("market tick decode error", "err", err)
				}
				continue
			}
			if snapshot.Timestamp.IsZero() {
				snapshot.Timestamp = m.Time.UTC()
			}
			f.latest.Store(cachedSnapshot{snapshot: snapshot, receivedAt: time.Now().UTC()})
		}
	}()
}

func (f *Feed) GetSnapshot(ctx context.Context) (model.MarketSnapshot, error) {
	v := f.latest.Load()
	if v == nil {
		return model.MarketSnapshot{}, ErrNoSnapshot
	}
	cached := v.(cachedSnapshot)
	if f.cfg.MaxAge > 0 {
		if age := time.Since(cached.receivedAt); age > f.cfg.MaxAge {
			return model.MarketSnapshot{}, fmt.Errorf("last market tick is %s old", age.Round(time.Second))
		}
	}
	return cached.snapshot, nil
}
