// Package projection keeps the order status cache in step with the order event stream.
package projection

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	kafkax "github.com/ariefcatur/storefront-orders/internal/kafka"
	"github.com/ariefcatur/storefront-orders/internal/orders"
	"github.com/ariefcatur/storefront-orders/internal/redisx"
)

type Service struct {
	Redis       *redis.Client
	Cache       *redisx.StatusCache
	Log         *zap.Logger
	ServiceName string
}

// HandleMessage dipasang sebagai handler consumer.
func (s *Service) HandleMessage(ctx context.Context, m kafkago.Message) error {
	// 1) decode envelope
	env, err := kafkax.DecodeEnvelope(m.Value)
	if err != nil {
		// pesan rusak tidak akan pernah sukses, jangan blok partisi
		s.log().Warn("dropping undecodable message", zap.String("topic", m.Topic), zap.Error(err))
		return nil
	}

	entry, ok, err := statusEntry(env)
	if err != nil {
		s.log().Warn("dropping bad payload", zap.String("event_id", env.EventID), zap.Error(err))
		return nil
	}
	if !ok {
		return nil // ignore
	}

	// 2) dedup via Redis (pakai event_id)
	first, err := redisx.MarkProcessed(ctx, s.Redis, s.ServiceName, env.EventID)
	if err != nil {
		return fmt.Errorf("dedup %s: %w", env.EventID, err)
	}
	if !first {
		return nil
	}

	// 3) update cache; kalau gagal, lepas dedup biar redelivery diproses ulang
	if err := s.apply(ctx, entry); err != nil {
		if ferr := redisx.Forget(context.WithoutCancel(ctx), s.Redis, s.ServiceName, env.EventID); ferr != nil {
			s.log().Error("dedup rollback failed", zap.String("event_id", env.EventID), zap.Error(ferr))
		}
		return fmt.Errorf("cache status %s: %w", entry.OrderID, err)
	}

	s.log().Debug("status projected",
		zap.String("order_id", entry.OrderID),
		zap.String("status", entry.Status),
		zap.String("trace_id", env.TraceID),
	)
	return nil
}

// apply skips entries older than what the cache already holds.
func (s *Service) apply(ctx context.Context, e redisx.StatusEntry) error {
	_, err := s.Cache.SetIfNewer(ctx, e)
	return err
}

func statusEntry(env orders.Envelope) (redisx.StatusEntry, bool, error) {
	switch env.EventType {
	case orders.EventOrderCreated:
		p, err := kafkax.UnwrapPayload[orders.OrderCreatedPayload](env.Payload)
		if err != nil {
			return redisx.StatusEntry{}, false, err
		}
		return redisx.StatusEntry{OrderID: p.OrderID, Status: p.Status.String(), UpdatedAt: env.OccurredAt}, true, nil
	case orders.EventOrderStatusChanged:
		p, err := kafkax.UnwrapPayload[orders.OrderStatusChangedPayload](env.Payload)
		if err != nil {
			return redisx.StatusEntry{}, false, err
		}
		return redisx.StatusEntry{OrderID: p.OrderID, Status: p.To.String(), UpdatedAt: env.OccurredAt}, true, nil
	}
	return redisx.StatusEntry{}, false, nil
}

func (s *Service) log() *zap.Logger {
	if s.Log == nil {
		return zap.NewNop()
	}
	return s.Log
}
