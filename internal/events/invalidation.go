// Package events fans feature-view invalidation out across service
// instances over NATS. A bulk save on one instance stales the cached
// views held by every other instance.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

const invalidationSubjectPrefix = "features.invalidate."

// InvalidationEvent is the wire payload of one invalidation.
type InvalidationEvent struct {
	TenantID  string    `json:"tenant_id"`
	EmittedAt time.Time `json:"emitted_at"`
}

// NATSInvalidationPublisher publishes invalidation events. A nil
// connection disables publishing, for single-instance deployments
// without a broker.
type NATSInvalidationPublisher struct {
	nc     *nats.Conn
	logger *slog.Logger
}

func NewNATSInvalidationPublisher(nc *nats.Conn, logger *slog.Logger) *NATSInvalidationPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &NATSInvalidationPublisher{nc: nc, logger: logger}
}

func (p *NATSInvalidationPublisher) PublishInvalidation(ctx context.Context, tenantID string) error {
	if p.nc == nil {
		return nil
	}
	payload, err := json.Marshal(InvalidationEvent{TenantID: tenantID, EmittedAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	if err := p.nc.Publish(invalidationSubjectPrefix+tenantID, payload); err != nil {
		return fmt.Errorf("publish invalidation: %w", err)
	}
	p.logger.DebugContext(ctx, "invalidation published", "tenant_id", tenantID)
	return nil
}

// InvalidationHandler receives the tenant ID of an invalidation event.
type InvalidationHandler func(tenantID string)

// NATSInvalidationSubscriber maps invalidation events from other
// instances into cache refresh triggers.
type NATSInvalidationSubscriber struct {
	nc      *nats.Conn
	handler InvalidationHandler
	logger  *slog.Logger
	subs    []*nats.Subscription
}

func NewNATSInvalidationSubscriber(nc *nats.Conn, handler InvalidationHandler, logger *slog.Logger) *NATSInvalidationSubscriber {
	if logger == nil {
		logger = slog.Default()
	}
	return &NATSInvalidationSubscriber{nc: nc, handler: handler, logger: logger}
}

// Start subscribes and blocks until ctx is done. A nil connection
// returns immediately.
func (s *NATSInvalidationSubscriber) Start(ctx context.Context) error {
	if s.nc == nil {
		return nil
	}
	sub, err := s.nc.Subscribe(invalidationSubjectPrefix+">", s.handleInvalidation)
	if err != nil {
		return fmt.Errorf("subscribe invalidation: %w", err)
	}
	s.subs = append(s.subs, sub)
	s.logger.Info("invalidation subscriber started", "subscriptions", len(s.subs))

	<-ctx.Done()
	for _, sub := range s.subs {
		_ = sub.Unsubscribe()
	}
	return ctx.Err()
}

func (s *NATSInvalidationSubscriber) handleInvalidation(msg *nats.Msg) {
	var event InvalidationEvent
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		s.logger.Warn("malformed invalidation event", "subject", msg.Subject, "error", err)
		return
	}
	if event.TenantID == "" {
		s.logger.Warn("invalidation event without tenant", "subject", msg.Subject)
		return
	}
	s.handler(event.TenantID)
}
