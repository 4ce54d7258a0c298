package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/MohdAljahdali/salla-supabase-sync-sub001/pkg/models"
)

// assignmentChangedChannel is the Redis pub/sub channel downstream caches
// and storefront renderers subscribe to.
const assignmentChangedChannel = "classify:assignment-changed"

// ChangeNotifier announces assignment changes to downstream consumers.
type ChangeNotifier interface {
	NotifyAssignmentChanged(ctx context.Context, storeID, entityID uuid.UUID, kind models.AssignmentKind)
}

// redisNotifier publishes change events to a Redis channel. Publishing is
// fire-and-forget: a down broker never fails the write that triggered it.
type redisNotifier struct {
	client *redis.Client
	logger *zap.Logger
}

// NewChangeNotifier creates a notifier backed by Redis. A nil client yields
// a no-op notifier so the engine runs without a broker configured.
func NewChangeNotifier(client *redis.Client, logger *zap.Logger) ChangeNotifier {
	if client == nil {
		return noopNotifier{}
	}
	return &redisNotifier{
		client: client,
		logger: logger.Named("change-notifier"),
	}
}

type assignmentChangedEvent struct {
	StoreID   uuid.UUID             `json:"store_id"`
	EntityID  uuid.UUID             `json:"entity_id"`
	Kind      models.AssignmentKind `json:"kind"`
	ChangedAt time.Time             `json:"changed_at"`
}

func (n *redisNotifier) NotifyAssignmentChanged(ctx context.Context, storeID, entityID uuid.UUID, kind models.AssignmentKind) {
	payload, err := json.Marshal(assignmentChangedEvent{
		StoreID:   storeID,
		EntityID:  entityID,
		Kind:      kind,
		ChangedAt: time.Now().UTC(),
	})
	if err != nil {
		n.logger.Error("Failed to marshal change event", zap.Error(err))
		return
	}

	if err := n.client.Publish(ctx, assignmentChangedChannel, payload).Err(); err != nil {
		n.logger.Warn("Failed to publish change event",
			zap.String("entity_id", entityID.String()),
			zap.Error(err))
	}
}

type noopNotifier struct{}

func (noopNotifier) NotifyAssignmentChanged(context.Context, uuid.UUID, uuid.UUID, models.AssignmentKind) {
}
