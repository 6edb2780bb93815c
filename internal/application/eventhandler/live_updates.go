// Package eventhandler contains reactions to domain events. Handlers run after
// the write that produced the event has committed; their failures never undo it.
package eventhandler

import (
	"time"

	"github.com/habitverse/habitverse-core/config"
	"github.com/habitverse/habitverse-core/internal/domain/shared"
	"github.com/habitverse/habitverse-core/pkg/logger"
)

// ═══════════════════════════════════════════════════════════════════════════
// LIVE UPDATES HANDLER
// Pushes progress events to the dashboards a user has open.
// ═══════════════════════════════════════════════════════════════════════════

// Broadcaster delivers a message to every live connection of a user.
type Broadcaster interface {
	// SendToUser returns how many connections the message was queued on.
	SendToUser(userID string, msg LiveMessage) int
}

// LiveMessage is what a connected client receives.
type LiveMessage struct {
	Type          shared.EventType       `json:"type"`
	UserID        string                 `json:"user_id"`
	Data          map[string]interface{} `json:"data"`
	OccurredAt    time.Time              `json:"occurred_at"`
	CorrelationID string                 `json:"correlation_id,omitempty"`
}

// LiveEventTypes are the events forwarded to clients.
var LiveEventTypes = []shared.EventType{
	shared.EventRewardApplied,
	shared.EventLevelUp,
	shared.EventAchievementUnlocked,
	shared.EventStreakUpdated,
	shared.EventStreakBroken,
}

// LiveUpdatesHandler forwards progress events to a Broadcaster.
type LiveUpdatesHandler struct {
	hub   Broadcaster
	flags *config.FeatureFlags
	log   *logger.Logger
}

// NewLiveUpdatesHandler creates a new LiveUpdatesHandler.
func NewLiveUpdatesHandler(hub Broadcaster, flags *config.FeatureFlags, log *logger.Logger) *LiveUpdatesHandler {
	if log == nil {
		log = logger.NewNop()
	}
	return &LiveUpdatesHandler{
		hub:   hub,
		flags: flags,
		log:   log.Named("live_updates"),
	}
}

// Register subscribes the handler to every live event type.
func (h *LiveUpdatesHandler) Register(bus shared.EventSubscriber) error {
	for _, t := range LiveEventTypes {
		if err := bus.Subscribe(t, h.Handle); err != nil {
			return err
		}
	}
	return nil
}

// Handle implements shared.EventHandler.
func (h *LiveUpdatesHandler) Handle(event shared.Event) error {
	userID := event.AggregateID()
	if userID == "" {
		return nil
	}
	if !h.flags.IsEnabled(config.FeatureLiveUpdates, config.ForUser(userID)) {
		return nil
	}

	msg := LiveMessage{
		Type:       event.EventType(),
		UserID:     userID,
		Data:       event.Payload(),
		OccurredAt: event.OccurredAt(),
	}
	if c, ok := event.(interface{ Correlation() string }); ok {
		msg.CorrelationID = c.Correlation()
	}

	if n := h.hub.SendToUser(userID, msg); n > 0 {
		h.log.Debug("live update sent",
			logger.UserID(userID),
			logger.String("event_type", string(msg.Type)),
			logger.Int("connections", n),
		)
	}
	return nil
}
