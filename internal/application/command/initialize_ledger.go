// Package command contains write operations (CQRS - Commands).
package command

import (
	"context"
	"fmt"
	"time"

	"github.com/habitverse/habitverse-core/internal/domain/progress"
	"github.com/habitverse/habitverse-core/internal/domain/shared"
	"github.com/habitverse/habitverse-core/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// INITIALIZE LEDGER COMMAND
// Creates the zero ledger for a new user. Safe to repeat.
// ══════════════════════════════════════════════════════════════════════════════

// InitializeLedgerCommand contains the data to create a ledger.
type InitializeLedgerCommand struct {
	UserID        string
	CorrelationID string
}

// Validate validates the command.
func (c InitializeLedgerCommand) Validate() error {
	if _, err := shared.NewUserID(c.UserID); err != nil {
		return err
	}
	return nil
}

// InitializeLedgerResult contains the stored ledger.
type InitializeLedgerResult struct {
	Ledger progress.Ledger

	// Created is false when the ledger already existed.
	Created bool
}

// InitializeLedgerHandler handles the InitializeLedgerCommand.
type InitializeLedgerHandler struct {
	store     progress.Store
	publisher shared.EventPublisher
	now       func() time.Time
	log       *logger.Logger
}

// NewInitializeLedgerHandler creates a new InitializeLedgerHandler.
func NewInitializeLedgerHandler(store progress.Store, publisher shared.EventPublisher, log *logger.Logger) *InitializeLedgerHandler {
	if log == nil {
		log = logger.NewNop()
	}
	return &InitializeLedgerHandler{
		store:     store,
		publisher: publisher,
		now:       time.Now,
		log:       log.Named("initialize_ledger"),
	}
}

// Handle executes the initialize ledger command.
func (h *InitializeLedgerHandler) Handle(ctx context.Context, cmd InitializeLedgerCommand) (*InitializeLedgerResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("initialize_ledger: validation failed: %w", err)
	}

	userID := shared.UserID(cmd.UserID)
	l, created, err := h.store.InitLedger(ctx, userID, h.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("initialize_ledger: failed to init ledger: %w", err)
	}

	if created {
		h.log.Info("ledger initialized", logger.UserID(cmd.UserID))
		ev := shared.NewLedgerInitializedEvent(cmd.UserID)
		ev.BaseEvent = ev.BaseEvent.WithCorrelationID(cmd.CorrelationID)
		publishAll(h.publisher, h.log, ev)
	}

	return &InitializeLedgerResult{Ledger: l, Created: created}, nil
}

// publishAll publishes events after commit. Failures are logged: the write
// already happened and subscribers are best-effort.
func publishAll(publisher shared.EventPublisher, log *logger.Logger, events ...shared.Event) {
	if publisher == nil {
		return
	}
	for _, ev := range events {
		if err := publisher.Publish(ev); err != nil {
			log.Warn("failed to publish event",
				logger.String("event_type", string(ev.EventType())),
				logger.Err(err),
			)
		}
	}
}
