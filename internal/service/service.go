package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"creditledger/internal/apperr"
	"creditledger/internal/model"
)

// SweepResult summarizes one reconciliation pass.
type SweepResult struct {
	Scanned  int
	Resolved int
	Skipped  int
	Errors   int
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func normalizeEntity(e model.EntityRef) (model.EntityRef, error) {
	t, err := model.ParseEntityType(string(e.Type))
	if err != nil {
		return model.EntityRef{}, apperr.Validation("%v", err)
	}
	id := strings.TrimSpace(e.ID)
	if id == "" {
		return model.EntityRef{}, apperr.Validation("entity id is required")
	}
	if len(id) > 64 {
		return model.EntityRef{}, apperr.Validation("entity id longer than 64 characters")
	}
	return model.EntityRef{Type: t, ID: id}, nil
}

func newOutboxMessage(topic, eventType, key string, payload interface{}) (*model.OutboxMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &model.OutboxMessage{
		MessageKey: key,
		Topic:      topic,
		EventType:  eventType,
		Payload:    string(body),
		Status:     model.OutboxStatusPending,
	}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
