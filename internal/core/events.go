package core

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ceruleanworks/foreman/internal/storage"
	"github.com/ceruleanworks/foreman/internal/types"
)

// appendEvent marshals payload and appends the event inside tx. Events are
// written in the same transaction as the mutation they describe, so a
// committed mutation always has its event and a rolled-back one never does.
func appendEvent(ctx context.Context, tx storage.Tx, projectID, entityType, entityID string,
	eventType types.EventType, payload any, causedBy string, now time.Time) error {

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event payload: %w", err)
	}
	ev := &types.Event{
		ProjectID:  projectID,
		EntityType: entityType,
		EventType:  eventType,
		Payload:    raw,
		CreatedAt:  now,
	}
	if entityID != "" {
		ev.EntityID = &entityID
	}
	if causedBy != "" {
		ev.CausedBy = &causedBy
	}
	return tx.AppendEvent(ctx, ev)
}
