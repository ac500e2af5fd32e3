// SPDX-License-Identifier: AGPL-3.0-or-later
package models

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventCreated    EventType = "CREATED"
	EventEnqueued   EventType = "ENQUEUED"
	EventProcessing EventType = "PROCESSING"
	EventSent       EventType = "SENT"
	EventFailed     EventType = "FAILED"
	EventRetry      EventType = "RETRY"
	EventDLQ        EventType = "DLQ"
	EventBounce     EventType = "BOUNCE"
	EventComplaint  EventType = "COMPLAINT"
	EventDelivery   EventType = "DELIVERY"
)

// EmailEvent is an append-only audit-stream entry ordered by server clock
// plus a monotonic sequence counter, never mutated or deleted in place.
type EmailEvent struct {
	ID        uuid.UUID      `json:"id"`
	OutboxID  uuid.UUID      `json:"outbox_id"`
	LogID     *uuid.UUID     `json:"log_id,omitempty"`
	Type      EventType      `json:"type"`
	Sequence  int64          `json:"sequence"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}
