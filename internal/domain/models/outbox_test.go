// SPDX-License-Identifier: AGPL-3.0-or-later
package models

import "testing"

func TestCanTransition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		from OutboxStatus
		to   OutboxStatus
		want bool
	}{
		{"pending to enqueued", OutboxStatusPending, OutboxStatusEnqueued, true},
		{"pending to processing", OutboxStatusPending, OutboxStatusProcessing, true},
		{"pending to sent skips the queue", OutboxStatusPending, OutboxStatusSent, false},
		{"enqueued to processing", OutboxStatusEnqueued, OutboxStatusProcessing, true},
		{"enqueued back to pending", OutboxStatusEnqueued, OutboxStatusPending, false},
		{"processing to sent", OutboxStatusProcessing, OutboxStatusSent, true},
		{"processing to failed", OutboxStatusProcessing, OutboxStatusFailed, true},
		{"processing to retrying", OutboxStatusProcessing, OutboxStatusRetrying, true},
		{"retrying to processing", OutboxStatusRetrying, OutboxStatusProcessing, true},
		{"retrying to failed", OutboxStatusRetrying, OutboxStatusFailed, true},
		{"retrying back to enqueued", OutboxStatusRetrying, OutboxStatusEnqueued, false},
		{"sent is terminal", OutboxStatusSent, OutboxStatusProcessing, false},
		{"sent cannot re-enter sent", OutboxStatusSent, OutboxStatusSent, false},
		{"failed is terminal", OutboxStatusFailed, OutboxStatusRetrying, false},
		{"unknown from state", OutboxStatus("BOGUS"), OutboxStatusPending, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := CanTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestOutboxStatusIsTerminal(t *testing.T) {
	t.Parallel()

	terminal := []OutboxStatus{OutboxStatusSent, OutboxStatusFailed}
	nonTerminal := []OutboxStatus{OutboxStatusPending, OutboxStatusEnqueued, OutboxStatusProcessing, OutboxStatusRetrying}

	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("expected %s to be terminal", s)
		}
	}
	for _, s := range nonTerminal {
		if s.IsTerminal() {
			t.Errorf("expected %s not to be terminal", s)
		}
	}
}
