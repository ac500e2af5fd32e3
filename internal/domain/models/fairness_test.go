// SPDX-License-Identifier: AGPL-3.0-or-later
package models

import "testing"

func TestNextPriority(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name                    string
		roundsWithoutProcessing int
		want                    int
	}{
		{"no starvation uses base priority", 0, BasePriority},
		{"one starved round", 1, BasePriority - 1},
		{"clamps at MinPriority", BasePriority - MinPriority + 5, MinPriority},
		{"never goes negative", 1000, MinPriority},
		{"never exceeds MaxPriority", -100, MaxPriority},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := NextPriority(tt.roundsWithoutProcessing); got != tt.want {
				t.Errorf("NextPriority(%d) = %d, want %d", tt.roundsWithoutProcessing, got, tt.want)
			}
		})
	}
}

func TestNextPriorityIsMonotonicInStarvation(t *testing.T) {
	t.Parallel()

	prev := NextPriority(0)
	for rounds := 1; rounds <= 10; rounds++ {
		cur := NextPriority(rounds)
		if cur > prev {
			t.Fatalf("priority regressed toward less-urgent as starvation grew: rounds=%d prev=%d cur=%d", rounds, prev, cur)
		}
		prev = cur
	}
}
