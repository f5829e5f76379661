package model

import "testing"

func TestSubscription_Matches(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		sub    Subscription
		event  EventType
		want   bool
	}{
		{
			name:  "active with matching filter",
			sub:   Subscription{Active: true, EventTypes: []EventType{EventEntryCreated}},
			event: EventEntryCreated,
			want:  true,
		},
		{
			name:  "active with non-matching filter",
			sub:   Subscription{Active: true, EventTypes: []EventType{EventEntryCreated}},
			event: EventEntryDeleted,
			want:  false,
		},
		{
			name:  "empty filter matches all",
			sub:   Subscription{Active: true},
			event: EventIndexRebuildCompleted,
			want:  true,
		},
		{
			name:  "inactive never matches",
			sub:   Subscription{Active: false, EventTypes: []EventType{EventEntryCreated}},
			event: EventEntryCreated,
			want:  false,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.sub.Matches(tt.event); got != tt.want {
				t.Errorf("Matches(%s) = %v, want %v", tt.event, got, tt.want)
			}
		})
	}
}

func TestEventType_IsValid(t *testing.T) {
	t.Parallel()

	for _, et := range AllEventTypes {
		if !et.IsValid() {
			t.Errorf("%s should be valid", et)
		}
	}
	if EventType("entry.exploded").IsValid() {
		t.Error("unknown event type should be invalid")
	}
}
