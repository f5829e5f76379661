package search

import (
	"strings"
	"testing"
)

func TestValidateJobPayload(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		payload JobPayload
		wantErr bool
	}{
		{
			name:    "valid upsert",
			payload: JobPayload{Op: OpUpsert, EntryID: "01J0example"},
			wantErr: false,
		},
		{
			name:    "valid delete",
			payload: JobPayload{Op: OpDelete, EntryID: "01J0example"},
			wantErr: false,
		},
		{
			name:    "unknown op",
			payload: JobPayload{Op: "reindex", EntryID: "01J0example"},
			wantErr: true,
		},
		{
			name:    "missing entry id",
			payload: JobPayload{Op: OpUpsert},
			wantErr: true,
		},
		{
			name:    "empty payload",
			payload: JobPayload{},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := ValidateJobPayload(tt.payload)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateJobPayload() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestExtractBody(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		fields map[string]any
		want   string
	}{
		{
			name:   "empty fields",
			fields: nil,
			want:   "",
		},
		{
			name:   "single string",
			fields: map[string]any{"body": "hello world"},
			want:   "hello world",
		},
		{
			name: "strings joined in key order",
			fields: map[string]any{
				"zebra": "last",
				"alpha": "first",
			},
			want: "first last",
		},
		{
			name: "non-string values skipped",
			fields: map[string]any{
				"count":     float64(42),
				"published": true,
				"body":      "text",
			},
			want: "text",
		},
		{
			name: "nested lists and maps walked",
			fields: map[string]any{
				"tags": []any{"go", "cms"},
				"meta": map[string]any{"author": "jo"},
			},
			want: "jo go cms",
		},
		{
			name:   "empty strings dropped",
			fields: map[string]any{"a": "", "b": "kept"},
			want:   "kept",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := ExtractBody(tt.fields); got != tt.want {
				t.Errorf("ExtractBody() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtractBody_Truncated(t *testing.T) {
	t.Parallel()

	fields := map[string]any{
		"body": strings.Repeat("word ", 10000),
	}

	got := ExtractBody(fields)
	if len(got) > maxBodyLength {
		t.Errorf("body length = %d, want at most %d", len(got), maxBodyLength)
	}
}

func TestExtractBody_Deterministic(t *testing.T) {
	t.Parallel()

	fields := map[string]any{
		"intro":   "one",
		"body":    "two",
		"outro":   "three",
		"sidebar": map[string]any{"b": "five", "a": "four"},
	}

	first := ExtractBody(fields)
	for i := 0; i < 20; i++ {
		if got := ExtractBody(fields); got != first {
			t.Fatalf("ExtractBody() not deterministic: %q vs %q", got, first)
		}
	}
}

func TestNewConsumerID_Unique(t *testing.T) {
	t.Parallel()

	seen := make(map[string]bool)
	for i := 0; i < 10; i++ {
		id := NewConsumerID()
		if id == "" {
			t.Fatal("empty consumer id")
		}
		if seen[id] {
			t.Fatalf("duplicate consumer id %q", id)
		}
		seen[id] = true
	}
}
