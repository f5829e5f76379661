package schema

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

const testDefinition = `
content_types:
  - key: article
    name: Article
    fields:
      - name: body
        kind: text
        required: true
      - name: published_on
        kind: datetime
      - name: reading_minutes
        kind: int
  - key: page
    name: Page
    fields:
      - name: body
        kind: text
`

func writeDefinition(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "content-types.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write definition: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	t.Parallel()

	reg, err := Load(writeDefinition(t, testDefinition))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	types := reg.List()
	if len(types) != 2 {
		t.Fatalf("expected 2 types, got %d", len(types))
	}
	if types[0].Key != "article" || types[1].Key != "page" {
		t.Errorf("types not sorted by key: %v, %v", types[0].Key, types[1].Key)
	}

	ct, ok := reg.Get("article")
	if !ok {
		t.Fatal("article type missing")
	}
	if len(ct.Fields) != 3 {
		t.Errorf("expected 3 fields, got %d", len(ct.Fields))
	}
	f, ok := ct.FieldByName("body")
	if !ok || f.Kind != KindText || !f.Required {
		t.Errorf("unexpected body field: %+v", f)
	}
}

func TestLoad_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		yaml string
	}{
		{"empty file", "content_types: []"},
		{"bad key", "content_types:\n  - key: Not-Valid\n    name: X"},
		{"duplicate key", "content_types:\n  - key: a_type\n  - key: a_type"},
		{"unknown kind", "content_types:\n  - key: a_type\n    fields:\n      - name: x\n        kind: blob"},
		{"duplicate field", "content_types:\n  - key: a_type\n    fields:\n      - name: x\n        kind: string\n      - name: x\n        kind: string"},
		{"nameless field", "content_types:\n  - key: a_type\n    fields:\n      - kind: string"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := Load(writeDefinition(t, tt.yaml)); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestRegistry_ValidateFields(t *testing.T) {
	t.Parallel()

	reg, err := Load(writeDefinition(t, testDefinition))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	tests := []struct {
		name    string
		typeKey string
		fields  map[string]any
		wantErr error
	}{
		{
			name:    "valid full document",
			typeKey: "article",
			fields: map[string]any{
				"body":            "hello",
				"published_on":    "2026-08-01T10:00:00Z",
				"reading_minutes": float64(4),
			},
		},
		{
			name:    "optional fields omitted",
			typeKey: "article",
			fields:  map[string]any{"body": "hello"},
		},
		{
			name:    "unknown type",
			typeKey: "gallery",
			fields:  map[string]any{},
			wantErr: ErrTypeUnknown,
		},
		{
			name:    "unknown field",
			typeKey: "page",
			fields:  map[string]any{"body": "x", "extra": 1},
			wantErr: ErrFieldUnknown,
		},
		{
			name:    "missing required",
			typeKey: "article",
			fields:  map[string]any{"reading_minutes": float64(2)},
			wantErr: ErrFieldRequired,
		},
		{
			name:    "nil counts as missing",
			typeKey: "article",
			fields:  map[string]any{"body": nil},
			wantErr: ErrFieldRequired,
		},
		{
			name:    "wrong kind string",
			typeKey: "article",
			fields:  map[string]any{"body": 42},
			wantErr: ErrFieldWrongKind,
		},
		{
			name:    "fractional int",
			typeKey: "article",
			fields:  map[string]any{"body": "x", "reading_minutes": 2.5},
			wantErr: ErrFieldWrongKind,
		},
		{
			name:    "bad datetime",
			typeKey: "article",
			fields:  map[string]any{"body": "x", "published_on": "yesterday"},
			wantErr: ErrFieldWrongKind,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := reg.ValidateFields(tt.typeKey, tt.fields)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("expected no error, got %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestRegistry_Reload_ReportsRemoved(t *testing.T) {
	t.Parallel()

	path := writeDefinition(t, testDefinition)
	reg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	// Drop the page type, keep article.
	next := `
content_types:
  - key: article
    name: Article
    fields:
      - name: body
        kind: text
        required: true
`
	if err := os.WriteFile(path, []byte(next), 0o644); err != nil {
		t.Fatalf("rewrite definition: %v", err)
	}

	removed, err := reg.Reload(path)
	if err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if len(removed) != 1 || removed[0] != "page" {
		t.Errorf("removed = %v, want [page]", removed)
	}
	if _, ok := reg.Get("page"); ok {
		t.Error("page type should be gone after reload")
	}
}

func TestRegistry_Reload_KeepsOldOnError(t *testing.T) {
	t.Parallel()

	path := writeDefinition(t, testDefinition)
	reg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if err := os.WriteFile(path, []byte("content_types: []"), 0o644); err != nil {
		t.Fatalf("rewrite definition: %v", err)
	}

	if _, err := reg.Reload(path); err == nil {
		t.Fatal("expected reload error")
	}
	if _, ok := reg.Get("article"); !ok {
		t.Error("failed reload must keep previous definitions")
	}
}
