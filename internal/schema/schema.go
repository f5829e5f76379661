// Package schema manages content-type definitions.
// Types are declared in a YAML file and treated as read-only presets:
// the API exposes them but never mutates them.
package schema

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// FieldKind enumerates the supported field value kinds.
type FieldKind string

const (
	KindString   FieldKind = "string"
	KindText     FieldKind = "text"
	KindInt      FieldKind = "int"
	KindFloat    FieldKind = "float"
	KindBool     FieldKind = "bool"
	KindDatetime FieldKind = "datetime"
)

// validKinds contains every recognized field kind.
var validKinds = map[FieldKind]bool{
	KindString:   true,
	KindText:     true,
	KindInt:      true,
	KindFloat:    true,
	KindBool:     true,
	KindDatetime: true,
}

// Schema errors.
var (
	ErrTypeUnknown     = errors.New("unknown content type")
	ErrFieldUnknown    = errors.New("unknown field")
	ErrFieldRequired   = errors.New("required field missing")
	ErrFieldWrongKind  = errors.New("field value has wrong kind")
	ErrDefinitionEmpty = errors.New("definition file declares no content types")
)

// typeKeyRegex validates content type keys: lowercase, snake-ish.
var typeKeyRegex = regexp.MustCompile(`^[a-z][a-z0-9_]{1,49}$`)

// Field describes one field of a content type.
type Field struct {
	Name     string    `yaml:"name" json:"name"`
	Kind     FieldKind `yaml:"kind" json:"kind"`
	Required bool      `yaml:"required" json:"required"`
}

// ContentType is a read-only preset describing the shape of entries.
type ContentType struct {
	Key    string  `yaml:"key" json:"key"`
	Name   string  `yaml:"name" json:"name"`
	Fields []Field `yaml:"fields" json:"fields"`
}

// FieldByName returns the field definition with the given name.
func (ct *ContentType) FieldByName(name string) (*Field, bool) {
	for i := range ct.Fields {
		if ct.Fields[i].Name == name {
			return &ct.Fields[i], true
		}
	}
	return nil, false
}

// definitionFile is the on-disk YAML layout.
type definitionFile struct {
	ContentTypes []ContentType `yaml:"content_types"`
}

// Registry holds the loaded content types and supports atomic reload.
type Registry struct {
	mu       sync.RWMutex
	types    map[string]ContentType
	loadedAt time.Time
}

// Load reads and validates a definition file into a new Registry.
func Load(path string) (*Registry, error) {
	types, err := parseFile(path)
	if err != nil {
		return nil, err
	}

	return &Registry{
		types:    types,
		loadedAt: time.Now(),
	}, nil
}

// parseFile reads a YAML definition file into a validated type map.
func parseFile(path string) (map[string]ContentType, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read content types: %w", err)
	}

	var def definitionFile
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parse content types: %w", err)
	}

	if len(def.ContentTypes) == 0 {
		return nil, ErrDefinitionEmpty
	}

	types := make(map[string]ContentType, len(def.ContentTypes))
	for _, ct := range def.ContentTypes {
		if !typeKeyRegex.MatchString(ct.Key) {
			return nil, fmt.Errorf("invalid content type key %q", ct.Key)
		}
		if _, dup := types[ct.Key]; dup {
			return nil, fmt.Errorf("duplicate content type key %q", ct.Key)
		}
		seen := make(map[string]bool, len(ct.Fields))
		for _, f := range ct.Fields {
			if f.Name == "" {
				return nil, fmt.Errorf("content type %q has a field without a name", ct.Key)
			}
			if seen[f.Name] {
				return nil, fmt.Errorf("content type %q declares field %q twice", ct.Key, f.Name)
			}
			seen[f.Name] = true
			if !validKinds[f.Kind] {
				return nil, fmt.Errorf("content type %q field %q has unknown kind %q", ct.Key, f.Name, f.Kind)
			}
		}
		types[ct.Key] = ct
	}

	return types, nil
}

// Get returns the content type for a key.
func (r *Registry) Get(key string) (ContentType, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ct, ok := r.types[key]
	return ct, ok
}

// List returns all content types sorted by key.
func (r *Registry) List() []ContentType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ContentType, 0, len(r.types))
	for _, ct := range r.types {
		out = append(out, ct)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// LoadedAt returns when the current definition set was loaded.
func (r *Registry) LoadedAt() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.loadedAt
}

// Reload re-reads the definition file and swaps the registry contents.
// It returns the keys of content types that disappeared, so callers can
// emit deletion notifications for the removed presets.
func (r *Registry) Reload(path string) (removed []string, err error) {
	types, err := parseFile(path)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for key := range r.types {
		if _, ok := types[key]; !ok {
			removed = append(removed, key)
		}
	}
	sort.Strings(removed)

	r.types = types
	r.loadedAt = time.Now()
	return removed, nil
}

// ValidateFields checks an entry's field document against its type.
// Unknown fields, missing required fields, and wrong kinds are rejected.
func (r *Registry) ValidateFields(typeKey string, fields map[string]any) error {
	ct, ok := r.Get(typeKey)
	if !ok {
		return fmt.Errorf("%w: %s", ErrTypeUnknown, typeKey)
	}

	for name := range fields {
		if _, ok := ct.FieldByName(name); !ok {
			return fmt.Errorf("%w: %s.%s", ErrFieldUnknown, typeKey, name)
		}
	}

	for _, f := range ct.Fields {
		val, present := fields[f.Name]
		if !present || val == nil {
			if f.Required {
				return fmt.Errorf("%w: %s.%s", ErrFieldRequired, typeKey, f.Name)
			}
			continue
		}
		if err := checkKind(f, val); err != nil {
			return err
		}
	}

	return nil
}

// checkKind validates a single decoded JSON value against a field kind.
// JSON numbers decode as float64, so int fields accept whole floats.
func checkKind(f Field, val any) error {
	switch f.Kind {
	case KindString, KindText:
		if _, ok := val.(string); !ok {
			return fmt.Errorf("%w: %s wants %s", ErrFieldWrongKind, f.Name, f.Kind)
		}
	case KindInt:
		num, ok := val.(float64)
		if !ok || num != float64(int64(num)) {
			return fmt.Errorf("%w: %s wants int", ErrFieldWrongKind, f.Name)
		}
	case KindFloat:
		switch val.(type) {
		case float64:
		default:
			return fmt.Errorf("%w: %s wants float", ErrFieldWrongKind, f.Name)
		}
	case KindBool:
		if _, ok := val.(bool); !ok {
			return fmt.Errorf("%w: %s wants bool", ErrFieldWrongKind, f.Name)
		}
	case KindDatetime:
		s, ok := val.(string)
		if !ok {
			return fmt.Errorf("%w: %s wants RFC3339 datetime", ErrFieldWrongKind, f.Name)
		}
		if _, err := time.Parse(time.RFC3339, s); err != nil {
			return fmt.Errorf("%w: %s wants RFC3339 datetime", ErrFieldWrongKind, f.Name)
		}
	}
	return nil
}
