package engine

import (
	"encoding/json"
	"fmt"
)

// Schema is the narrow validation interface a port carries. Messages are open
// structured values; a schema checks shape at runtime and rebuilds typed
// payloads when a checkpoint is rehydrated.
type Schema interface {
	// Name identifies the schema in errors and snapshots.
	Name() string

	// Validate reports whether v conforms.
	Validate(v any) error

	// Decode rebuilds a payload of this schema from its JSON snapshot form.
	Decode(data []byte) (any, error)
}

// AnySchema accepts every message and decodes snapshots into generic JSON
// values. It is the default when an agent declares no schema.
type AnySchema struct{}

func (AnySchema) Name() string         { return "any" }
func (AnySchema) Validate(v any) error { return nil }

func (AnySchema) Decode(data []byte) (any, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// TypedSchema validates that payloads are of type T and decodes snapshots
// back into T. Declare one per message variant an agent accepts or emits.
type TypedSchema[T any] struct {
	name string
}

// SchemaOf returns a schema accepting exactly values of type T.
func SchemaOf[T any](name string) TypedSchema[T] {
	return TypedSchema[T]{name: name}
}

func (s TypedSchema[T]) Name() string { return s.name }

func (s TypedSchema[T]) Validate(v any) error {
	if _, ok := v.(T); !ok {
		return fmt.Errorf("schema %q: got %T", s.name, v)
	}
	return nil
}

func (s TypedSchema[T]) Decode(data []byte) (any, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("schema %q: %w", s.name, err)
	}
	return v, nil
}

func schemaName(s Schema) string {
	if s == nil {
		return "any"
	}
	return s.Name()
}

func validate(s Schema, v any) error {
	if s == nil {
		return nil
	}
	return s.Validate(v)
}

func decodePayload(s Schema, data []byte) (any, error) {
	if s == nil {
		s = AnySchema{}
	}
	return s.Decode(data)
}
