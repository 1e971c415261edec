package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/getkin/kin-openapi/openapi3"
)

// Schema parses raw tool-call arguments into T.
type Schema[T any] interface {
	Parse(raw string) (T, error)
}

// SchemaFunc adapts a function to the Schema interface.
type SchemaFunc[T any] func(raw string) (T, error)

// Parse calls f.
func (f SchemaFunc[T]) Parse(raw string) (T, error) {
	return f(raw)
}

// ErrEmptyArguments indicates a call carried no argument text.
var ErrEmptyArguments = errors.New("empty arguments")

// JSON returns a schema that decodes arguments strictly into T:
// unknown fields and trailing data are rejected.
func JSON[T any]() Schema[T] {
	return SchemaFunc[T](decodeStrict[T])
}

func decodeStrict[T any](raw string) (T, error) {
	var v T
	if len(bytes.TrimSpace([]byte(raw))) == 0 {
		return v, ErrEmptyArguments
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&v); err != nil {
		return v, fmt.Errorf("decode: %w", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return v, errors.New("decode: trailing data after arguments")
	}
	return v, nil
}

// openAPISchema validates arguments against an OpenAPI 3 schema before
// decoding them into T.
type openAPISchema[T any] struct {
	schema *openapi3.Schema
	raw    json.RawMessage
}

// OpenAPI returns a schema that validates arguments against the given
// OpenAPI 3 schema document, then decodes them into T.
// The schema document itself is validated up front.
func OpenAPI[T any](schemaJSON []byte) (Schema[T], error) {
	s := openapi3.NewSchema()
	if err := json.Unmarshal(schemaJSON, s); err != nil {
		return nil, fmt.Errorf("parse schema: %w", err)
	}
	if err := s.Validate(context.Background()); err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}
	return &openAPISchema[T]{schema: s, raw: json.RawMessage(schemaJSON)}, nil
}

// MustOpenAPI is like OpenAPI but panics on an invalid schema document.
func MustOpenAPI[T any](schemaJSON []byte) Schema[T] {
	s, err := OpenAPI[T](schemaJSON)
	if err != nil {
		panic(fmt.Sprintf("tool: %v", err))
	}
	return s
}

// Parse implements Schema.
func (s *openAPISchema[T]) Parse(raw string) (T, error) {
	var zero T
	if len(bytes.TrimSpace([]byte(raw))) == 0 {
		return zero, ErrEmptyArguments
	}

	var value any
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		return zero, fmt.Errorf("decode: %w", err)
	}
	if err := s.schema.VisitJSON(value); err != nil {
		return zero, fmt.Errorf("schema: %w", err)
	}

	var v T
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return zero, fmt.Errorf("decode: %w", err)
	}
	return v, nil
}

// Parameters returns the schema document for tool definitions.
func (s *openAPISchema[T]) Parameters() json.RawMessage {
	return s.raw
}
