package metanode

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrCodecValidation marks a value that does not decode or validate under a
// codec.
var ErrCodecValidation = errors.New("codec validation failed")

// JSONCodec encodes values of type T as JSON. Decoding is strict: unknown
// object fields and trailing data are rejected, then Validate runs if set.
type JSONCodec[T any] struct {
	Validate func(T) error
}

// Encode serializes v, which must be a T (or *T).
func (c JSONCodec[T]) Encode(v any) (json.RawMessage, error) {
	var typed T
	switch val := v.(type) {
	case T:
		typed = val
	case *T:
		if val == nil {
			return nil, fmt.Errorf("%w: nil value", ErrCodecValidation)
		}
		typed = *val
	default:
		return nil, fmt.Errorf("%w: unexpected value type %T", ErrCodecValidation, v)
	}
	if c.Validate != nil {
		if err := c.Validate(typed); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCodecValidation, err)
		}
	}
	raw, err := json.Marshal(typed)
	if err != nil {
		return nil, fmt.Errorf("failed to encode value: %w", err)
	}
	return raw, nil
}

// Decode parses raw into a T and validates it.
func (c JSONCodec[T]) Decode(raw json.RawMessage) (any, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, fmt.Errorf("%w: empty value", ErrCodecValidation)
	}

	var v T
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.DisallowUnknownFields() // Strict parsing
	if err := decoder.Decode(&v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCodecValidation, err)
	}
	if decoder.More() {
		return nil, fmt.Errorf("%w: trailing data after value", ErrCodecValidation)
	}
	if c.Validate != nil {
		if err := c.Validate(v); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCodecValidation, err)
		}
	}
	return v, nil
}
