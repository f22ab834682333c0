package fragments

import (
	"fmt"

	"github.com/goliatone/go-fragments/internal/hydrate"
)

// DecodeOption configures snapshot decoding into a typed struct.
type DecodeOption[T any] = hydrate.DecoderOption[T]

// DecodeContext identifies the source of a decoded snapshot.
type DecodeContext = hydrate.Context

// DecodeWithPreHook rewrites the snapshot map before it is decoded.
func DecodeWithPreHook[T any](hook func(DecodeContext, map[string]any) (map[string]any, error)) DecodeOption[T] {
	return hydrate.WithPreHook[T](hook)
}

// DecodeWithPostHook adjusts or validates the decoded value.
func DecodeWithPostHook[T any](hook func(DecodeContext, *T) error) DecodeOption[T] {
	return hydrate.WithPostHook[T](hook)
}

// DecodeStrict rejects snapshot keys without a matching struct field.
func DecodeStrict[T any]() DecodeOption[T] {
	return hydrate.WithDisallowUnknownFields[T]()
}

// DecodeUseNumber keeps numbers as json.Number.
func DecodeUseNumber[T any]() DecodeOption[T] {
	return hydrate.WithUseNumber[T]()
}

// Decode projects a record or fragment to its plain snapshot and decodes it
// into T.
func Decode[T any](source any, opts ...DecodeOption[T]) (T, error) {
	var zero T
	var (
		snapshot any
		ctx      DecodeContext
	)
	switch v := source.(type) {
	case *Record:
		if v == nil {
			return zero, fmt.Errorf("fragments: decode nil record")
		}
		snapshot = v.Snapshot()
		ctx = DecodeContext{Type: v.typ.name, Location: v.location()}
	case *Fragment:
		if v == nil {
			return zero, fmt.Errorf("fragments: decode nil fragment")
		}
		snapshot = v.Snapshot()
		ctx = DecodeContext{Type: v.typ.name, Location: v.location()}
	case map[string]any:
		snapshot = v
	default:
		return zero, fmt.Errorf("fragments: cannot decode %T", source)
	}
	payload, ok := snapshot.(map[string]any)
	if !ok {
		return zero, fmt.Errorf("fragments: snapshot of %s is %T, want an object", ctx.Location, snapshot)
	}
	return hydrate.NewDecoder(opts...).Decode(ctx, payload)
}
