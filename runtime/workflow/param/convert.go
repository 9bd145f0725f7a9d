package param

import (
	"context"
	"fmt"

	"github.com/flowmesh/flowrun/runtime/workflow/objectstore"
)

// ToRuntime converts a wire-form value into its runtime form. Object
// references carried by binary kinds are resolved to byte buffers through the
// store; literal scalars and JSON values pass through unchanged. Repeated
// values ([]Value payloads) are converted element-wise.
func ToRuntime(ctx context.Context, v Value, store objectstore.Store, orgID string) (Value, error) {
	if list, ok := v.Data.([]Value); ok {
		out := make([]Value, len(list))
		for i, item := range list {
			converted, err := ToRuntime(ctx, item, store, orgID)
			if err != nil {
				return Value{}, err
			}
			out[i] = converted
		}
		return Value{Kind: v.Kind, Data: out}, nil
	}
	if !IsBinary(v.Kind) || v.Data == nil {
		return v, nil
	}
	ref, ok := asReference(v.Data)
	if !ok {
		// Already in runtime form (Binary) or a malformed payload the
		// validator rejects upstream.
		return v, nil
	}
	if store == nil {
		return Value{}, fmt.Errorf("resolve %s reference %s: no object store configured", v.Kind, ref.ID)
	}
	data, mime, err := store.Get(ctx, orgID, ref.ID)
	if err != nil {
		return Value{}, fmt.Errorf("resolve %s reference %s: %w", v.Kind, ref.ID, err)
	}
	if mime == "" {
		mime = ref.MimeType
	}
	return Value{Kind: v.Kind, Data: Binary{Data: data, MimeType: mime}}, nil
}

// ToWire converts a runtime-form value into its wire form. Byte buffers
// produced by nodes are written to the store under the organization and
// execution and replaced by references; everything else passes through.
func ToWire(ctx context.Context, v Value, store objectstore.Store, orgID, executionID string) (Value, error) {
	if list, ok := v.Data.([]Value); ok {
		out := make([]Value, len(list))
		for i, item := range list {
			converted, err := ToWire(ctx, item, store, orgID, executionID)
			if err != nil {
				return Value{}, err
			}
			out[i] = converted
		}
		return Value{Kind: v.Kind, Data: out}, nil
	}
	if !IsBinary(v.Kind) || v.Data == nil {
		return v, nil
	}
	bin, ok := asBinary(v.Data)
	if !ok {
		// Already wire form (a Reference passed through untouched).
		return v, nil
	}
	if store == nil {
		return Value{}, fmt.Errorf("store %s output: no object store configured", v.Kind)
	}
	id, err := store.Put(ctx, orgID, bin.Data, bin.MimeType, executionID)
	if err != nil {
		return Value{}, fmt.Errorf("store %s output: %w", v.Kind, err)
	}
	return Value{Kind: v.Kind, Data: Reference{ID: id, MimeType: bin.MimeType}}, nil
}

func asReference(data any) (Reference, bool) {
	switch v := data.(type) {
	case Reference:
		return v, true
	case *Reference:
		if v == nil {
			return Reference{}, false
		}
		return *v, true
	case map[string]any:
		// JSON-decoded wire form. A map carrying "data" is a decoded Binary,
		// not a reference.
		if _, hasData := v["data"]; hasData {
			return Reference{}, false
		}
		return referenceFromMap(v)
	}
	return Reference{}, false
}

func asBinary(data any) (Binary, bool) {
	switch v := data.(type) {
	case Binary:
		return v, true
	case *Binary:
		if v == nil {
			return Binary{}, false
		}
		return *v, true
	}
	return Binary{}, false
}
