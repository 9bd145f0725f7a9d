// Package param implements the typed parameter model shared by workflow
// definitions, node implementations, and the executor.
//
// A parameter is a tagged variant: a Kind discriminator plus a payload whose
// concrete shape must match the kind. Scalar and JSON kinds carry their value
// directly. Binary kinds (image, audio, document, blob, gltf, buffergeometry)
// have two representations: on the wire they carry an object Reference
// ({id, mimeType}) resolved through the object store; at runtime they carry a
// Binary ({data, mimeType}) with the bytes in memory. ToRuntime and ToWire
// convert between the two forms at the executor boundary.
package param

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

type (
	// Kind is the discriminator of a parameter's type.
	Kind string

	// Reference is the wire representation of binary data: an opaque,
	// unguessable object store identifier plus the MIME type of the bytes it
	// resolves to.
	Reference struct {
		ID       string `json:"id"`
		MimeType string `json:"mimeType"`
	}

	// Binary is the runtime representation of binary data: the bytes
	// themselves plus their MIME type. Produced by ToRuntime when resolving a
	// Reference; consumed by ToWire when writing node outputs back to the
	// object store.
	Binary struct {
		Data     []byte `json:"data"`
		MimeType string `json:"mimeType"`
	}

	// Value is a typed parameter value: the Kind discriminator plus the
	// payload. The payload's concrete shape depends on the kind:
	//
	//   string          string
	//   number          float64 (or any Go integer/float)
	//   boolean         bool
	//   date            time.Time or an ISO-8601 string
	//   json, geojson   any JSON-serializable value
	//   secret          string (the secret name, resolved by the node)
	//   binary kinds    Reference (wire) or Binary (runtime)
	//   any             anything above
	//
	// Repeated inputs are materialized by the executor as a Value whose Data
	// is a []Value gathered in edge insertion order.
	Value struct {
		Kind Kind `json:"kind"`
		Data any  `json:"data,omitempty"`
	}

	// Decl declares a parameter on a node: its name, kind, and authoring
	// metadata. Literal values and defaults supplied by the workflow author
	// travel with the declaration.
	Decl struct {
		// Name identifies the parameter on its node. Unique per direction.
		Name string `json:"name"`
		// Kind is the declared parameter kind.
		Kind Kind `json:"kind"`
		// Description is shown by the authoring UI.
		Description string `json:"description,omitempty"`
		// Required marks inputs that must receive a value from an edge, a
		// literal, or a default before the node can execute.
		Required bool `json:"required,omitempty"`
		// Repeated marks inputs that accept multiple incoming edges, yielding
		// an ordered sequence at runtime.
		Repeated bool `json:"repeated,omitempty"`
		// Hidden hides the parameter from the authoring UI.
		Hidden bool `json:"hidden,omitempty"`
		// Value is the literal value embedded by the workflow author, if any.
		// The authoring layer clears it when an incoming edge supplies the
		// input instead.
		Value *Value `json:"value,omitempty"`
		// Default is applied when no edge, caller parameter, or literal
		// provides the input.
		Default *Value `json:"default,omitempty"`
		// Schema optionally constrains json/geojson values with a JSON
		// Schema document. Ignored for other kinds.
		Schema json.RawMessage `json:"schema,omitempty"`
	}

	// Error describes a single parameter validation failure: which constraint
	// failed and for which kind.
	Error struct {
		// Kind is the declared kind the value was checked against.
		Kind Kind
		// Constraint names the failed check (e.g., "kind_mismatch",
		// "unknown_mime_type", "missing_field", "schema").
		Constraint string
		// Message is a human-readable description of the failure.
		Message string
	}
)

// Recognized parameter kinds.
const (
	String         Kind = "string"
	Number         Kind = "number"
	Boolean        Kind = "boolean"
	Date           Kind = "date"
	JSON           Kind = "json"
	GeoJSON        Kind = "geojson"
	Image          Kind = "image"
	Audio          Kind = "audio"
	Document       Kind = "document"
	Blob           Kind = "blob"
	GLTF           Kind = "gltf"
	BufferGeometry Kind = "buffergeometry"
	Secret         Kind = "secret"
	Any            Kind = "any"
)

// Constraint identifiers reported in validation errors.
const (
	ConstraintKindMismatch = "kind_mismatch"
	ConstraintUnknownMime  = "unknown_mime_type"
	ConstraintMissingField = "missing_field"
	ConstraintSchema       = "schema"
)

// binaryMimes maps each binary kind to its allowed MIME set. A nil set means
// any MIME type is accepted (blob).
var binaryMimes = map[Kind]map[string]struct{}{
	Image: {
		"image/jpeg": {},
		"image/png":  {},
	},
	Audio: {
		"audio/mpeg": {},
		"audio/webm": {},
	},
	Document: {
		"application/pdf": {},
		"application/vnd.ms-excel":                                          {},
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": {},
		"text/csv":        {},
		"text/html":       {},
		"text/xml":        {},
		"application/xml": {},
		"image/jpeg":      {},
		"image/png":       {},
		"image/svg+xml":   {},
	},
	Blob: nil,
	GLTF: {
		"model/gltf-binary": {},
		"model/gltf+json":   {},
	},
	BufferGeometry: {
		"application/json": {},
	},
}

// geoJSONTypes enumerates the RFC 7946 object types.
var geoJSONTypes = map[string]struct{}{
	"Point": {}, "MultiPoint": {}, "LineString": {}, "MultiLineString": {},
	"Polygon": {}, "MultiPolygon": {}, "GeometryCollection": {},
	"Feature": {}, "FeatureCollection": {},
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("param %s: %s: %s", e.Kind, e.Constraint, e.Message)
}

// IsBinary reports whether the kind is resolved through the object store.
func IsBinary(k Kind) bool {
	_, ok := binaryMimes[k]
	return ok
}

// Known reports whether k is a recognized parameter kind.
func Known(k Kind) bool {
	switch k {
	case String, Number, Boolean, Date, JSON, GeoJSON, Secret, Any:
		return true
	}
	return IsBinary(k)
}

// MimeAllowed reports whether the MIME type is in the kind's allowed set.
// Returns true for blob (unrestricted) and false for non-binary kinds.
func MimeAllowed(k Kind, mime string) bool {
	set, ok := binaryMimes[k]
	if !ok {
		return false
	}
	if set == nil {
		return mime != ""
	}
	_, ok = set[mime]
	return ok
}

// Validate checks that data's concrete shape matches the declared kind. For
// binary kinds it accepts either a Reference or an in-memory Binary whose
// MIME type belongs to the kind's allowed set. Returns nil on success or a
// typed *Error describing the failed constraint.
func Validate(kind Kind, data any) error {
	if kind == Any || data == nil {
		return nil
	}
	if IsBinary(kind) {
		return validateBinary(kind, data)
	}
	switch kind {
	case String, Secret:
		if _, ok := data.(string); !ok {
			return mismatch(kind, data)
		}
	case Number:
		if !isNumeric(data) {
			return mismatch(kind, data)
		}
	case Boolean:
		if _, ok := data.(bool); !ok {
			return mismatch(kind, data)
		}
	case Date:
		switch v := data.(type) {
		case time.Time:
		case string:
			if _, err := time.Parse(time.RFC3339, v); err != nil {
				return &Error{Kind: kind, Constraint: ConstraintKindMismatch, Message: fmt.Sprintf("not an ISO-8601 timestamp: %q", v)}
			}
		default:
			return mismatch(kind, data)
		}
	case JSON:
		if _, err := json.Marshal(data); err != nil {
			return &Error{Kind: kind, Constraint: ConstraintKindMismatch, Message: "value is not JSON-serializable"}
		}
	case GeoJSON:
		if err := validateGeoJSON(data); err != nil {
			return err
		}
	default:
		return &Error{Kind: kind, Constraint: ConstraintKindMismatch, Message: fmt.Sprintf("unknown kind %q", kind)}
	}
	return nil
}

// ValidateDecl checks data against the declaration: the kind check plus the
// optional JSON Schema constraint for json/geojson declarations.
func ValidateDecl(decl Decl, data any) error {
	if err := Validate(decl.Kind, data); err != nil {
		return err
	}
	if len(decl.Schema) == 0 || data == nil {
		return nil
	}
	if decl.Kind != JSON && decl.Kind != GeoJSON {
		return nil
	}
	return validateSchema(decl, data)
}

func validateSchema(decl Decl, data any) error {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(decl.Schema))
	if err != nil {
		return &Error{Kind: decl.Kind, Constraint: ConstraintSchema, Message: fmt.Sprintf("invalid schema for %q: %v", decl.Name, err)}
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("decl.json", doc); err != nil {
		return &Error{Kind: decl.Kind, Constraint: ConstraintSchema, Message: err.Error()}
	}
	schema, err := compiler.Compile("decl.json")
	if err != nil {
		return &Error{Kind: decl.Kind, Constraint: ConstraintSchema, Message: err.Error()}
	}
	// Round-trip through JSON so Go-native values (structs, typed maps) are
	// normalized into the shapes the schema validator understands.
	raw, err := json.Marshal(data)
	if err != nil {
		return &Error{Kind: decl.Kind, Constraint: ConstraintKindMismatch, Message: "value is not JSON-serializable"}
	}
	normalized, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return &Error{Kind: decl.Kind, Constraint: ConstraintSchema, Message: err.Error()}
	}
	if err := schema.Validate(normalized); err != nil {
		return &Error{Kind: decl.Kind, Constraint: ConstraintSchema, Message: err.Error()}
	}
	return nil
}

func validateBinary(kind Kind, data any) error {
	switch v := data.(type) {
	case Reference:
		return validateReference(kind, v)
	case *Reference:
		if v == nil {
			return nil
		}
		return validateReference(kind, *v)
	case Binary:
		return validateBytes(kind, v)
	case *Binary:
		if v == nil {
			return nil
		}
		return validateBytes(kind, *v)
	case map[string]any:
		// Wire form decoded from JSON: {"id": ..., "mimeType": ...}.
		ref, ok := referenceFromMap(v)
		if !ok {
			return mismatch(kind, data)
		}
		return validateReference(kind, ref)
	default:
		return mismatch(kind, data)
	}
}

func validateReference(kind Kind, ref Reference) error {
	if ref.ID == "" {
		return &Error{Kind: kind, Constraint: ConstraintMissingField, Message: "object reference missing id"}
	}
	if ref.MimeType == "" {
		return &Error{Kind: kind, Constraint: ConstraintMissingField, Message: "object reference missing mimeType"}
	}
	if !MimeAllowed(kind, ref.MimeType) {
		return &Error{Kind: kind, Constraint: ConstraintUnknownMime, Message: fmt.Sprintf("mime type %q not allowed for kind %s", ref.MimeType, kind)}
	}
	return nil
}

func validateBytes(kind Kind, bin Binary) error {
	if bin.MimeType == "" {
		return &Error{Kind: kind, Constraint: ConstraintMissingField, Message: "binary value missing mimeType"}
	}
	if !MimeAllowed(kind, bin.MimeType) {
		return &Error{Kind: kind, Constraint: ConstraintUnknownMime, Message: fmt.Sprintf("mime type %q not allowed for kind %s", bin.MimeType, kind)}
	}
	return nil
}

func validateGeoJSON(data any) error {
	obj, ok := data.(map[string]any)
	if !ok {
		return mismatch(GeoJSON, data)
	}
	typ, _ := obj["type"].(string)
	if typ == "" {
		return &Error{Kind: GeoJSON, Constraint: ConstraintMissingField, Message: "geojson object missing type"}
	}
	if _, ok := geoJSONTypes[typ]; !ok {
		return &Error{Kind: GeoJSON, Constraint: ConstraintKindMismatch, Message: fmt.Sprintf("unknown geojson type %q", typ)}
	}
	return nil
}

func referenceFromMap(m map[string]any) (Reference, bool) {
	id, _ := m["id"].(string)
	mime, _ := m["mimeType"].(string)
	if id == "" && mime == "" {
		return Reference{}, false
	}
	return Reference{ID: id, MimeType: mime}, true
}

func mismatch(kind Kind, data any) *Error {
	return &Error{Kind: kind, Constraint: ConstraintKindMismatch, Message: fmt.Sprintf("value of type %T does not match kind %s", data, kind)}
}

func isNumeric(v any) bool {
	switch v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64, json.Number:
		return true
	}
	return false
}

// Float64 coerces a numeric payload to float64. Returns false for
// non-numeric payloads.
func Float64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
