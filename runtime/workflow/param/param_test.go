package param

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestValidateScalars(t *testing.T) {
	cases := []struct {
		name    string
		kind    Kind
		data    any
		wantErr string
	}{
		{name: "string ok", kind: String, data: "hello"},
		{name: "string wrong type", kind: String, data: 42, wantErr: ConstraintKindMismatch},
		{name: "number float", kind: Number, data: 4.2},
		{name: "number int", kind: Number, data: 7},
		{name: "number wrong type", kind: Number, data: "7", wantErr: ConstraintKindMismatch},
		{name: "boolean ok", kind: Boolean, data: true},
		{name: "boolean wrong type", kind: Boolean, data: 1, wantErr: ConstraintKindMismatch},
		{name: "date time value", kind: Date, data: time.Now()},
		{name: "date iso string", kind: Date, data: "2026-08-01T12:00:00Z"},
		{name: "date bad string", kind: Date, data: "yesterday", wantErr: ConstraintKindMismatch},
		{name: "secret ok", kind: Secret, data: "api-key-name"},
		{name: "json object", kind: JSON, data: map[string]any{"a": 1.0}},
		{name: "json channel rejected", kind: JSON, data: make(chan int), wantErr: ConstraintKindMismatch},
		{name: "any accepts everything", kind: Any, data: struct{}{}},
		{name: "nil passes all kinds", kind: Number, data: nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(tc.kind, tc.data)
			if tc.wantErr == "" {
				require.NoError(t, err)
				return
			}
			var perr *Error
			require.ErrorAs(t, err, &perr)
			require.Equal(t, tc.wantErr, perr.Constraint)
		})
	}
}

func TestValidateGeoJSON(t *testing.T) {
	require.NoError(t, Validate(GeoJSON, map[string]any{
		"type":        "Point",
		"coordinates": []any{1.0, 2.0},
	}))

	err := Validate(GeoJSON, map[string]any{"coordinates": []any{1.0, 2.0}})
	var perr *Error
	require.ErrorAs(t, err, &perr)
	require.Equal(t, ConstraintMissingField, perr.Constraint)

	err = Validate(GeoJSON, map[string]any{"type": "Circle"})
	require.ErrorAs(t, err, &perr)
	require.Equal(t, ConstraintKindMismatch, perr.Constraint)
}

func TestValidateBinary(t *testing.T) {
	require.NoError(t, Validate(Image, Reference{ID: "obj-1", MimeType: "image/png"}))
	require.NoError(t, Validate(Image, Binary{Data: []byte{1}, MimeType: "image/jpeg"}))
	require.NoError(t, Validate(Blob, Binary{Data: []byte{1}, MimeType: "application/octet-stream"}))
	require.NoError(t, Validate(Document, Reference{ID: "obj-2", MimeType: "application/pdf"}))

	// Wire form decoded from JSON arrives as a plain map.
	require.NoError(t, Validate(Image, map[string]any{"id": "obj-3", "mimeType": "image/png"}))

	var perr *Error
	err := Validate(Image, Reference{ID: "obj-1", MimeType: "image/gif"})
	require.ErrorAs(t, err, &perr)
	require.Equal(t, ConstraintUnknownMime, perr.Constraint)

	err = Validate(Image, Reference{MimeType: "image/png"})
	require.ErrorAs(t, err, &perr)
	require.Equal(t, ConstraintMissingField, perr.Constraint)

	err = Validate(Audio, "not binary")
	require.ErrorAs(t, err, &perr)
	require.Equal(t, ConstraintKindMismatch, perr.Constraint)
}

func TestValidateDeclSchema(t *testing.T) {
	decl := Decl{
		Name: "payload",
		Kind: JSON,
		Schema: json.RawMessage(`{
			"type": "object",
			"required": ["name"],
			"properties": {"name": {"type": "string"}}
		}`),
	}

	require.NoError(t, ValidateDecl(decl, map[string]any{"name": "ok"}))

	err := ValidateDecl(decl, map[string]any{"count": 2.0})
	var perr *Error
	require.ErrorAs(t, err, &perr)
	require.Equal(t, ConstraintSchema, perr.Constraint)

	// Schema only applies to json/geojson declarations.
	strDecl := Decl{Name: "s", Kind: String, Schema: decl.Schema}
	require.NoError(t, ValidateDecl(strDecl, "anything"))
}

func TestIsBinaryAndKnown(t *testing.T) {
	for _, k := range []Kind{Image, Audio, Document, Blob, GLTF, BufferGeometry} {
		require.True(t, IsBinary(k), "kind %s", k)
		require.True(t, Known(k), "kind %s", k)
	}
	for _, k := range []Kind{String, Number, Boolean, Date, JSON, GeoJSON, Secret, Any} {
		require.False(t, IsBinary(k), "kind %s", k)
		require.True(t, Known(k), "kind %s", k)
	}
	require.False(t, Known(Kind("vector")))
}

func TestFloat64(t *testing.T) {
	for _, v := range []any{42, int64(42), uint8(42), float32(42), 42.0, json.Number("42")} {
		f, ok := Float64(v)
		require.True(t, ok, "%T", v)
		require.Equal(t, 42.0, f)
	}
	_, ok := Float64("42")
	require.False(t, ok)
}
