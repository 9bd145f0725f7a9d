package param

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"
)

var allKinds = []Kind{
	String, Number, Boolean, Date, JSON, GeoJSON,
	Image, Audio, Document, Blob, GLTF, BufferGeometry,
	Secret, Any,
}

func TestAssignableTable(t *testing.T) {
	cases := []struct {
		from, to Kind
		want     bool
	}{
		{String, String, true},
		{Number, Number, true},
		{Any, Image, true},
		{Image, Any, true},
		{String, Date, true},
		{Date, String, false},
		{Image, Blob, false},
		{Blob, Image, false},
		{Image, Document, false},
		{Number, String, false},
		{JSON, GeoJSON, false},
		{Secret, String, false},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, Assignable(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestAssignableProperties(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 200
	properties := gopter.NewProperties(params)

	genKind := gen.OneConstOf(
		String, Number, Boolean, Date, JSON, GeoJSON,
		Image, Audio, Document, Blob, GLTF, BufferGeometry,
		Secret, Any,
	)

	properties.Property("every kind is assignable to itself", prop.ForAll(
		func(k Kind) bool { return Assignable(k, k) },
		genKind,
	))

	properties.Property("any accepts and supplies every kind", prop.ForAll(
		func(k Kind) bool { return Assignable(Any, k) && Assignable(k, Any) },
		genKind,
	))

	properties.Property("binary kinds never cross-assign", prop.ForAll(
		func(from, to Kind) bool {
			if !IsBinary(from) && !IsBinary(to) {
				return true
			}
			if from == to || from == Any || to == Any {
				return true
			}
			return !Assignable(from, to)
		},
		genKind, genKind,
	))

	properties.TestingRun(t)
}
