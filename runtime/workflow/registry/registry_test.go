package registry_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flowmesh/flowrun/runtime/workflow/node"
	"github.com/flowmesh/flowrun/runtime/workflow/param"
	"github.com/flowmesh/flowrun/runtime/workflow/registry"
)

func noopFactory() node.Node {
	return node.Func(func(context.Context, *node.Input) *node.Result {
		return node.Success(nil)
	})
}

func TestRegisterAndLookup(t *testing.T) {
	r := registry.New()
	desc := registry.Descriptor{
		ID:          "test.echo",
		DisplayName: "Echo",
		Inputs:      []param.Decl{{Name: "value", Kind: param.Any}},
		Outputs:     []param.Decl{{Name: "value", Kind: param.Any}},
	}
	require.NoError(t, r.Register(desc, noopFactory))

	got, factory, ok := r.Lookup("test.echo")
	require.True(t, ok)
	require.Equal(t, "Echo", got.DisplayName)
	require.NotNil(t, factory())

	_, _, ok = r.Lookup("test.missing")
	require.False(t, ok)
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	r := registry.New()
	desc := registry.Descriptor{ID: "test.echo"}
	require.NoError(t, r.Register(desc, noopFactory))
	err := r.Register(desc, noopFactory)
	require.ErrorContains(t, err, "already registered")
}

func TestRegisterRejectsMultiStep(t *testing.T) {
	r := registry.New()
	err := r.Register(registry.Descriptor{ID: "test.sleepy", MultiStep: true}, noopFactory)
	require.ErrorContains(t, err, "multi-step")
}

func TestRegisterRequiresIDAndFactory(t *testing.T) {
	r := registry.New()
	require.Error(t, r.Register(registry.Descriptor{}, noopFactory))
	require.Error(t, r.Register(registry.Descriptor{ID: "test.echo"}, nil))
}

func TestDescriptorsSortedByID(t *testing.T) {
	r := registry.New()
	for _, id := range []string{"zeta.last", "alpha.first", "mid.dle"} {
		require.NoError(t, r.Register(registry.Descriptor{ID: id}, noopFactory))
	}
	descs := r.Descriptors()
	require.Len(t, descs, 3)
	require.Equal(t, "alpha.first", descs[0].ID)
	require.Equal(t, "mid.dle", descs[1].ID)
	require.Equal(t, "zeta.last", descs[2].ID)
}

func TestCostDefaultsToOne(t *testing.T) {
	require.Equal(t, 1, registry.Descriptor{}.Cost())
	require.Equal(t, 20, registry.Descriptor{ComputeCost: 20}.Cost())
}
