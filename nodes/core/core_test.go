package core_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/flowmesh/flowrun/nodes/core"
	"github.com/flowmesh/flowrun/runtime/workflow/node"
	"github.com/flowmesh/flowrun/runtime/workflow/param"
	"github.com/flowmesh/flowrun/runtime/workflow/registry"
)

func newRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	r := registry.New()
	require.NoError(t, core.Register(r))
	return r
}

func invoke(t *testing.T, r *registry.Registry, typ string, ctx context.Context, inputs map[string]param.Value) *node.Result {
	t.Helper()
	_, factory, ok := r.Lookup(typ)
	require.True(t, ok, "type %s not registered", typ)
	return factory().Execute(ctx, &node.Input{Inputs: inputs})
}

func TestConstantForwardsValue(t *testing.T) {
	r := newRegistry(t)
	res := invoke(t, r, core.TypeConstant, context.Background(), map[string]param.Value{
		"value": {Kind: param.String, Data: "hello"},
	})
	require.False(t, res.Failed())
	require.Equal(t, "hello", res.Outputs["value"].Data)
}

func TestConstantIsInlinable(t *testing.T) {
	r := newRegistry(t)
	desc, ok := r.Descriptor(core.TypeConstant)
	require.True(t, ok)
	require.True(t, desc.Inlinable)
}

func TestDelayForwardsAfterWait(t *testing.T) {
	r := newRegistry(t)
	started := time.Now()
	res := invoke(t, r, core.TypeDelay, context.Background(), map[string]param.Value{
		"value":        {Kind: param.Number, Data: 7.0},
		"milliseconds": {Kind: param.Number, Data: 20.0},
	})
	require.False(t, res.Failed())
	require.Equal(t, 7.0, res.Outputs["value"].Data)
	require.GreaterOrEqual(t, time.Since(started), 20*time.Millisecond)
}

func TestDelayHonorsCancellation(t *testing.T) {
	r := newRegistry(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	res := invoke(t, r, core.TypeDelay, ctx, map[string]param.Value{
		"milliseconds": {Kind: param.Number, Data: 60_000.0},
	})
	require.True(t, res.Failed())
}

func TestTemplateRendersVars(t *testing.T) {
	r := newRegistry(t)
	res := invoke(t, r, core.TypeTemplate, context.Background(), map[string]param.Value{
		"template": {Kind: param.String, Data: "{{.vars.name}} scored {{.vars.score}}"},
		"vars":     {Kind: param.JSON, Data: map[string]any{"name": "ada", "score": 10.0}},
	})
	require.False(t, res.Failed())
	require.Equal(t, "ada scored 10", res.Outputs["text"].Data)
}

func TestTemplateRejectsBadSyntax(t *testing.T) {
	r := newRegistry(t)
	res := invoke(t, r, core.TypeTemplate, context.Background(), map[string]param.Value{
		"template": {Kind: param.String, Data: "{{.vars.name"},
	})
	require.True(t, res.Failed())
	require.Contains(t, res.Err.Message, "invalid template")
}

func TestTemplateMissingKeyFails(t *testing.T) {
	r := newRegistry(t)
	res := invoke(t, r, core.TypeTemplate, context.Background(), map[string]param.Value{
		"template": {Kind: param.String, Data: "{{.vars.absent}}"},
		"vars":     {Kind: param.JSON, Data: map[string]any{"present": true}},
	})
	require.True(t, res.Failed())
}
