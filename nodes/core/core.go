// Package core provides general-purpose node types: constants, delays, and
// string templating.
package core

import (
	"context"
	"strings"
	"text/template"
	"time"

	"github.com/flowmesh/flowrun/runtime/workflow/node"
	"github.com/flowmesh/flowrun/runtime/workflow/param"
	"github.com/flowmesh/flowrun/runtime/workflow/registry"
)

// Node type identifiers.
const (
	TypeConstant = "core.constant"
	TypeDelay    = "core.delay"
	TypeTemplate = "core.template"
)

// Register adds the core node types to the registry.
func Register(r *registry.Registry) error {
	for _, t := range []struct {
		desc    registry.Descriptor
		factory registry.Factory
	}{
		{constantDesc(), func() node.Node { return node.Func(executeConstant) }},
		{delayDesc(), func() node.Node { return node.Func(executeDelay) }},
		{templateDesc(), func() node.Node { return node.Func(executeTemplate) }},
	} {
		if err := r.Register(t.desc, t.factory); err != nil {
			return err
		}
	}
	return nil
}

// MustRegister registers the core node types and panics on error.
func MustRegister(r *registry.Registry) {
	if err := Register(r); err != nil {
		panic(err)
	}
}

func constantDesc() registry.Descriptor {
	return registry.Descriptor{
		ID:          TypeConstant,
		DisplayName: "Constant",
		Description: "Emits its configured value unchanged.",
		Tags:        []string{"core"},
		Inputs: []param.Decl{
			{Name: "value", Kind: param.Any, Required: true},
		},
		Outputs: []param.Decl{
			{Name: "value", Kind: param.Any},
		},
		Inlinable: true,
	}
}

func delayDesc() registry.Descriptor {
	return registry.Descriptor{
		ID:          TypeDelay,
		DisplayName: "Delay",
		Description: "Waits the given number of milliseconds, then forwards its input.",
		Tags:        []string{"core"},
		Inputs: []param.Decl{
			{Name: "value", Kind: param.Any},
			{Name: "milliseconds", Kind: param.Number, Required: true, Default: &param.Value{Kind: param.Number, Data: float64(0)}},
		},
		Outputs: []param.Decl{
			{Name: "value", Kind: param.Any},
		},
	}
}

func templateDesc() registry.Descriptor {
	return registry.Descriptor{
		ID:          TypeTemplate,
		DisplayName: "Template",
		Description: "Renders a Go text template with the node's inputs bound to .vars.",
		Tags:        []string{"core"},
		Inputs: []param.Decl{
			{Name: "template", Kind: param.String, Required: true},
			{Name: "vars", Kind: param.JSON},
		},
		Outputs: []param.Decl{
			{Name: "text", Kind: param.String},
		},
	}
}

func executeConstant(_ context.Context, in *node.Input) *node.Result {
	v, ok := in.Input("value")
	if !ok {
		return node.Errorf("missing required input %q", "value")
	}
	return node.Success(map[string]param.Value{"value": v})
}

func executeDelay(ctx context.Context, in *node.Input) *node.Result {
	ms, errRes := in.Number("milliseconds")
	if errRes != nil {
		return errRes
	}
	if ms > 0 {
		select {
		case <-time.After(time.Duration(ms) * time.Millisecond):
		case <-ctx.Done():
			return node.ErrorFrom(ctx.Err())
		}
	}
	v, _ := in.Input("value")
	return node.Success(map[string]param.Value{"value": v})
}

func executeTemplate(_ context.Context, in *node.Input) *node.Result {
	text, errRes := in.String("template")
	if errRes != nil {
		return errRes
	}
	tmpl, err := template.New("node").Option("missingkey=error").Parse(text)
	if err != nil {
		return node.Errorf("invalid template: %v", err)
	}
	var vars any
	if v, ok := in.Input("vars"); ok {
		vars = v.Data
	}
	var sb strings.Builder
	if err := tmpl.Execute(&sb, map[string]any{"vars": vars}); err != nil {
		return node.Errorf("render template: %v", err)
	}
	return node.Success(map[string]param.Value{
		"text": {Kind: param.String, Data: sb.String()},
	})
}
