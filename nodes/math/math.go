// Package math provides arithmetic node types: binary operations over two
// numbers and an n-ary sum over a repeated input.
package math

import (
	"context"

	"github.com/flowmesh/flowrun/runtime/workflow/node"
	"github.com/flowmesh/flowrun/runtime/workflow/param"
	"github.com/flowmesh/flowrun/runtime/workflow/registry"
)

// Node type identifiers.
const (
	TypeAdd      = "math.add"
	TypeSubtract = "math.subtract"
	TypeMultiply = "math.multiply"
	TypeDivide   = "math.divide"
	TypeSum      = "math.sum"
)

// Register adds the arithmetic node types to the registry.
func Register(r *registry.Registry) error {
	for _, t := range []struct {
		desc    registry.Descriptor
		factory registry.Factory
	}{
		{binaryDesc(TypeAdd, "Add", "Adds two numbers."), func() node.Node { return binaryOp(func(a, b float64) (float64, *node.Result) { return a + b, nil }) }},
		{binaryDesc(TypeSubtract, "Subtract", "Subtracts b from a."), func() node.Node { return binaryOp(func(a, b float64) (float64, *node.Result) { return a - b, nil }) }},
		{binaryDesc(TypeMultiply, "Multiply", "Multiplies two numbers."), func() node.Node { return binaryOp(func(a, b float64) (float64, *node.Result) { return a * b, nil }) }},
		{binaryDesc(TypeDivide, "Divide", "Divides a by b."), func() node.Node {
			return binaryOp(func(a, b float64) (float64, *node.Result) {
				if b == 0 {
					return 0, node.Errorf("division by zero")
				}
				return a / b, nil
			})
		}},
		{sumDesc(), func() node.Node { return node.Func(executeSum) }},
	} {
		if err := r.Register(t.desc, t.factory); err != nil {
			return err
		}
	}
	return nil
}

// MustRegister registers the arithmetic node types and panics on error.
func MustRegister(r *registry.Registry) {
	if err := Register(r); err != nil {
		panic(err)
	}
}

func binaryDesc(id, name, description string) registry.Descriptor {
	return registry.Descriptor{
		ID:          id,
		DisplayName: name,
		Description: description,
		Tags:        []string{"math"},
		Inputs: []param.Decl{
			{Name: "a", Kind: param.Number, Required: true},
			{Name: "b", Kind: param.Number, Required: true},
		},
		Outputs: []param.Decl{
			{Name: "result", Kind: param.Number},
		},
	}
}

func sumDesc() registry.Descriptor {
	return registry.Descriptor{
		ID:          TypeSum,
		DisplayName: "Sum",
		Description: "Adds every connected number in connection order.",
		Tags:        []string{"math"},
		Inputs: []param.Decl{
			{Name: "values", Kind: param.Number, Required: true, Repeated: true},
		},
		Outputs: []param.Decl{
			{Name: "result", Kind: param.Number},
		},
	}
}

func binaryOp(op func(a, b float64) (float64, *node.Result)) node.Node {
	return node.Func(func(_ context.Context, in *node.Input) *node.Result {
		a, errRes := in.Number("a")
		if errRes != nil {
			return errRes
		}
		b, errRes := in.Number("b")
		if errRes != nil {
			return errRes
		}
		result, errRes := op(a, b)
		if errRes != nil {
			return errRes
		}
		return node.Success(map[string]param.Value{
			"result": {Kind: param.Number, Data: result},
		})
	})
}

func executeSum(_ context.Context, in *node.Input) *node.Result {
	total := 0.0
	for i, v := range in.Repeated("values") {
		f, ok := param.Float64(v.Data)
		if !ok {
			return node.Errorf("values[%d] is not a number", i)
		}
		total += f
	}
	return node.Success(map[string]param.Value{
		"result": {Kind: param.Number, Data: total},
	})
}
