// Package media provides node types that operate on binary parameters. They
// receive runtime-form binaries ({data, mimeType}) from the executor and
// return the same; reference resolution and re-upload happen at the executor
// boundary.
package media

import (
	"context"
	"fmt"

	"github.com/flowmesh/flowrun/runtime/workflow/node"
	"github.com/flowmesh/flowrun/runtime/workflow/param"
	"github.com/flowmesh/flowrun/runtime/workflow/registry"
)

// Node type identifiers.
const (
	TypePassthrough = "media.passthrough"
	TypeInspect     = "media.inspect"
)

// Register adds the media node types to the registry.
func Register(r *registry.Registry) error {
	for _, t := range []struct {
		desc    registry.Descriptor
		factory registry.Factory
	}{
		{passthroughDesc(), func() node.Node { return node.Func(executePassthrough) }},
		{inspectDesc(), func() node.Node { return node.Func(executeInspect) }},
	} {
		if err := r.Register(t.desc, t.factory); err != nil {
			return err
		}
	}
	return nil
}

// MustRegister registers the media node types and panics on error.
func MustRegister(r *registry.Registry) {
	if err := Register(r); err != nil {
		panic(err)
	}
}

func passthroughDesc() registry.Descriptor {
	return registry.Descriptor{
		ID:          TypePassthrough,
		DisplayName: "Image Passthrough",
		Description: "Forwards an image unchanged. The output is re-stored as a new object.",
		Tags:        []string{"media"},
		Inputs: []param.Decl{
			{Name: "image", Kind: param.Image, Required: true},
		},
		Outputs: []param.Decl{
			{Name: "image", Kind: param.Image},
		},
	}
}

func inspectDesc() registry.Descriptor {
	return registry.Descriptor{
		ID:          TypeInspect,
		DisplayName: "Inspect Binary",
		Description: "Reports the size and MIME type of any binary value.",
		Tags:        []string{"media"},
		Inputs: []param.Decl{
			{Name: "blob", Kind: param.Blob, Required: true},
		},
		Outputs: []param.Decl{
			{Name: "size", Kind: param.Number},
			{Name: "mime_type", Kind: param.String},
		},
	}
}

func executePassthrough(_ context.Context, in *node.Input) *node.Result {
	bin, errRes := binaryInput(in, "image")
	if errRes != nil {
		return errRes
	}
	return node.Success(map[string]param.Value{
		"image": {Kind: param.Image, Data: bin},
	})
}

func executeInspect(_ context.Context, in *node.Input) *node.Result {
	bin, errRes := binaryInput(in, "blob")
	if errRes != nil {
		return errRes
	}
	return node.Success(map[string]param.Value{
		"size":      {Kind: param.Number, Data: float64(len(bin.Data))},
		"mime_type": {Kind: param.String, Data: bin.MimeType},
	})
}

func binaryInput(in *node.Input, name string) (param.Binary, *node.Result) {
	v, ok := in.Input(name)
	if !ok || v.Data == nil {
		return param.Binary{}, node.Errorf("missing required input %q", name)
	}
	switch b := v.Data.(type) {
	case param.Binary:
		return b, nil
	case *param.Binary:
		return *b, nil
	default:
		return param.Binary{}, node.Errorf("input %q is not binary data (got %s)", name, fmt.Sprintf("%T", v.Data))
	}
}
