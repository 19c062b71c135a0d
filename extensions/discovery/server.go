package discovery

import (
	"github.com/p402-io/p402/types"
)

// DeclareFunc builds the declaration for one advertised resource. Returning
// nil leaves that resource undeclared.
type DeclareFunc func(resource *types.ResourceInfo, requirements []types.PaymentRequirements) *types.Extension

// ResourceExtension attaches discovery declarations to 402 responses.
// Register it on a resource server; the envelope it contributes appears
// under Key in the response extensions.
type ResourceExtension struct {
	declare DeclareFunc
}

var _ types.ResourceServiceExtension = (*ResourceExtension)(nil)

// NewResourceExtension declares every advertised resource with the same
// envelope. Use Declare to build one.
func NewResourceExtension(declaration *types.Extension) *ResourceExtension {
	return &ResourceExtension{
		declare: func(*types.ResourceInfo, []types.PaymentRequirements) *types.Extension {
			return declaration
		},
	}
}

// NewResourceExtensionFunc declares resources individually. Servers hosting
// several paid endpoints switch on the resource here.
func NewResourceExtensionFunc(fn DeclareFunc) *ResourceExtension {
	return &ResourceExtension{declare: fn}
}

func (e *ResourceExtension) Key() string {
	return Key
}

func (e *ResourceExtension) EnrichDeclaration(resource *types.ResourceInfo, requirements []types.PaymentRequirements) *types.Extension {
	if e.declare == nil {
		return nil
	}
	return e.declare(resource, requirements)
}
