package discovery

import (
	"testing"

	p402 "github.com/p402-io/p402"
	"github.com/p402-io/p402/types"
)

func TestResourceExtension(t *testing.T) {
	declaration, err := Declare(MethodGET, map[string]interface{}{"q": "test"}, nil, "", nil)
	if err != nil {
		t.Fatalf("Declare failed: %v", err)
	}

	extension := NewResourceExtension(declaration)
	if extension.Key() != Key {
		t.Errorf("Expected key %q, got %q", Key, extension.Key())
	}
	if got := extension.EnrichDeclaration(&types.ResourceInfo{URL: "https://api.example.com"}, nil); got != declaration {
		t.Error("Expected the same declaration for every resource")
	}
}

func TestResourceExtensionFunc(t *testing.T) {
	declaration, err := Declare(MethodGET, nil, nil, "", nil)
	if err != nil {
		t.Fatalf("Declare failed: %v", err)
	}

	extension := NewResourceExtensionFunc(func(resource *types.ResourceInfo, _ []types.PaymentRequirements) *types.Extension {
		if resource.URL == "https://api.example.com/search" {
			return declaration
		}
		return nil
	})

	if got := extension.EnrichDeclaration(&types.ResourceInfo{URL: "https://api.example.com/search"}, nil); got != declaration {
		t.Error("Expected declaration for the declared resource")
	}
	if got := extension.EnrichDeclaration(&types.ResourceInfo{URL: "https://api.example.com/other"}, nil); got != nil {
		t.Error("Expected nil for undeclared resources")
	}
}

func TestResourceExtensionOnServer(t *testing.T) {
	declaration, err := Declare(MethodGET, map[string]interface{}{"q": "test"}, nil, "", nil)
	if err != nil {
		t.Fatalf("Declare failed: %v", err)
	}

	server := p402.NewP402ResourceServer()
	server.RegisterExtension(NewResourceExtension(declaration))

	built := server.BuildExtensions(&p402.ResourceInfo{URL: "https://api.example.com/search"}, nil)
	if built == nil {
		t.Fatal("Expected extensions to be built")
	}
	envelope, ok := built[Key]
	if !ok {
		t.Fatalf("Expected envelope under %q, got %v", Key, built)
	}
	if envelope != declaration {
		t.Error("Expected the declared envelope to pass through unchanged")
	}
}
