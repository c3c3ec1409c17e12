package registry

import (
	"errors"
	"testing"

	"jarvis/internal/providers"
)

func TestBuildAllCoversPriority(t *testing.T) {
	set := BuildAll(BuildOptions{})
	for _, name := range providers.Priority {
		p, ok := set[name]
		if !ok || p == nil {
			t.Fatalf("missing adapter for %s", name)
		}
		if p.Name() != name {
			t.Fatalf("adapter for %s reports name %s", name, p.Name())
		}
	}
}

func TestBuildUnknown(t *testing.T) {
	if _, err := Build("claude", BuildOptions{}); !errors.Is(err, providers.ErrUnknownProvider) {
		t.Fatalf("expected unknown provider error, got %v", err)
	}
}
