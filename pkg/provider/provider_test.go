package provider

import (
	"context"
	"errors"
	"testing"

	"github.com/llmsecgw/gateway/pkg/apitypes"
)

type stubAdapter struct{ calls int }

func (s *stubAdapter) Complete(ctx context.Context, req apitypes.Request) (apitypes.Response, error) {
	s.calls++
	return apitypes.Response{Model: req.Model}, nil
}

func (s *stubAdapter) Stream(ctx context.Context, req apitypes.Request) (<-chan apitypes.Chunk, error) {
	return nil, nil
}

func TestRegistryConstructsLazily(t *testing.T) {
	built := 0
	reg := NewRegistry()
	reg.Register("openai", func() (Adapter, error) {
		built++
		return &stubAdapter{}, nil
	})

	if built != 0 {
		t.Fatal("expected no adapter constructed before first Get")
	}
	a1, err := reg.Get("openai")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	a2, err := reg.Get("openai")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if a1 != a2 {
		t.Fatal("expected the same adapter instance across calls")
	}
	if built != 1 {
		t.Fatalf("expected exactly one construction, got %d", built)
	}
}

func TestRegistryUnknownTag(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Get("nope")
	if err == nil {
		t.Fatal("expected error for unregistered tag")
	}
}

func TestRegistryPropagatesConstructionError(t *testing.T) {
	reg := NewRegistry()
	reg.Register("broken", func() (Adapter, error) {
		return nil, errors.New("boom")
	})
	_, err := reg.Get("broken")
	if err == nil {
		t.Fatal("expected construction error to propagate")
	}
}
