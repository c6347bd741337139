package provider

import (
	"context"
	"errors"
	"testing"

	"github.com/seralia/guildmind/internal/repos/testutil"
)

type stubProvider struct {
	id      string
	models  []ModelInfo
	listErr error
	static  []ModelInfo
}

func (s *stubProvider) Descriptor() Descriptor { return Descriptor{ID: s.id, Name: s.id} }

func (s *stubProvider) Generate(context.Context, string, []Message, GenerationConfig) (*Generation, error) {
	return &Generation{Text: "ok"}, nil
}

func (s *stubProvider) ValidateCredential(context.Context, string) (bool, error) { return true, nil }

func (s *stubProvider) ListModels(context.Context, string) ([]ModelInfo, error) {
	return s.models, s.listErr
}

func (s *stubProvider) StaticModels() []ModelInfo { return s.static }

func TestRegistryResolvesKnownProvider(t *testing.T) {
	r := NewRegistry("a", testutil.Logger(t))
	r.Register(&stubProvider{id: "a"})
	r.Register(&stubProvider{id: "b"})

	if got := r.Resolve("b").Descriptor().ID; got != "b" {
		t.Errorf("resolved %s, want b", got)
	}
}

func TestRegistryFallsBackToDefault(t *testing.T) {
	r := NewRegistry("a", testutil.Logger(t))
	r.Register(&stubProvider{id: "a"})

	for _, id := range []string{"", "nonsense", "b"} {
		if got := r.Resolve(id).Descriptor().ID; got != "a" {
			t.Errorf("Resolve(%q) = %s, want default a", id, got)
		}
	}
}

func TestRegistryListIsSorted(t *testing.T) {
	r := NewRegistry("a", testutil.Logger(t))
	r.Register(&stubProvider{id: "b"})
	r.Register(&stubProvider{id: "a"})

	got := r.List()
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "b" {
		t.Errorf("list = %+v", got)
	}
}

func TestRegistryListModelsFallsBackToStatic(t *testing.T) {
	static := []ModelInfo{{ID: "static-model"}}
	live := []ModelInfo{{ID: "live-model"}}

	t.Run("live listing works", func(t *testing.T) {
		r := NewRegistry("a", testutil.Logger(t))
		r.Register(&stubProvider{id: "a", models: live, static: static})
		got := r.ListModels(context.Background(), "a", "k")
		if len(got) != 1 || got[0].ID != "live-model" {
			t.Errorf("models = %+v", got)
		}
	})
	t.Run("live listing fails", func(t *testing.T) {
		r := NewRegistry("a", testutil.Logger(t))
		r.Register(&stubProvider{id: "a", listErr: errors.New("down"), static: static})
		got := r.ListModels(context.Background(), "a", "k")
		if len(got) != 1 || got[0].ID != "static-model" {
			t.Errorf("models = %+v", got)
		}
	})
	t.Run("live listing empty", func(t *testing.T) {
		r := NewRegistry("a", testutil.Logger(t))
		r.Register(&stubProvider{id: "a", static: static})
		got := r.ListModels(context.Background(), "a", "k")
		if len(got) != 1 || got[0].ID != "static-model" {
			t.Errorf("models = %+v", got)
		}
	})
}
