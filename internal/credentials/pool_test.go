package credentials

import (
	"context"
	"fmt"
	"testing"

	"github.com/seralia/guildmind/internal/provider"
	"github.com/seralia/guildmind/internal/repos"
	"github.com/seralia/guildmind/internal/repos/testutil"
)

type fakeProvider struct {
	invalid map[string]bool
}

func (f *fakeProvider) Descriptor() provider.Descriptor {
	return provider.Descriptor{ID: "fake", Name: "Fake"}
}

func (f *fakeProvider) Generate(context.Context, string, []provider.Message, provider.GenerationConfig) (*provider.Generation, error) {
	return &provider.Generation{Text: "ok"}, nil
}

func (f *fakeProvider) ValidateCredential(_ context.Context, credential string) (bool, error) {
	return !f.invalid[credential], nil
}

func (f *fakeProvider) ListModels(context.Context, string) ([]provider.ModelInfo, error) {
	return nil, nil
}

func (f *fakeProvider) StaticModels() []provider.ModelInfo { return nil }

type otherProvider struct{ fakeProvider }

func (o *otherProvider) Descriptor() provider.Descriptor {
	return provider.Descriptor{ID: "other", Name: "Other"}
}

func newTestPool(t *testing.T, prov provider.Provider) *Pool {
	t.Helper()
	log := testutil.Logger(t)
	registry := provider.NewRegistry("fake", log)
	registry.Register(prov)
	repo := repos.NewCredentialRepo(testutil.DB(t), log)
	return NewPool(repo, registry, log)
}

func TestGetOnEmptyPoolReturnsNil(t *testing.T) {
	pool := newTestPool(t, &fakeProvider{})
	cred, err := pool.Get(context.Background(), "g1", "fake")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if cred != nil {
		t.Fatalf("cred = %+v, want nil", cred)
	}
}

func TestAddValidatesAndStores(t *testing.T) {
	pool := newTestPool(t, &fakeProvider{invalid: map[string]bool{"bad-key": true}})
	ctx := context.Background()

	accepted, rejected, err := pool.Add(ctx, "g1", "fake", []string{"key-a", "bad-key", "key-b"})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if len(accepted) != 2 {
		t.Errorf("accepted = %v, want 2 keys", accepted)
	}
	if len(rejected) != 1 || rejected[0] != "bad-key" {
		t.Errorf("rejected = %v, want [bad-key]", rejected)
	}

	n, err := pool.Count(ctx, "g1")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Fatalf("count = %d, want 2", n)
	}
}

func TestAddIsIdempotentPerKey(t *testing.T) {
	pool := newTestPool(t, &fakeProvider{})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, _, err := pool.Add(ctx, "g1", "fake", []string{"key-a"}); err != nil {
			t.Fatalf("add %d: %v", i, err)
		}
	}
	n, err := pool.Count(ctx, "g1")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("count = %d after re-add, want 1", n)
	}
}

func TestAddEnforcesPoolBound(t *testing.T) {
	pool := newTestPool(t, &fakeProvider{})
	ctx := context.Background()

	keys := make([]string, MaxPoolSize)
	for i := range keys {
		keys[i] = fmt.Sprintf("key-%d", i)
	}
	if _, _, err := pool.Add(ctx, "g1", "fake", keys); err != nil {
		t.Fatalf("fill pool: %v", err)
	}
	if _, _, err := pool.Add(ctx, "g1", "fake", []string{"one-too-many"}); err == nil {
		t.Fatal("add past bound succeeded, want error")
	}
}

func TestGetPicksFromPool(t *testing.T) {
	pool := newTestPool(t, &fakeProvider{})
	ctx := context.Background()

	want := map[string]bool{"key-a": true, "key-b": true}
	if _, _, err := pool.Add(ctx, "g1", "fake", []string{"key-a", "key-b"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		cred, err := pool.Get(ctx, "g1", "fake")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if cred == nil || !want[cred.APIKey] {
			t.Fatalf("got unexpected credential %+v", cred)
		}
		seen[cred.APIKey] = true
	}
	if len(seen) != 2 {
		t.Errorf("50 picks saw %d distinct keys, want both", len(seen))
	}
}

func TestReportFailureEvictsPermanently(t *testing.T) {
	pool := newTestPool(t, &fakeProvider{})
	ctx := context.Background()

	if _, _, err := pool.Add(ctx, "g1", "fake", []string{"key-a", "key-b"}); err != nil {
		t.Fatalf("add: %v", err)
	}

	first, err := pool.Get(ctx, "g1", "fake")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	second, err := pool.ReportFailure(ctx, "g1", first.APIKey, "fake")
	if err != nil {
		t.Fatalf("report failure: %v", err)
	}
	if second == nil || second.APIKey == first.APIKey {
		t.Fatalf("rotation returned %+v after evicting %s", second, first.APIKey)
	}

	third, err := pool.ReportFailure(ctx, "g1", second.APIKey, "fake")
	if err != nil {
		t.Fatalf("report failure: %v", err)
	}
	if third != nil {
		t.Fatalf("rotation on drained pool returned %+v, want nil", third)
	}

	cred, err := pool.Get(ctx, "g1", "fake")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if cred != nil {
		t.Fatalf("evicted keys came back: %+v", cred)
	}
}

func TestGetFiltersByProvider(t *testing.T) {
	log := testutil.Logger(t)
	registry := provider.NewRegistry("fake", log)
	registry.Register(&fakeProvider{})
	registry.Register(&otherProvider{})
	pool := NewPool(repos.NewCredentialRepo(testutil.DB(t), log), registry, log)
	ctx := context.Background()

	if _, _, err := pool.Add(ctx, "g1", "fake", []string{"fake-key"}); err != nil {
		t.Fatalf("add: %v", err)
	}

	// A key validated against one provider is never handed to another.
	cred, err := pool.Get(ctx, "g1", "other")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if cred != nil {
		t.Fatalf("got %+v for provider other, want nil", cred)
	}

	cred, err = pool.Get(ctx, "g1", "fake")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if cred == nil || cred.APIKey != "fake-key" {
		t.Fatalf("got %+v for provider fake, want fake-key", cred)
	}

	// Rotation stays inside the provider's own keys too.
	if _, _, err := pool.Add(ctx, "g1", "other", []string{"other-key"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	next, err := pool.ReportFailure(ctx, "g1", "fake-key", "fake")
	if err != nil {
		t.Fatalf("report failure: %v", err)
	}
	if next != nil {
		t.Fatalf("rotated onto %+v, want nil rather than another provider's key", next)
	}
}

func TestPoolsAreIsolatedPerConversation(t *testing.T) {
	pool := newTestPool(t, &fakeProvider{})
	ctx := context.Background()

	if _, _, err := pool.Add(ctx, "g1", "fake", []string{"key-a"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	cred, err := pool.Get(ctx, "g2", "fake")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if cred != nil {
		t.Fatalf("g2 saw g1's credential %+v", cred)
	}
}
