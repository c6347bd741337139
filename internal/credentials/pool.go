package credentials

import (
	"context"
	"fmt"
	"math/rand/v2"

	"golang.org/x/sync/errgroup"

	"github.com/seralia/guildmind/internal/pkg/dbctx"
	"github.com/seralia/guildmind/internal/pkg/keymutex"
	"github.com/seralia/guildmind/internal/platform/apierr"
	"github.com/seralia/guildmind/internal/platform/logger"
	"github.com/seralia/guildmind/internal/provider"
	"github.com/seralia/guildmind/internal/repos"
	"github.com/seralia/guildmind/internal/types"
)

// MaxPoolSize caps how many keys a conversation may register.
const MaxPoolSize = 10

// Pool manages the per-conversation API key pool. Selection is uniform
// random and a key reported as failed is evicted for good.
type Pool struct {
	repo     repos.CredentialRepo
	registry *provider.Registry
	locks    *keymutex.KeyMutex
	log      *logger.Logger
}

func NewPool(repo repos.CredentialRepo, registry *provider.Registry, log *logger.Logger) *Pool {
	return &Pool{
		repo:     repo,
		registry: registry,
		locks:    keymutex.New(),
		log:      log.With("service", "CredentialPool"),
	}
}

// Get picks one credential for the given provider uniformly at random, or
// nil when none match. A key validated against one provider is never handed
// to another. Emptiness is a normal state here, not an error.
func (p *Pool) Get(ctx context.Context, conversationID, providerID string) (*types.Credential, error) {
	rows, err := p.repo.List(dbctx.Background(ctx), conversationID)
	if err != nil {
		return nil, apierr.New(apierr.KindStorage, fmt.Errorf("list credentials: %w", err))
	}
	return pick(rows, providerID), nil
}

// ReportFailure permanently evicts the failed key and picks a replacement
// from what remains for the same provider, all under the conversation lock
// so two concurrent failures cannot both rotate onto the same dead key.
func (p *Pool) ReportFailure(ctx context.Context, conversationID, apiKey, providerID string) (*types.Credential, error) {
	p.locks.Lock(conversationID)
	defer p.locks.Unlock(conversationID)

	if err := p.repo.Delete(dbctx.Background(ctx), conversationID, apiKey); err != nil {
		return nil, apierr.New(apierr.KindStorage, fmt.Errorf("evict credential: %w", err))
	}
	p.log.Warn("Evicted failing credential", "conversation_id", conversationID, "api_key", apiKey)

	rows, err := p.repo.List(dbctx.Background(ctx), conversationID)
	if err != nil {
		return nil, apierr.New(apierr.KindStorage, fmt.Errorf("list credentials: %w", err))
	}
	return pick(rows, providerID), nil
}

// Add validates each key against the provider before admitting it. Keys are
// validated concurrently; invalid ones are reported back rather than failing
// the whole batch.
func (p *Pool) Add(ctx context.Context, conversationID, providerID string, keys []string) (accepted, rejected []string, err error) {
	if len(keys) == 0 {
		return nil, nil, fmt.Errorf("no keys given")
	}

	p.locks.Lock(conversationID)
	defer p.locks.Unlock(conversationID)

	existing, err := p.repo.Count(dbctx.Background(ctx), conversationID)
	if err != nil {
		return nil, nil, apierr.New(apierr.KindStorage, fmt.Errorf("count credentials: %w", err))
	}
	if existing+int64(len(keys)) > MaxPoolSize {
		return nil, nil, fmt.Errorf("pool limited to %d keys, have %d", MaxPoolSize, existing)
	}

	prov := p.registry.Resolve(providerID)
	valid := make([]bool, len(keys))
	g, gctx := errgroup.WithContext(ctx)
	for i, key := range keys {
		g.Go(func() error {
			ok, err := prov.ValidateCredential(gctx, key)
			if err != nil || !ok {
				p.log.Warn("Rejected invalid credential",
					"conversation_id", conversationID,
					"provider", prov.Descriptor().ID,
					"api_key", key,
					"error", err,
				)
				return nil
			}
			valid[i] = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	var rows []*types.Credential
	for i, key := range keys {
		if !valid[i] {
			rejected = append(rejected, key)
			continue
		}
		accepted = append(accepted, key)
		rows = append(rows, &types.Credential{
			ConversationID: conversationID,
			Provider:       prov.Descriptor().ID,
			APIKey:         key,
		})
	}
	if _, err := p.repo.Create(dbctx.Background(ctx), rows); err != nil {
		return nil, nil, apierr.New(apierr.KindStorage, fmt.Errorf("store credentials: %w", err))
	}
	p.log.Info("Updated credential pool",
		"conversation_id", conversationID,
		"accepted", len(accepted),
		"rejected", len(rejected),
	)
	return accepted, rejected, nil
}

// Count reports the current pool size.
func (p *Pool) Count(ctx context.Context, conversationID string) (int64, error) {
	n, err := p.repo.Count(dbctx.Background(ctx), conversationID)
	if err != nil {
		return 0, apierr.New(apierr.KindStorage, fmt.Errorf("count credentials: %w", err))
	}
	return n, nil
}

func pick(rows []*types.Credential, providerID string) *types.Credential {
	matching := make([]*types.Credential, 0, len(rows))
	for _, row := range rows {
		if row.Provider == providerID {
			matching = append(matching, row)
		}
	}
	if len(matching) == 0 {
		return nil
	}
	return matching[rand.IntN(len(matching))]
}
