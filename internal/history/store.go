package history

import (
	"context"
	"fmt"
	"time"

	"github.com/seralia/guildmind/internal/pkg/dbctx"
	"github.com/seralia/guildmind/internal/pkg/keymutex"
	"github.com/seralia/guildmind/internal/platform/apierr"
	"github.com/seralia/guildmind/internal/platform/logger"
	"github.com/seralia/guildmind/internal/repos"
	"github.com/seralia/guildmind/internal/types"
)

// DefaultMaxContextSize is the retained-turn cap per conversation.
const DefaultMaxContextSize = 20000

// LimitResolver reports a per-conversation retained-turn cap. Zero or a
// negative value falls back to the store-wide default.
type LimitResolver func(ctx context.Context, conversationID string) int

// Turn is the caller-facing shape of one history entry.
type Turn struct {
	TurnID    string
	Role      string
	Text      string
	Timestamp time.Time
}

// Store is the bounded per-conversation history log. Append and eviction
// run as one serialized step per conversation, so a reader never observes
// the store above capacity.
type Store struct {
	repo    repos.TurnRepo
	locks   *keymutex.KeyMutex
	maxSize int
	limits  LimitResolver
	log     *logger.Logger
}

func NewStore(repo repos.TurnRepo, maxSize int, log *logger.Logger) *Store {
	if maxSize <= 0 {
		maxSize = DefaultMaxContextSize
	}
	return &Store{
		repo:    repo,
		locks:   keymutex.New(),
		maxSize: maxSize,
		log:     log.With("service", "HistoryStore"),
	}
}

func (s *Store) MaxSize() int { return s.maxSize }

// SetLimitResolver installs a per-conversation cap source, consulted on
// every capacity pass. Install before the store is shared.
func (s *Store) SetLimitResolver(r LimitResolver) { s.limits = r }

func (s *Store) capFor(ctx context.Context, conversationID string) int {
	if s.limits != nil {
		if n := s.limits(ctx, conversationID); n > 0 {
			return n
		}
	}
	return s.maxSize
}

// AppendOrUpdate upserts the turn keyed by its external turn id and then
// enforces the capacity bound before returning. Re-inserting an existing
// turn id replaces role and text but keeps the original timestamp.
func (s *Store) AppendOrUpdate(ctx context.Context, conversationID string, turn Turn) error {
	if turn.TurnID == "" {
		return apierr.New(apierr.KindStorage, fmt.Errorf("missing turn_id"))
	}
	maxSize := s.capFor(ctx, conversationID)

	s.locks.Lock(conversationID)
	defer s.locks.Unlock(conversationID)

	dbc := dbctx.Background(ctx)
	row := &types.Turn{
		ConversationID: conversationID,
		TurnID:         turn.TurnID,
		Role:           turn.Role,
		Content:        turn.Text,
		Timestamp:      turn.Timestamp,
	}
	if err := s.repo.Upsert(dbc, row); err != nil {
		return apierr.New(apierr.KindStorage, fmt.Errorf("upsert turn: %w", err))
	}
	if err := s.enforceCapacity(dbc, conversationID, maxSize); err != nil {
		return err
	}
	return nil
}

// Remove deletes the turn if present; removing an absent turn is a no-op.
func (s *Store) Remove(ctx context.Context, conversationID, turnID string) error {
	if turnID == "" {
		return nil
	}
	s.locks.Lock(conversationID)
	defer s.locks.Unlock(conversationID)

	if err := s.repo.Delete(dbctx.Background(ctx), conversationID, turnID); err != nil {
		return apierr.New(apierr.KindStorage, fmt.Errorf("delete turn: %w", err))
	}
	return nil
}

// Clear irreversibly drops every turn in the conversation.
func (s *Store) Clear(ctx context.Context, conversationID string) error {
	s.locks.Lock(conversationID)
	defer s.locks.Unlock(conversationID)

	if err := s.repo.DeleteAll(dbctx.Background(ctx), conversationID); err != nil {
		return apierr.New(apierr.KindStorage, fmt.Errorf("clear conversation: %w", err))
	}
	s.log.Info("Cleared conversation history", "conversation_id", conversationID)
	return nil
}

// List returns all turns ordered by timestamp ascending, ties broken by
// insertion order.
func (s *Store) List(ctx context.Context, conversationID string) ([]Turn, error) {
	rows, err := s.repo.ListAsc(dbctx.Background(ctx), conversationID)
	if err != nil {
		return nil, apierr.New(apierr.KindStorage, fmt.Errorf("list turns: %w", err))
	}
	out := make([]Turn, 0, len(rows))
	for _, row := range rows {
		out = append(out, Turn{
			TurnID:    row.TurnID,
			Role:      row.Role,
			Text:      row.Content,
			Timestamp: row.Timestamp,
		})
	}
	return out, nil
}

// LatestTimestamp returns the newest stored timestamp, ok=false on an empty
// conversation.
func (s *Store) LatestTimestamp(ctx context.Context, conversationID string) (time.Time, bool, error) {
	ts, ok, err := s.repo.MaxTimestamp(dbctx.Background(ctx), conversationID)
	if err != nil {
		return time.Time{}, false, apierr.New(apierr.KindStorage, fmt.Errorf("max timestamp: %w", err))
	}
	return ts, ok, nil
}

// EnforceCapacity trims the conversation down to the cap, oldest first. It
// is exposed for the reconciliation pass, which batches its upserts and
// trims once at the end.
func (s *Store) EnforceCapacity(ctx context.Context, conversationID string) error {
	maxSize := s.capFor(ctx, conversationID)
	s.locks.Lock(conversationID)
	defer s.locks.Unlock(conversationID)
	return s.enforceCapacity(dbctx.Background(ctx), conversationID, maxSize)
}

func (s *Store) enforceCapacity(dbc dbctx.Context, conversationID string, maxSize int) error {
	count, err := s.repo.Count(dbc, conversationID)
	if err != nil {
		return apierr.New(apierr.KindStorage, fmt.Errorf("count turns: %w", err))
	}
	excess := int(count) - maxSize
	if excess <= 0 {
		return nil
	}
	if err := s.repo.DeleteOldest(dbc, conversationID, excess); err != nil {
		return apierr.New(apierr.KindStorage, fmt.Errorf("evict oldest turns: %w", err))
	}
	s.log.Debug("Evicted oldest turns",
		"conversation_id", conversationID,
		"evicted", excess,
	)
	return nil
}
