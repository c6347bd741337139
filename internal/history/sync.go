package history

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/seralia/guildmind/internal/platform/logger"
	"github.com/seralia/guildmind/internal/types"
)

// DefaultFetchLimit bounds how many external messages one resync pulls.
const DefaultFetchLimit = 100

// ExternalMessage is one entry from the chat platform's authoritative
// transcript.
type ExternalMessage struct {
	ID            string
	Text          string
	Timestamp     time.Time
	AuthoredByBot bool
	MentionsBot   bool
}

// Fetcher is the external transcript capability, owned by the chat-platform
// collaborator. It yields up to limit messages newer than after.
type Fetcher interface {
	FetchSince(ctx context.Context, channelID string, after time.Time, limit int) ([]ExternalMessage, error)
}

// SyncFilter decides which external messages a resync imports.
type SyncFilter func(ExternalMessage) bool

// DefaultSyncFilter keeps messages authored by the bot or mentioning it,
// so a resync doesn't import unrelated channel traffic.
func DefaultSyncFilter(m ExternalMessage) bool {
	return m.AuthoredByBot || m.MentionsBot
}

// Syncer reconciles the history store with the external transcript after
// downtime or missed events.
type Syncer struct {
	store  *Store
	filter SyncFilter
	limit  int
	log    *logger.Logger
}

func NewSyncer(store *Store, filter SyncFilter, log *logger.Logger) *Syncer {
	if filter == nil {
		filter = DefaultSyncFilter
	}
	return &Syncer{
		store:  store,
		filter: filter,
		limit:  DefaultFetchLimit,
		log:    log.With("service", "ReconciliationSync"),
	}
}

// Sync backfills external messages newer than the latest stored timestamp.
// An empty conversation is left alone: an explicit clear must not be
// silently undone by resync.
func (s *Syncer) Sync(ctx context.Context, conversationID, channelID string, fetcher Fetcher) error {
	after, ok, err := s.store.LatestTimestamp(ctx, conversationID)
	if err != nil {
		return err
	}
	if !ok {
		s.log.Debug("Skipping resync of empty conversation", "conversation_id", conversationID)
		return nil
	}

	external, err := fetcher.FetchSince(ctx, channelID, after, s.limit)
	if err != nil {
		return fmt.Errorf("fetch external transcript: %w", err)
	}

	imported := make([]ExternalMessage, 0, len(external))
	for _, m := range external {
		if s.filter(m) {
			imported = append(imported, m)
		}
	}
	sort.SliceStable(imported, func(i, j int) bool {
		return imported[i].Timestamp.Before(imported[j].Timestamp)
	})

	for _, m := range imported {
		role := types.RoleUser
		if m.AuthoredByBot {
			role = types.RoleAssistant
		}
		err := s.store.AppendOrUpdate(ctx, conversationID, Turn{
			TurnID:    m.ID,
			Role:      role,
			Text:      m.Text,
			Timestamp: m.Timestamp,
		})
		if err != nil {
			return err
		}
	}

	if err := s.store.EnforceCapacity(ctx, conversationID); err != nil {
		return err
	}

	s.log.Info("Reconciled conversation with external transcript",
		"conversation_id", conversationID,
		"channel_id", channelID,
		"imported", len(imported),
	)
	return nil
}
