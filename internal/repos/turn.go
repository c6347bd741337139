package repos

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/seralia/guildmind/internal/pkg/dbctx"
	"github.com/seralia/guildmind/internal/platform/logger"
	"github.com/seralia/guildmind/internal/types"
)

type TurnRepo interface {
	// Upsert inserts the turn, or if (conversation_id, turn_id) already
	// exists updates role and content while keeping the stored timestamp.
	Upsert(dbc dbctx.Context, row *types.Turn) error
	Delete(dbc dbctx.Context, conversationID, turnID string) error
	DeleteAll(dbc dbctx.Context, conversationID string) error
	// ListAsc returns all turns ordered by timestamp then insertion order.
	ListAsc(dbc dbctx.Context, conversationID string) ([]*types.Turn, error)
	Count(dbc dbctx.Context, conversationID string) (int64, error)
	// DeleteOldest removes the n oldest turns by timestamp (ties broken by
	// insertion order).
	DeleteOldest(dbc dbctx.Context, conversationID string, n int) error
	// MaxTimestamp returns the latest stored timestamp, or ok=false when
	// the conversation has no turns.
	MaxTimestamp(dbc dbctx.Context, conversationID string) (time.Time, bool, error)
}

type turnRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewTurnRepo(db *gorm.DB, log *logger.Logger) TurnRepo {
	return &turnRepo{db: db, log: log.With("repo", "TurnRepo")}
}

func (r *turnRepo) tx(dbc dbctx.Context) *gorm.DB {
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	return txx.WithContext(dbc.Ctx)
}

func (r *turnRepo) Upsert(dbc dbctx.Context, row *types.Turn) error {
	if row == nil {
		return fmt.Errorf("missing turn")
	}
	if row.ConversationID == "" || row.TurnID == "" {
		return fmt.Errorf("missing conversation_id or turn_id")
	}

	txx := r.tx(dbc)

	var existing types.Turn
	err := txx.
		Where("conversation_id = ? AND turn_id = ?", row.ConversationID, row.TurnID).
		First(&existing).Error
	switch {
	case err == nil:
		// Content replaced, original timestamp retained.
		return txx.Model(&types.Turn{}).
			Where("id = ?", existing.ID).
			Updates(map[string]interface{}{
				"role":       row.Role,
				"content":    row.Content,
				"updated_at": time.Now().UTC(),
			}).Error
	case errors.Is(err, gorm.ErrRecordNotFound):
		if row.Timestamp.IsZero() {
			row.Timestamp = time.Now().UTC()
		}
		return txx.Create(row).Error
	default:
		return err
	}
}

func (r *turnRepo) Delete(dbc dbctx.Context, conversationID, turnID string) error {
	if conversationID == "" || turnID == "" {
		return fmt.Errorf("missing conversation_id or turn_id")
	}
	return r.tx(dbc).
		Where("conversation_id = ? AND turn_id = ?", conversationID, turnID).
		Delete(&types.Turn{}).Error
}

func (r *turnRepo) DeleteAll(dbc dbctx.Context, conversationID string) error {
	if conversationID == "" {
		return fmt.Errorf("missing conversation_id")
	}
	return r.tx(dbc).
		Where("conversation_id = ?", conversationID).
		Delete(&types.Turn{}).Error
}

func (r *turnRepo) ListAsc(dbc dbctx.Context, conversationID string) ([]*types.Turn, error) {
	if conversationID == "" {
		return nil, fmt.Errorf("missing conversation_id")
	}
	var out []*types.Turn
	if err := r.tx(dbc).
		Where("conversation_id = ?", conversationID).
		Order("timestamp ASC, id ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *turnRepo) Count(dbc dbctx.Context, conversationID string) (int64, error) {
	if conversationID == "" {
		return 0, fmt.Errorf("missing conversation_id")
	}
	var count int64
	if err := r.tx(dbc).
		Model(&types.Turn{}).
		Where("conversation_id = ?", conversationID).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *turnRepo) DeleteOldest(dbc dbctx.Context, conversationID string, n int) error {
	if conversationID == "" {
		return fmt.Errorf("missing conversation_id")
	}
	if n <= 0 {
		return nil
	}
	return r.tx(dbc).Exec(`
		DELETE FROM conversation_turn
		WHERE id IN (
			SELECT id FROM conversation_turn
			WHERE conversation_id = ?
			ORDER BY timestamp ASC, id ASC
			LIMIT ?
		)`, conversationID, n).Error
}

func (r *turnRepo) MaxTimestamp(dbc dbctx.Context, conversationID string) (time.Time, bool, error) {
	if conversationID == "" {
		return time.Time{}, false, fmt.Errorf("missing conversation_id")
	}
	var row types.Turn
	err := r.tx(dbc).
		Where("conversation_id = ?", conversationID).
		Order("timestamp DESC, id DESC").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return row.Timestamp, true, nil
}
