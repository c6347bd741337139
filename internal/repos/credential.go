package repos

import (
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/seralia/guildmind/internal/pkg/dbctx"
	"github.com/seralia/guildmind/internal/platform/logger"
	"github.com/seralia/guildmind/internal/types"
)

type CredentialRepo interface {
	List(dbc dbctx.Context, conversationID string) ([]*types.Credential, error)
	Create(dbc dbctx.Context, rows []*types.Credential) ([]*types.Credential, error)
	Delete(dbc dbctx.Context, conversationID, apiKey string) error
	Count(dbc dbctx.Context, conversationID string) (int64, error)
}

type credentialRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewCredentialRepo(db *gorm.DB, log *logger.Logger) CredentialRepo {
	return &credentialRepo{db: db, log: log.With("repo", "CredentialRepo")}
}

func (r *credentialRepo) tx(dbc dbctx.Context) *gorm.DB {
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	return txx.WithContext(dbc.Ctx)
}

func (r *credentialRepo) List(dbc dbctx.Context, conversationID string) ([]*types.Credential, error) {
	if conversationID == "" {
		return nil, fmt.Errorf("missing conversation_id")
	}
	var out []*types.Credential
	if err := r.tx(dbc).
		Where("conversation_id = ?", conversationID).
		Order("created_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *credentialRepo) Create(dbc dbctx.Context, rows []*types.Credential) ([]*types.Credential, error) {
	if len(rows) == 0 {
		return []*types.Credential{}, nil
	}
	for _, row := range rows {
		if row.ID == uuid.Nil {
			row.ID = uuid.New()
		}
	}
	// Re-adding a key that is already in the pool is a no-op.
	if err := r.tx(dbc).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *credentialRepo) Delete(dbc dbctx.Context, conversationID, apiKey string) error {
	if conversationID == "" || apiKey == "" {
		return fmt.Errorf("missing conversation_id or api_key")
	}
	return r.tx(dbc).
		Where("conversation_id = ? AND api_key = ?", conversationID, apiKey).
		Delete(&types.Credential{}).Error
}

func (r *credentialRepo) Count(dbc dbctx.Context, conversationID string) (int64, error) {
	if conversationID == "" {
		return 0, fmt.Errorf("missing conversation_id")
	}
	var count int64
	if err := r.tx(dbc).
		Model(&types.Credential{}).
		Where("conversation_id = ?", conversationID).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
