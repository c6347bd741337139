package repos

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/seralia/guildmind/internal/pkg/dbctx"
	"github.com/seralia/guildmind/internal/platform/logger"
	"github.com/seralia/guildmind/internal/types"
)

type ProviderCallLogRepo interface {
	Create(dbc dbctx.Context, rows []*types.ProviderCallLog) ([]*types.ProviderCallLog, error)
}

type providerCallLogRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewProviderCallLogRepo(db *gorm.DB, log *logger.Logger) ProviderCallLogRepo {
	return &providerCallLogRepo{db: db, log: log.With("repo", "ProviderCallLogRepo")}
}

func (r *providerCallLogRepo) Create(dbc dbctx.Context, rows []*types.ProviderCallLog) ([]*types.ProviderCallLog, error) {
	if len(rows) == 0 {
		return []*types.ProviderCallLog{}, nil
	}
	for _, row := range rows {
		if row.ID == uuid.Nil {
			row.ID = uuid.New()
		}
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	if err := txx.WithContext(dbc.Ctx).Create(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
