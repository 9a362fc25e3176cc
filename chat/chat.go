package chat

import (
	"context"

	"github.com/google/uuid"
	"github.com/parcelbroker/parcelbroker/model"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type IManager interface {
	// CreateOrReuseThread returns the conversation thread id for the two
	// users, creating one if none exists. Idempotent per user pair.
	CreateOrReuseThread(ctx context.Context, userA, userB uint, threadContext string) (string, error)
}

type manager struct {
	db  *gorm.DB
	log *zap.SugaredLogger
}

func NewManager(db *gorm.DB, log *zap.SugaredLogger) IManager {
	return &manager{db: db, log: log}
}

func (m *manager) CreateOrReuseThread(ctx context.Context, userA, userB uint, threadContext string) (string, error) {
	key := model.ChatPairKey(userA, userB)

	thread := model.ChatThread{
		UserA:    userA,
		UserB:    userB,
		PairKey:  key,
		ThreadID: uuid.NewString(),
		Context:  threadContext,
	}
	if err := m.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "pair_key"}},
		DoNothing: true,
	}).Create(&thread).Error; err != nil {
		return "", errors.Wrap(err, "creating chat thread")
	}

	var stored model.ChatThread
	if err := m.db.WithContext(ctx).First(&stored, "pair_key = ?", key).Error; err != nil {
		return "", errors.Wrap(err, "loading chat thread")
	}

	m.log.Debugw("chat thread resolved", "users", key, "thread", stored.ThreadID)
	return stored.ThreadID, nil
}
