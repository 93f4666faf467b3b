package bunstore

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"github.com/busihe/chat-for-telemed/internal/store"
	"github.com/busihe/chat-for-telemed/pkg/model"
)

type ConversationRepository struct {
	db *bun.DB
}

func (r *ConversationRepository) Create(ctx context.Context, participants []string) (*model.Conversation, error) {
	conv := &model.Conversation{
		ID:           uuid.NewString(),
		Participants: participants,
	}
	_, err := r.db.NewInsert().Model(conv).Returning("*").Exec(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "conversationRepo.Create.Insert")
	}
	return conv, nil
}

func (r *ConversationRepository) Get(ctx context.Context, id string) (*model.Conversation, error) {
	conv := new(model.Conversation)
	err := r.db.NewSelect().Model(conv).Where("id = ?", id).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, errors.Wrap(err, "conversationRepo.Get.Scan")
	}
	return conv, nil
}

func (r *ConversationRepository) ListByParticipant(ctx context.Context, userID string) ([]model.Conversation, error) {
	var convs []model.Conversation
	err := r.db.NewSelect().
		Model(&convs).
		Where("? = ANY(participants)", userID).
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "conversationRepo.ListByParticipant.Scan")
	}
	return convs, nil
}

func (r *ConversationRepository) FindByParticipants(ctx context.Context, participants []string) (*model.Conversation, error) {
	conv := new(model.Conversation)
	// Mutual containment matches the exact set regardless of order.
	err := r.db.NewSelect().
		Model(conv).
		Where("participants @> ?", pgdialect.Array(participants)).
		Where("participants <@ ?", pgdialect.Array(participants)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, errors.Wrap(err, "conversationRepo.FindByParticipants.Scan")
	}
	return conv, nil
}
