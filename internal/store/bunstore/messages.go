package bunstore

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/uptrace/bun"

	"github.com/busihe/chat-for-telemed/internal/store"
	"github.com/busihe/chat-for-telemed/pkg/model"
)

type MessageRepository struct {
	db *bun.DB
}

func (r *MessageRepository) Create(ctx context.Context, msg *model.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.ReadBy == nil {
		msg.ReadBy = []string{}
	}
	_, err := r.db.NewInsert().Model(msg).Returning("*").Exec(ctx)
	if err != nil {
		return errors.Wrap(err, "messageRepo.Create.Insert")
	}
	return nil
}

func (r *MessageRepository) ListByConversation(ctx context.Context, conversationID string) ([]model.Message, error) {
	var msgs []model.Message
	err := r.db.NewSelect().
		Model(&msgs).
		Where("conversation_id = ?", conversationID).
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "messageRepo.ListByConversation.Scan")
	}
	return msgs, nil
}

func (r *MessageRepository) MarkAllRead(ctx context.Context, conversationID, readerID string) (int, error) {
	res, err := r.db.NewUpdate().
		Model((*model.Message)(nil)).
		Set("read = TRUE").
		Set("read_by = array_append(read_by, ?)", readerID).
		Where("conversation_id = ?", conversationID).
		Where("read = FALSE").
		Where("sender_id <> ?", readerID).
		Where("NOT (? = ANY(read_by))", readerID).
		Exec(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "messageRepo.MarkAllRead.Update")
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "messageRepo.MarkAllRead.RowsAffected")
	}
	return int(rows), nil
}

func (r *MessageRepository) MarkRead(ctx context.Context, messageID, conversationID, readerID string) (*model.Message, error) {
	msg := new(model.Message)
	res, err := r.db.NewUpdate().
		Model(msg).
		Set("read_by = CASE WHEN ? = ANY(read_by) THEN read_by ELSE array_append(read_by, ?) END", readerID, readerID).
		Set("read = CASE WHEN sender_id <> ? THEN TRUE ELSE read END", readerID).
		Where("id = ?", messageID).
		Where("conversation_id = ?", conversationID).
		Returning("*").
		Exec(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "messageRepo.MarkRead.Update")
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return nil, errors.Wrap(err, "messageRepo.MarkRead.RowsAffected")
	}
	if rows == 0 {
		return nil, store.ErrNotFound
	}
	return msg, nil
}

func (r *MessageRepository) LastInConversation(ctx context.Context, conversationID string) (*model.Message, error) {
	msg := new(model.Message)
	err := r.db.NewSelect().
		Model(msg).
		Where("conversation_id = ?", conversationID).
		Order("created_at DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "messageRepo.LastInConversation.Scan")
	}
	return msg, nil
}

func (r *MessageRepository) CountUnread(ctx context.Context, conversationID, userID string) (int, error) {
	count, err := r.db.NewSelect().
		Model((*model.Message)(nil)).
		Where("conversation_id = ?", conversationID).
		Where("read = FALSE").
		Where("sender_id <> ?", userID).
		Count(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "messageRepo.CountUnread.Count")
	}
	return count, nil
}
