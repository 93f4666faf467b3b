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

type CallRepository struct {
	db *bun.DB
}

func (r *CallRepository) Create(ctx context.Context, call *model.Call) error {
	if call.ID == "" {
		call.ID = uuid.NewString()
	}
	_, err := r.db.NewInsert().Model(call).Returning("*").Exec(ctx)
	if err != nil {
		return errors.Wrap(err, "callRepo.Create.Insert")
	}
	return nil
}

func (r *CallRepository) Get(ctx context.Context, id string) (*model.Call, error) {
	call := new(model.Call)
	err := r.db.NewSelect().Model(call).Where("id = ?", id).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, errors.Wrap(err, "callRepo.Get.Scan")
	}
	return call, nil
}

func (r *CallRepository) ListByUser(ctx context.Context, userID string) ([]model.Call, error) {
	var calls []model.Call
	err := r.db.NewSelect().
		Model(&calls).
		WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("caller_id = ?", userID).WhereOr("receiver_id = ?", userID)
		}).
		Order("created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "callRepo.ListByUser.Scan")
	}
	return calls, nil
}

// Transition is a single conditional UPDATE: the status guard in the WHERE
// clause is what makes terminal states immutable under concurrent writers.
func (r *CallRepository) Transition(ctx context.Context, id string, from []model.CallStatus, change model.CallChange) (*model.Call, error) {
	call := new(model.Call)
	q := r.db.NewUpdate().
		Model(call).
		Set("status = ?", change.Status).
		Where("id = ?", id).
		Where("status IN (?)", bun.In(from)).
		Returning("*")
	if change.StartedAt != nil {
		q = q.Set("started_at = ?", *change.StartedAt)
	}
	if change.EndedAt != nil {
		q = q.Set("ended_at = ?", *change.EndedAt)
	}
	if change.ComputeDuration && change.EndedAt != nil {
		// Duration stays NULL for calls that were never answered.
		q = q.Set("duration = CASE WHEN started_at IS NOT NULL THEN floor(extract(epoch FROM (?::timestamptz - started_at)))::int ELSE duration END", *change.EndedAt)
	}

	res, err := q.Exec(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "callRepo.Transition.Update")
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return nil, errors.Wrap(err, "callRepo.Transition.RowsAffected")
	}
	if rows == 0 {
		return nil, store.ErrNotFound
	}
	return call, nil
}
