// Package bunstore implements the store contract on PostgreSQL via bun.
package bunstore

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/busihe/chat-for-telemed/internal/store"
	"github.com/busihe/chat-for-telemed/pkg/model"
)

// New opens a connection pool for the given DSN and returns the bundled
// repositories. Ping is left to the first query.
func New(dsn string) (store.Stores, *bun.DB) {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())

	return store.Stores{
		Users:         &UserRepository{db: db},
		Conversations: &ConversationRepository{db: db},
		Messages:      &MessageRepository{db: db},
		Calls:         &CallRepository{db: db},
	}, db
}

// InitSchema creates the tables if they do not exist yet. Production
// deployments run migrations instead; this covers development setups.
func InitSchema(ctx context.Context, db *bun.DB) error {
	models := []any{
		(*model.User)(nil),
		(*model.Conversation)(nil),
		(*model.Message)(nil),
		(*model.Call)(nil),
	}
	for _, m := range models {
		if _, err := db.NewCreateTable().Model(m).IfNotExists().Exec(ctx); err != nil {
			return errors.Wrap(err, "bunstore.InitSchema.CreateTable")
		}
	}
	return nil
}
