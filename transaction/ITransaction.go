package transaction

import (
	"context"

	"ultraGraph/command"
	"ultraGraph/store"
	"ultraGraph/txinterface"
)

type TransactionInterface interface {
	Identifier() txinterface.TxID
	Read(ctx context.Context, kind store.Kind, id uint64) (store.Record, error)
	Write(ctx context.Context, cmd *command.Command) error
	Commit(ctx context.Context) error
	Rollback() error
}

var _ TransactionInterface = (*Transaction)(nil)
