package repository

import (
	"context"

	"github.com/jackc/pgx/v4"
)

type Tx interface{}

var NoTX interface{}

// TransactionManager runs fn inside one database transaction and hands the
// tx handle to repositories through the Tx argument.
//
// Repositories detect a live tx (pgx.Tx for Postgres) and then use it for
// every statement, adding SELECT ... FOR UPDATE on reads that precede a
// write. A NoTX/nil handle means the non-transactional pool path.
//
// USAGE
// tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
// p, err := payments.FindByID(ctx, tx, id)
// ...
// return err
// })
type TransactionManager interface {
	WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx Tx) error) error
}
