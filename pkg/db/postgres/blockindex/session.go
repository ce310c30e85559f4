// Package blockindex stores the block indices in PostgreSQL.
//
// Every index record is one statement executed through a postgres.Executor, so
// a Session can run on a transaction opened by Begin or on any pgx.Tx the
// caller already owns.
package blockindex

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/pakloong/iroha/pkg/db/postgres"
	"github.com/pakloong/iroha/pkg/index"
	"github.com/pakloong/iroha/pkg/ledger"
	"github.com/pakloong/iroha/pkg/retry"
)

// Session writes index records through an Executor.
type Session struct {
	Executor postgres.Executor
}

var _ index.Session = Session{}

func (s Session) MarkIndexed(ctx context.Context, height uint64) (bool, error) {
	tag, err := s.Executor.Exec(ctx, markIndexedSQL, height)
	if err != nil {
		return false, classify(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s Session) InsertAccountHeight(ctx context.Context, account ledger.AccountID, height uint64) error {
	_, err := s.Executor.Exec(ctx, insertAccountHeightSQL, string(account), height)
	return classify(err)
}

func (s Session) AppendAccountAssetPosition(ctx context.Context, key index.AccountAssetKey, ordinal, position int) error {
	_, err := s.Executor.Exec(ctx, insertAssetPositionSQL, string(key.Account), key.Height, string(key.Asset), ordinal, position)
	return classify(err)
}

// classify marks integrity constraint violations (SQLSTATE class 23) as
// permanent; the same statement fails again on retry.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && strings.HasPrefix(pgErr.Code, "23") {
		return retry.Permanent(err)
	}
	return err
}
