package blockindex

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/pakloong/iroha/pkg/db/postgres"
	"github.com/pakloong/iroha/pkg/index"
	"github.com/pakloong/iroha/pkg/ledger"
	"github.com/pakloong/iroha/pkg/retry"
)

// MockTx is a mock pgx.Tx. Methods that are not overridden panic through the nil embedded interface.
type MockTx struct {
	pgx.Tx
	mock.Mock
}

func (m *MockTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	called := m.Called(append([]any{ctx, sql}, args...)...)
	return called.Get(0).(pgconn.CommandTag), called.Error(1)
}

func (m *MockTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	called := m.Called(append([]any{ctx, sql}, args...)...)
	return called.Get(0).(pgx.Rows), called.Error(1)
}

func (m *MockTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	called := m.Called(append([]any{ctx, sql}, args...)...)
	return called.Get(0).(pgx.Row)
}

func (m *MockTx) Commit(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockTx) Rollback(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

type fakeRow struct {
	value any
	err   error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	switch d := dest[0].(type) {
	case *uint64:
		*d = r.value.(uint64)
	case *bool:
		*d = r.value.(bool)
	}
	return nil
}

// pendingRows yields pending records. Methods that are not overridden panic through the nil embedded interface.
type pendingRows struct {
	pgx.Rows
	records []index.PendingRecord
	i       int
}

func (r *pendingRows) Next() bool {
	r.i++
	return r.i <= len(r.records)
}

func (r *pendingRows) Scan(dest ...any) error {
	rec := r.records[r.i-1]
	*dest[0].(*uint64) = rec.Height
	*dest[1].(*[]byte) = rec.Block
	*dest[2].(*string) = rec.Reason
	*dest[3].(*time.Time) = rec.Since
	return nil
}

func (r *pendingRows) Err() error { return nil }
func (r *pendingRows) Close()     {}

func TestSessionMarkIndexed(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name  string
		tag   string
		fresh bool
	}{
		{"new height", "INSERT 0 1", true},
		{"already marked", "INSERT 0 0", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := new(MockTx)
			tx.On("Exec", ctx, markIndexedSQL, uint64(5)).Return(pgconn.NewCommandTag(tt.tag), nil)

			fresh, err := Session{Executor: tx}.MarkIndexed(ctx, 5)
			require.NoError(t, err)
			assert.Equal(t, tt.fresh, fresh)
			tx.AssertExpectations(t)
		})
	}
}

func TestIndexerWritesOneStatementPerRecord(t *testing.T) {
	ctx := context.Background()
	tx := new(MockTx)
	ok := pgconn.NewCommandTag("INSERT 0 1")

	tx.On("Exec", ctx, markIndexedSQL, uint64(5)).Return(ok, nil).Once()
	tx.On("Exec", ctx, insertAccountHeightSQL, "a@domain", uint64(5)).Return(ok, nil).Once()
	tx.On("Exec", ctx, insertAccountHeightSQL, "b@domain", uint64(5)).Return(ok, nil).Once()
	tx.On("Exec", ctx, insertAssetPositionSQL, "a@domain", uint64(5), "coin#domain", 0, 0).Return(ok, nil).Once()
	tx.On("Exec", ctx, insertAssetPositionSQL, "b@domain", uint64(5), "coin#domain", 0, 0).Return(ok, nil).Once()

	block := ledger.Block{Height: 5, Transactions: []ledger.Transaction{{
		CreatorAccountID: "a@domain",
		Commands: []ledger.Command{ledger.TransferAsset{
			SrcAccountID: "a@domain", DestAccountID: "b@domain", AssetID: "coin#domain", Description: "x",
		}},
	}}}

	_, err := index.NewBlockIndexer(zaptest.NewLogger(t)).Index(ctx, block, Session{Executor: tx})
	require.NoError(t, err)
	tx.AssertExpectations(t)
	tx.AssertNumberOfCalls(t, "Exec", 5)
}

func TestSessionClassifiesStatementErrors(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name      string
		cause     error
		permanent bool
	}{
		{"unique violation", &pgconn.PgError{Code: "23505", Message: "duplicate key"}, true},
		{"not null violation", &pgconn.PgError{Code: "23502"}, true},
		{"serialization failure", &pgconn.PgError{Code: "40001"}, false},
		{"connection error", errors.New("connection reset"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := new(MockTx)
			tx.On("Exec", ctx, insertAccountHeightSQL, "a@d", uint64(2)).Return(pgconn.CommandTag{}, tt.cause)

			err := Session{Executor: tx}.InsertAccountHeight(ctx, "a@d", 2)
			require.ErrorIs(t, err, tt.cause)
			assert.Equal(t, tt.permanent, retry.IsPermanent(err))
		})
	}
}

func TestTxCommitAndRollback(t *testing.T) {
	ctx := context.Background()
	mtx := new(MockTx)
	mtx.On("Commit", ctx).Return(errors.New("connection reset")).Once()
	mtx.On("Rollback", ctx).Return(nil).Once()

	tx := &Tx{Session: Session{Executor: mtx}, tx: mtx}
	err := tx.Commit(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "commit index transaction")
	require.NoError(t, tx.Rollback(ctx))
	mtx.AssertExpectations(t)
}

func TestReadsUseContextTransaction(t *testing.T) {
	db := &DB{Client: postgres.Client{Logger: zaptest.NewLogger(t)}}
	mtx := new(MockTx)
	ctx := db.WithTx(context.Background(), mtx)

	mtx.On("QueryRow", ctx, selectLastIndexedSQL).Return(fakeRow{value: uint64(42)})
	mtx.On("QueryRow", ctx, selectIsIndexedSQL, uint64(42)).Return(fakeRow{value: true})
	mtx.On("QueryRow", ctx, selectIsIndexedSQL, uint64(43)).Return(fakeRow{err: errors.New("boom")})

	last, err := db.LastIndexedHeight(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), last)

	indexed, err := db.IsIndexed(ctx, 42)
	require.NoError(t, err)
	assert.True(t, indexed)

	_, err = db.IsIndexed(ctx, 43)
	assert.Error(t, err)
}

func TestPendingBlocksUseContextTransaction(t *testing.T) {
	db := &DB{Client: postgres.Client{Logger: zaptest.NewLogger(t)}}
	mtx := new(MockTx)
	ctx := db.WithTx(context.Background(), mtx)
	since := time.UnixMilli(1_700_000_000_000).UTC()
	ok := pgconn.NewCommandTag("INSERT 0 1")

	mtx.On("Exec", ctx, savePendingSQL, uint64(3), []byte{}, "down", since).Return(ok, nil).Once()
	mtx.On("Exec", ctx, deletePendingSQL, uint64(3)).Return(pgconn.NewCommandTag("DELETE 1"), nil).Once()
	mtx.On("Query", ctx, selectPendingSQL).Return(&pendingRows{records: []index.PendingRecord{
		{Height: 3, Block: []byte{1}, Reason: "down", Since: since},
		{Height: 9, Block: []byte{2}, Reason: "invalid", Since: since},
	}}, nil).Once()

	require.NoError(t, db.SavePending(ctx, index.PendingRecord{Height: 3, Reason: "down", Since: since}))
	require.NoError(t, db.DeletePending(ctx, 3))

	records, err := db.LoadPending(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, uint64(9), records[1].Height)
	assert.Equal(t, "invalid", records[1].Reason)
	mtx.AssertExpectations(t)
}
