package services

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReleaseService_Sweep(t *testing.T) {
	newService := func(t *testing.T) (*ReleaseService, sqlmock.Sqlmock) {
		t.Helper()
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		t.Cleanup(func() { db.Close() })
		return NewReleaseService(db, NewLedgerService(db), time.Hour, 500), mock
	}

	now := time.Date(2025, 6, 4, 12, 0, 0, 0, time.UTC)

	t.Run("promotes matured entries and not future ones", func(t *testing.T) {
		svc, mock := newService(t)

		// only the entry with release_at <= now is claimed by the query
		mock.ExpectBegin()
		mock.ExpectQuery("FOR UPDATE SKIP LOCKED").
			WithArgs("HELD", now, 500).
			WillReturnRows(sqlmock.NewRows([]string{"id", "owner_id", "order_id", "kind", "amount", "status", "release_at", "created_at"}).
				AddRow("e1", "seller-1", "order-1", "NET_SALE", "94.62", "HELD", now.Add(-time.Second), now.Add(-72*time.Hour)))
		mock.ExpectExec("UPDATE ledger_entries").
			WithArgs("AVAILABLE", sqlmock.AnyArg(), "HELD").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		promoted, err := svc.Sweep(context.Background(), now)
		require.NoError(t, err)
		assert.Equal(t, int64(1), promoted)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("second sweep finds nothing to promote", func(t *testing.T) {
		svc, mock := newService(t)

		mock.ExpectBegin()
		mock.ExpectQuery("FOR UPDATE SKIP LOCKED").
			WithArgs("HELD", now, 500).
			WillReturnRows(sqlmock.NewRows([]string{"id", "owner_id", "order_id", "kind", "amount", "status", "release_at", "created_at"}))
		mock.ExpectCommit()

		promoted, err := svc.Sweep(context.Background(), now)
		require.NoError(t, err)
		assert.Zero(t, promoted)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("keeps draining full batches", func(t *testing.T) {
		svc, mock := newService(t)
		svc.batchSize = 1

		entryRows := func(id string) *sqlmock.Rows {
			return sqlmock.NewRows([]string{"id", "owner_id", "order_id", "kind", "amount", "status", "release_at", "created_at"}).
				AddRow(id, "seller-1", "order-"+id, "NET_SALE", "10.00", "HELD", now.Add(-time.Hour), now.Add(-72*time.Hour))
		}

		mock.ExpectBegin()
		mock.ExpectQuery("FOR UPDATE SKIP LOCKED").WillReturnRows(entryRows("e1"))
		mock.ExpectExec("UPDATE ledger_entries").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		mock.ExpectBegin()
		mock.ExpectQuery("FOR UPDATE SKIP LOCKED").WillReturnRows(entryRows("e2"))
		mock.ExpectExec("UPDATE ledger_entries").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		mock.ExpectBegin()
		mock.ExpectQuery("FOR UPDATE SKIP LOCKED").
			WillReturnRows(sqlmock.NewRows([]string{"id", "owner_id", "order_id", "kind", "amount", "status", "release_at", "created_at"}))
		mock.ExpectCommit()

		promoted, err := svc.Sweep(context.Background(), now)
		require.NoError(t, err)
		assert.Equal(t, int64(2), promoted)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("failed batch rolls back whole", func(t *testing.T) {
		svc, mock := newService(t)

		mock.ExpectBegin()
		mock.ExpectQuery("FOR UPDATE SKIP LOCKED").
			WillReturnRows(sqlmock.NewRows([]string{"id", "owner_id", "order_id", "kind", "amount", "status", "release_at", "created_at"}).
				AddRow("e1", "seller-1", "order-1", "NET_SALE", "94.62", "HELD", now.Add(-time.Second), now))
		mock.ExpectExec("UPDATE ledger_entries").
			WillReturnError(assert.AnError)
		mock.ExpectRollback()

		_, err := svc.Sweep(context.Background(), now)
		assert.Error(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
