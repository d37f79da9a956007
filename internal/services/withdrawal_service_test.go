package services

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vendahub/settlement/internal/models"
)

func newWithdrawalService(t *testing.T) (*WithdrawalService, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewWithdrawalService(db, NewLedgerService(db)), mock
}

func expectAdmissionCheck(mock sqlmock.Sqlmock, ownerID, available, reserved string) {
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id FROM owners").
		WithArgs(ownerID).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(ownerID))
	mock.ExpectQuery(`SELECT COALESCE\(SUM\(amount\), 0\)[\s\S]*FROM ledger_entries`).
		WithArgs(ownerID, "AVAILABLE").
		WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(available))
	mock.ExpectQuery(`SELECT COALESCE\(SUM\(amount\), 0\)[\s\S]*FROM withdrawals`).
		WithArgs(ownerID, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(reserved))
}

func TestWithdrawalService_RequestWithdrawal(t *testing.T) {
	ownerID := "owner-1"

	t.Run("admits withdrawal within available balance", func(t *testing.T) {
		svc, mock := newWithdrawalService(t)

		expectAdmissionCheck(mock, ownerID, "100.00", "0")
		mock.ExpectExec("INSERT INTO withdrawals").
			WithArgs(sqlmock.AnyArg(), ownerID, sqlmock.AnyArg(), "REQUESTED", sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		w, err := svc.RequestWithdrawal(context.Background(), ownerID, decimal.RequireFromString("94.62"))
		require.NoError(t, err)
		assert.Equal(t, models.WithdrawalRequested, w.Status)
		assert.Equal(t, "94.62", w.Amount.StringFixed(2))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects and reports available when balance is short", func(t *testing.T) {
		svc, mock := newWithdrawalService(t)

		expectAdmissionCheck(mock, ownerID, "50.00", "0")
		mock.ExpectRollback()

		_, err := svc.RequestWithdrawal(context.Background(), ownerID, decimal.RequireFromString("94.62"))
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInsufficientBalance)

		var insufficient *InsufficientBalanceError
		require.True(t, errors.As(err, &insufficient))
		assert.Equal(t, "50.00", insufficient.Available.StringFixed(2))
		assert.Equal(t, "94.62", insufficient.Requested.StringFixed(2))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("pending withdrawals reduce what is withdrawable", func(t *testing.T) {
		svc, mock := newWithdrawalService(t)

		// 100 available, 60 already reserved: a request for 50 must lose
		expectAdmissionCheck(mock, ownerID, "100.00", "60.00")
		mock.ExpectRollback()

		_, err := svc.RequestWithdrawal(context.Background(), ownerID, decimal.RequireFromString("50.00"))
		require.Error(t, err)

		var insufficient *InsufficientBalanceError
		require.True(t, errors.As(err, &insufficient))
		assert.Equal(t, "40.00", insufficient.Available.StringFixed(2))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("paid withdrawals stay deducted", func(t *testing.T) {
		svc, mock := newWithdrawalService(t)

		// A completed payout is a permanent deduction; the reserved query
		// must keep counting PAID rows or the same funds become
		// withdrawable twice.
		assert.Contains(t, reservedStatuses(), "PAID")

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT id FROM owners").
			WithArgs(ownerID).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(ownerID))
		mock.ExpectQuery(`SELECT COALESCE\(SUM\(amount\), 0\)[\s\S]*FROM ledger_entries`).
			WithArgs(ownerID, "AVAILABLE").
			WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow("100.00"))
		mock.ExpectQuery(`SELECT COALESCE\(SUM\(amount\), 0\)[\s\S]*FROM withdrawals`).
			WithArgs(ownerID, pq.Array([]string{"REQUESTED", "APPROVED", "PROCESSING", "PAID"})).
			WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow("94.62"))
		mock.ExpectRollback()

		_, err := svc.RequestWithdrawal(context.Background(), ownerID, decimal.RequireFromString("10.00"))
		require.Error(t, err)

		var insufficient *InsufficientBalanceError
		require.True(t, errors.As(err, &insufficient))
		assert.Equal(t, "5.38", insufficient.Available.StringFixed(2))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("exact remaining balance is admitted", func(t *testing.T) {
		svc, mock := newWithdrawalService(t)

		expectAdmissionCheck(mock, ownerID, "100.00", "60.00")
		mock.ExpectExec("INSERT INTO withdrawals").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		w, err := svc.RequestWithdrawal(context.Background(), ownerID, decimal.RequireFromString("40.00"))
		require.NoError(t, err)
		assert.Equal(t, "40.00", w.Amount.StringFixed(2))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown owner", func(t *testing.T) {
		svc, mock := newWithdrawalService(t)

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT id FROM owners").
			WithArgs("ghost").
			WillReturnRows(sqlmock.NewRows([]string{"id"}))
		mock.ExpectRollback()

		_, err := svc.RequestWithdrawal(context.Background(), "ghost", decimal.RequireFromString("10.00"))
		assert.ErrorIs(t, err, ErrOwnerNotFound)
	})

	t.Run("non-positive amount never reaches the database", func(t *testing.T) {
		svc, mock := newWithdrawalService(t)

		_, err := svc.RequestWithdrawal(context.Background(), ownerID, decimal.Zero)
		assert.Error(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestWithdrawalService_Balance(t *testing.T) {
	svc, mock := newWithdrawalService(t)

	mock.ExpectQuery(`SELECT COALESCE\(SUM\(amount\), 0\)[\s\S]*FROM ledger_entries`).
		WithArgs("owner-1", "HELD").
		WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow("200.00"))
	mock.ExpectQuery(`SELECT COALESCE\(SUM\(amount\), 0\)[\s\S]*FROM ledger_entries`).
		WithArgs("owner-1", "AVAILABLE").
		WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow("100.00"))
	mock.ExpectQuery(`SELECT COALESCE\(SUM\(amount\), 0\)[\s\S]*FROM withdrawals`).
		WithArgs("owner-1", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow("30.00"))

	balance, err := svc.Balance(context.Background(), "owner-1")
	require.NoError(t, err)
	assert.Equal(t, "200.00", balance.Held.StringFixed(2))
	assert.Equal(t, "100.00", balance.Available.StringFixed(2))
	assert.Equal(t, "30.00", balance.Reserved.StringFixed(2))
	assert.Equal(t, "70.00", balance.Withdrawable().StringFixed(2))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithdrawalService_UpdateStatus(t *testing.T) {
	t.Run("allowed transition", func(t *testing.T) {
		svc, mock := newWithdrawalService(t)

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT status FROM withdrawals").
			WithArgs("w1").
			WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("REQUESTED"))
		mock.ExpectExec("UPDATE withdrawals SET status").
			WithArgs("APPROVED", sqlmock.AnyArg(), "w1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err := svc.UpdateStatus(context.Background(), "w1", models.WithdrawalApproved)
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("paid is terminal", func(t *testing.T) {
		svc, mock := newWithdrawalService(t)

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT status FROM withdrawals").
			WithArgs("w1").
			WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("PAID"))
		mock.ExpectRollback()

		err := svc.UpdateStatus(context.Background(), "w1", models.WithdrawalRejected)
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})

	t.Run("skipping approval is rejected", func(t *testing.T) {
		svc, mock := newWithdrawalService(t)

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT status FROM withdrawals").
			WithArgs("w1").
			WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("REQUESTED"))
		mock.ExpectRollback()

		err := svc.UpdateStatus(context.Background(), "w1", models.WithdrawalPaid)
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})
}
