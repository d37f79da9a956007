package services

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vendahub/settlement/internal/models"
)

func TestLedgerService_Balance(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewLedgerService(db)

	t.Run("sums entries by owner and status", func(t *testing.T) {
		mock.ExpectQuery(`SELECT COALESCE\(SUM\(amount\), 0\)`).
			WithArgs("owner-1", "AVAILABLE").
			WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow("150.40"))

		balance, err := service.Balance(context.Background(), "owner-1", models.EntryAvailable)
		require.NoError(t, err)
		assert.Equal(t, "150.40", balance.StringFixed(2))
	})

	t.Run("empty ledger is zero", func(t *testing.T) {
		mock.ExpectQuery(`SELECT COALESCE\(SUM\(amount\), 0\)`).
			WithArgs("owner-2", "HELD").
			WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow("0"))

		balance, err := service.Balance(context.Background(), "owner-2", models.EntryHeld)
		require.NoError(t, err)
		assert.True(t, balance.IsZero())
	})
}

func TestLedgerService_AppendEntries(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewLedgerService(db)
	releaseAt := time.Now().Add(72 * time.Hour)

	entries := []models.LedgerEntry{
		{
			ID:        "e1",
			OwnerID:   "seller-1",
			OrderID:   "order-1",
			Kind:      models.EntryNetSale,
			Amount:    decimal.RequireFromString("94.62"),
			Status:    models.EntryHeld,
			ReleaseAt: &releaseAt,
			CreatedAt: time.Now(),
		},
		{
			ID:        "e2",
			OwnerID:   "affiliate-1",
			OrderID:   "order-1",
			Kind:      models.EntryCommission,
			Amount:    decimal.RequireFromString("10.00"),
			Status:    models.EntryHeld,
			ReleaseAt: &releaseAt,
			CreatedAt: time.Now(),
		},
	}

	t.Run("inserts all entries in caller's transaction", func(t *testing.T) {
		mock.ExpectBegin()
		tx, err := db.Begin()
		require.NoError(t, err)

		mock.ExpectExec("INSERT INTO ledger_entries").
			WithArgs("e1", "seller-1", "order-1", "NET_SALE", sqlmock.AnyArg(), "HELD", sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO ledger_entries").
			WithArgs("e2", "affiliate-1", "order-1", "COMMISSION", sqlmock.AnyArg(), "HELD", sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err = service.AppendEntries(context.Background(), tx, entries)
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("replay hits the unique key and affects no rows", func(t *testing.T) {
		mock.ExpectBegin()
		tx, err := db.Begin()
		require.NoError(t, err)

		// ON CONFLICT DO NOTHING: zero rows affected, no error
		mock.ExpectExec("INSERT INTO ledger_entries").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec("INSERT INTO ledger_entries").
			WillReturnResult(sqlmock.NewResult(0, 0))

		err = service.AppendEntries(context.Background(), tx, entries)
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestLedgerService_MatureAndPromote(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewLedgerService(db)
	now := time.Now()

	t.Run("claims matured held entries", func(t *testing.T) {
		mock.ExpectBegin()
		tx, err := db.Begin()
		require.NoError(t, err)

		past := now.Add(-time.Second)
		mock.ExpectQuery("FOR UPDATE SKIP LOCKED").
			WithArgs("HELD", now, 500).
			WillReturnRows(sqlmock.NewRows([]string{"id", "owner_id", "order_id", "kind", "amount", "status", "release_at", "created_at"}).
				AddRow("e1", "seller-1", "order-1", "NET_SALE", "94.62", "HELD", past, now))

		entries, err := service.MatureEntries(context.Background(), tx, now, 500)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "e1", entries[0].ID)
		assert.Equal(t, "94.62", entries[0].Amount.StringFixed(2))
	})

	t.Run("promote flips held to available", func(t *testing.T) {
		mock.ExpectBegin()
		tx, err := db.Begin()
		require.NoError(t, err)

		mock.ExpectExec("UPDATE ledger_entries").
			WithArgs("AVAILABLE", sqlmock.AnyArg(), "HELD").
			WillReturnResult(sqlmock.NewResult(0, 2))

		promoted, err := service.Promote(context.Background(), tx, []string{"e1", "e2"})
		require.NoError(t, err)
		assert.Equal(t, int64(2), promoted)
	})

	t.Run("promote with no ids is a no-op", func(t *testing.T) {
		mock.ExpectBegin()
		tx, err := db.Begin()
		require.NoError(t, err)

		promoted, err := service.Promote(context.Background(), tx, nil)
		require.NoError(t, err)
		assert.Zero(t, promoted)
	})
}

func TestLedgerService_FeeForOrder(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewLedgerService(db)

	t.Run("reconstructs fee as gross minus credited", func(t *testing.T) {
		mock.ExpectQuery("SELECT o.gross_amount").
			WithArgs("order-1").
			WillReturnRows(sqlmock.NewRows([]string{"gross_amount", "credited"}).AddRow("100.00", "94.62"))

		fee, err := service.FeeForOrder(context.Background(), "order-1")
		require.NoError(t, err)
		assert.Equal(t, "5.38", fee.StringFixed(2))
	})

	t.Run("unknown order", func(t *testing.T) {
		mock.ExpectQuery("SELECT o.gross_amount").
			WithArgs("order-x").
			WillReturnRows(sqlmock.NewRows([]string{"gross_amount", "credited"}))

		_, err := service.FeeForOrder(context.Background(), "order-x")
		assert.ErrorIs(t, err, ErrOrderNotFound)
	})
}
