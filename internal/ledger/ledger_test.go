// SPDX-License-Identifier: MIT

package ledger

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/voxmill/settled/internal/store"
)

func openTestLedger(t *testing.T) *Ledger {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	l, err := New(s.DB())
	require.NoError(t, err)
	return l
}

func fund(t *testing.T, l *Ledger, userID string, amount int64) {
	t.Helper()
	applied, err := l.AddOnce(context.Background(), userID, amount, TxRecharge, "test", "seed:"+userID, nil)
	require.NoError(t, err)
	require.True(t, applied)
}

func TestChargeOnceHappyPath(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()
	fund(t, l, "user-1", 100)

	applied, err := l.ChargeOnce(ctx, "user-1", 30, TxDownloadUsage, "job", "job_1", map[string]any{"kind": "download"})
	require.NoError(t, err)
	require.True(t, applied)

	balance, err := l.Balance(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, int64(70), balance)
}

func TestChargeOnceIsIdempotent(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()
	fund(t, l, "user-1", 100)

	for i := 0; i < 5; i++ {
		applied, err := l.ChargeOnce(ctx, "user-1", 30, TxDownloadUsage, "job", "job_1", nil)
		require.NoError(t, err)
		require.Equal(t, i == 0, applied, "only the first delivery may apply")
	}

	balance, err := l.Balance(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, int64(70), balance)
}

func TestChargeOnceInsufficientFunds(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()
	fund(t, l, "user-1", 10)

	_, err := l.ChargeOnce(ctx, "user-1", 30, TxDownloadUsage, "job", "job_1", nil)
	require.ErrorIs(t, err, ErrInsufficientFunds)

	// Nothing may have been written.
	balance, err := l.Balance(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, int64(10), balance)

	tx, err := l.FindByTypeAndRef(ctx, "user-1", TxDownloadUsage, "job_1")
	require.NoError(t, err)
	require.Nil(t, tx)
}

func TestAddOnceIsIdempotent(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := l.AddOnce(ctx, "user-1", 50, TxRefund, "job", "job_1:settle", nil)
		require.NoError(t, err)
	}

	balance, err := l.Balance(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, int64(50), balance)
}

func TestPrefundAndSettleRefsStayDistinct(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()
	fund(t, l, "user-1", 200)

	// Prefund 120 at enqueue time.
	applied, err := l.ChargeOnce(ctx, "user-1", 120, TxDownloadUsage, "job", "job_1", nil)
	require.NoError(t, err)
	require.True(t, applied)

	// Settlement refund of the 40-point overage uses the settle ref.
	applied, err = l.AddOnce(ctx, "user-1", 40, TxRefund, "job", "job_1:settle", nil)
	require.NoError(t, err)
	require.True(t, applied)

	prefund, err := l.FindByTypeAndRef(ctx, "user-1", TxDownloadUsage, "job_1")
	require.NoError(t, err)
	require.NotNil(t, prefund)
	require.Equal(t, int64(-120), prefund.Delta)

	settle, err := l.FindByTypeAndRef(ctx, "user-1", TxRefund, "job_1:settle")
	require.NoError(t, err)
	require.NotNil(t, settle)
	require.Equal(t, int64(40), settle.Delta)

	balance, err := l.Balance(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, int64(120), balance) // 200 - 120 + 40
}

func TestSpendOnceRespectsBalance(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()
	fund(t, l, "user-1", 20)

	_, err := l.SpendOnce(ctx, "user-1", 30, TxDownloadUsage, "job", "job_1:settle", nil)
	require.ErrorIs(t, err, ErrInsufficientFunds)
}

func TestTransactionsByUserNewestFirst(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()
	fund(t, l, "user-1", 100)

	_, err := l.ChargeOnce(ctx, "user-1", 10, TxASRUsage, "job", "job_1", nil)
	require.NoError(t, err)
	_, err = l.ChargeOnce(ctx, "user-1", 10, TxASRUsage, "job", "job_2", nil)
	require.NoError(t, err)

	txs, err := l.TransactionsByUser(ctx, "user-1", 10)
	require.NoError(t, err)
	require.Len(t, txs, 3)
	require.Equal(t, "job_2", txs[0].RefID)
	require.Equal(t, int64(80), txs[0].BalanceAfter)
}

func TestMetadataRoundTrip(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	_, err := l.AddOnce(ctx, "user-1", 5, TxSignupBonus, "system", "signup", map[string]any{"campaign": "launch"})
	require.NoError(t, err)

	tx, err := l.FindByTypeAndRef(ctx, "user-1", TxSignupBonus, "signup")
	require.NoError(t, err)
	require.NotNil(t, tx)
	require.Equal(t, "launch", tx.Metadata["campaign"])
}

func TestZeroOrNegativeAmountsRejected(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	_, err := l.ChargeOnce(ctx, "user-1", 0, TxDownloadUsage, "job", "job_1", nil)
	require.Error(t, err)
	_, err = l.AddOnce(ctx, "user-1", -5, TxRefund, "job", "job_1", nil)
	require.Error(t, err)
}
