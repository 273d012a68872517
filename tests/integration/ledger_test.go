package integration

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orderbridge/backend/internal/domain/ingestion"
	"github.com/orderbridge/backend/internal/infrastructure/persistence"
)

// TestDeduplicationLedger_Integration exercises the ledger against a real
// PostgreSQL database, where the ON CONFLICT claim semantics actually matter.
func TestDeduplicationLedger_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	testDB := NewTestDB(t)
	ledger := persistence.NewGormDeduplicationLedger(testDB.DB, 10*time.Minute)
	ctx := context.Background()

	t.Run("concurrent claims yield exactly one winner", func(t *testing.T) {
		const claimers = 16

		var wg sync.WaitGroup
		results := make([]ingestion.ClaimResult, claimers)
		errs := make([]error, claimers)

		for i := 0; i < claimers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results[i], errs[i] = ledger.Claim(ctx, "sftp-acme", "PO-RACE-1")
			}(i)
		}
		wg.Wait()

		won := 0
		for i := 0; i < claimers; i++ {
			require.NoError(t, errs[i])
			if results[i] == ingestion.ClaimResultClaimed {
				won++
			} else {
				assert.Equal(t, ingestion.ClaimResultAlreadyInFlight, results[i])
			}
		}
		assert.Equal(t, 1, won, "exactly one claimer may win")

		record, err := ledger.Get(ctx, "sftp-acme", "PO-RACE-1")
		require.NoError(t, err)
		assert.Equal(t, ingestion.DeliveryStatusClaimed, record.Status)
		assert.Equal(t, 1, record.AttemptCount)
	})

	t.Run("delivered records stay delivered", func(t *testing.T) {
		result, err := ledger.Claim(ctx, "sftp-acme", "PO-2001")
		require.NoError(t, err)
		require.Equal(t, ingestion.ClaimResultClaimed, result)

		require.NoError(t, ledger.MarkDelivered(ctx, "sftp-acme", "PO-2001", "ERP-778"))

		result, err = ledger.Claim(ctx, "sftp-acme", "PO-2001")
		require.NoError(t, err)
		assert.Equal(t, ingestion.ClaimResultAlreadyDelivered, result)

		record, err := ledger.Get(ctx, "sftp-acme", "PO-2001")
		require.NoError(t, err)
		assert.Equal(t, "ERP-778", record.ERPReference)
		assert.Nil(t, record.ClaimedAt)
	})

	t.Run("failed record is reclaimable only once due", func(t *testing.T) {
		result, err := ledger.Claim(ctx, "sftp-acme", "PO-2002")
		require.NoError(t, err)
		require.Equal(t, ingestion.ClaimResultClaimed, result)

		nextAttempt := time.Now().Add(30 * time.Minute)
		require.NoError(t, ledger.MarkFailed(ctx, "sftp-acme", "PO-2002", "erp: 503", nextAttempt))

		result, err = ledger.Claim(ctx, "sftp-acme", "PO-2002")
		require.NoError(t, err)
		assert.Equal(t, ingestion.ClaimResultAlreadyInFlight, result, "not due yet")

		// Backdate the retry time; the next claim takes over
		require.NoError(t, testDB.DB.Exec(
			`UPDATE delivery_records SET next_attempt_at = now() - interval '1 second'
			 WHERE source_id = ? AND order_id = ?`, "sftp-acme", "PO-2002").Error)

		result, err = ledger.Claim(ctx, "sftp-acme", "PO-2002")
		require.NoError(t, err)
		assert.Equal(t, ingestion.ClaimResultClaimed, result)

		record, err := ledger.Get(ctx, "sftp-acme", "PO-2002")
		require.NoError(t, err)
		assert.Equal(t, 2, record.AttemptCount)
		assert.Nil(t, record.NextAttemptAt)
	})

	t.Run("stale claim is taken over", func(t *testing.T) {
		result, err := ledger.Claim(ctx, "sftp-acme", "PO-2003")
		require.NoError(t, err)
		require.Equal(t, ingestion.ClaimResultClaimed, result)

		result, err = ledger.Claim(ctx, "sftp-acme", "PO-2003")
		require.NoError(t, err)
		assert.Equal(t, ingestion.ClaimResultAlreadyInFlight, result)

		// Simulate a crashed owner by aging the claim past the window
		require.NoError(t, testDB.DB.Exec(
			`UPDATE delivery_records SET claimed_at = now() - interval '11 minutes'
			 WHERE source_id = ? AND order_id = ?`, "sftp-acme", "PO-2003").Error)

		result, err = ledger.Claim(ctx, "sftp-acme", "PO-2003")
		require.NoError(t, err)
		assert.Equal(t, ingestion.ClaimResultClaimed, result)
	})

	t.Run("dead-lettered records are never reclaimed", func(t *testing.T) {
		result, err := ledger.Claim(ctx, "sftp-acme", "PO-2004")
		require.NoError(t, err)
		require.Equal(t, ingestion.ClaimResultClaimed, result)

		require.NoError(t, ledger.MarkDeadLettered(ctx, "sftp-acme", "PO-2004", "rejected: unknown SKU"))

		result, err = ledger.Claim(ctx, "sftp-acme", "PO-2004")
		require.NoError(t, err)
		assert.Equal(t, ingestion.ClaimResultDeadLettered, result)
	})

	t.Run("released claim is immediately reclaimable", func(t *testing.T) {
		result, err := ledger.Claim(ctx, "sftp-acme", "PO-2005")
		require.NoError(t, err)
		require.Equal(t, ingestion.ClaimResultClaimed, result)

		require.NoError(t, ledger.Release(ctx, "sftp-acme", "PO-2005"))

		record, err := ledger.Get(ctx, "sftp-acme", "PO-2005")
		require.NoError(t, err)
		assert.Equal(t, ingestion.DeliveryStatusPending, record.Status)

		result, err = ledger.Claim(ctx, "sftp-acme", "PO-2005")
		require.NoError(t, err)
		assert.Equal(t, ingestion.ClaimResultClaimed, result)
	})

	t.Run("same order id on two sources is two records", func(t *testing.T) {
		result, err := ledger.Claim(ctx, "rest-globex", "PO-2001")
		require.NoError(t, err)
		assert.Equal(t, ingestion.ClaimResultClaimed, result,
			"PO-2001 was delivered for sftp-acme, not for rest-globex")
	})

	t.Run("count by status", func(t *testing.T) {
		counts, err := ledger.CountByStatus(ctx, "sftp-acme")
		require.NoError(t, err)
		assert.Equal(t, int64(1), counts[ingestion.DeliveryStatusDelivered])
		assert.Equal(t, int64(1), counts[ingestion.DeliveryStatusDeadLettered])
		assert.GreaterOrEqual(t, counts[ingestion.DeliveryStatusClaimed], int64(3))
	})
}

// TestCursorStore_Integration verifies cursor persistence round-trips
func TestCursorStore_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	testDB := NewTestDB(t)
	store := persistence.NewGormCursorStore(testDB.DB)
	ctx := context.Background()

	_, err := store.Load(ctx, "rest-globex")
	assert.ErrorIs(t, err, ingestion.ErrCursorNotFound)

	require.NoError(t, store.Save(ctx, "rest-globex", "page-7"))
	cursor, err := store.Load(ctx, "rest-globex")
	require.NoError(t, err)
	assert.Equal(t, "page-7", cursor)

	require.NoError(t, store.Save(ctx, "rest-globex", "page-8"))
	cursor, err = store.Load(ctx, "rest-globex")
	require.NoError(t, err)
	assert.Equal(t, "page-8", cursor)
}
