package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/vehicle-listing-scraper/internal/progress"
)

func TestBatchStoreRecordsBatchLifecycle(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewBatchStoreWithPool(mock)
	id := uuid.New()
	now := time.Unix(1700000000, 0).UTC()
	search := "https://cars.example/shopping/results/"
	listingURL := "https://cars.example/vehicledetail/1/"

	mock.ExpectExec("INSERT INTO scrape_batches").
		WithArgs(id, search, now, StatusRunning, 2).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("UPDATE scrape_batches SET retries").
		WithArgs(id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("INSERT INTO listing_results").
		WithArgs(id, listingURL, "abc", StatusDone, "", 2, 3, 0, int64(1500), "", now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO listing_results").
		WithArgs(id, "https://cars.example/vehicledetail/2/", "", StatusFailed, "missing_field", 1, 0, 0, int64(20), "make missing", now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("UPDATE scrape_batches AS b").
		WithArgs(id, now, StatusDone, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err = store.Consume(context.Background(), []progress.Event{
		{BatchID: id, TS: now, Stage: progress.StageBatchStart, URL: search, Listings: 2},
		{BatchID: id, TS: now, Stage: progress.StageListingStart, URL: listingURL, Attempt: 1},
		{BatchID: id, TS: now, Stage: progress.StageListingRetry, URL: listingURL, Attempt: 1, Kind: "timeout"},
		{
			BatchID: id, TS: now, Stage: progress.StageListingDone, URL: listingURL,
			ListingID: "abc", Attempt: 2, Images: 3, Dur: 1500 * time.Millisecond,
		},
		{
			BatchID: id, TS: now, Stage: progress.StageListingFailed, URL: "https://cars.example/vehicledetail/2/",
			Attempt: 1, Kind: "missing_field", Dur: 20 * time.Millisecond, Note: "make missing",
		},
		{BatchID: id, TS: now, Stage: progress.StageBatchDone, URL: search, Listings: 2, Dur: 2 * time.Second},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBatchStoreRecordsBatchError(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewBatchStoreWithPool(mock)
	id := uuid.New()
	now := time.Unix(1700000000, 0).UTC()

	mock.ExpectExec("UPDATE scrape_batches AS b").
		WithArgs(id, now, StatusError, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err = store.Consume(context.Background(), []progress.Event{
		{BatchID: id, TS: now, Stage: progress.StageBatchError, Note: "automation unavailable"},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBatchStoreContinuesAfterErrors(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewBatchStoreWithPool(mock)
	id := uuid.New()
	now := time.Unix(1700000000, 0).UTC()

	mock.ExpectExec("UPDATE scrape_batches SET retries").
		WithArgs(id).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectExec("UPDATE scrape_batches SET retries").
		WithArgs(id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err = store.Consume(context.Background(), []progress.Event{
		{BatchID: id, TS: now, Stage: progress.StageListingRetry, URL: "https://cars.example/a"},
		{BatchID: id, TS: now, Stage: progress.StageListingRetry, URL: "https://cars.example/a"},
	})
	require.ErrorContains(t, err, "connection reset")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewBatchStoreRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := NewBatchStore(context.Background(), Config{})
	require.Error(t, err)
}
