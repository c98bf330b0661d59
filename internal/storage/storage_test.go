package storage_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sirosfoundation/go-ksef/internal/storage"
	"github.com/sirosfoundation/go-ksef/internal/storage/memory"
	"github.com/sirosfoundation/go-ksef/pkg/invoice"
	"github.com/sirosfoundation/go-ksef/pkg/ksef"
)

var submittedAt = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func result(status int, ksefNumber string, at time.Time) *ksef.SubmitResult {
	return &ksef.SubmitResult{
		Status:                 status,
		InvoiceKsefNumber:      ksefNumber,
		InvoiceReferenceNumber: "20250301-EE-1",
		SessionReferenceNumber: "20250301-SO-1",
		InvoiceHash:            "hash",
		InvoiceSize:            42,
		Meta: invoice.Meta{
			SellerID:      "5265877635",
			IssueDate:     "01-03-2025",
			InvoiceNumber: "FV/7/2025",
			GrossAmount:   decimal.RequireFromString("1230.5"),
		},
		UPO:         []byte("<Potwierdzenie/>"),
		SubmittedAt: at,
	}
}

func TestFromResult(t *testing.T) {
	sub := storage.FromResult(result(200, "5265877635-20250301-ABC", submittedAt))
	assert.Equal(t, "5265877635-20250301-ABC", sub.KsefNumber)
	assert.Equal(t, "1230.50", sub.GrossAmount)
	assert.Equal(t, "5265877635", sub.SellerID)
	assert.Equal(t, "01-03-2025", sub.IssueDate)
	assert.Equal(t, "<Potwierdzenie/>", string(sub.UPO))
	assert.False(t, sub.Failed())
	assert.Empty(t, sub.ID)
}

func TestRecorder_StoresResults(t *testing.T) {
	store := memory.NewStore()
	rec := storage.NewRecorder(store)
	ctx := context.Background()

	require.NoError(t, rec.Record(ctx, result(200, "K-1", submittedAt)))
	require.NoError(t, rec.Record(ctx, result(450, "", submittedAt.Add(time.Minute))))

	sub, err := store.GetSubmissionByKsefNumber(ctx, "K-1")
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.NotEmpty(t, sub.ID)
	assert.False(t, sub.RecordedAt.IsZero())

	got, err := store.GetSubmission(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, sub, got)

	missing, err := store.GetSubmission(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestMemoryStore_ListAndCount(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()

	for i, status := range []int{200, 450, 200, 500} {
		sub := storage.FromResult(result(status, "", submittedAt.Add(time.Duration(i)*time.Hour)))
		require.NoError(t, store.SaveSubmission(ctx, sub))
	}

	all, err := store.ListSubmissions(ctx, nil)
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, 500, all[0].Status, "newest first")

	failed := true
	n, err := store.CountSubmissions(ctx, &storage.SubmissionFilter{Failed: &failed})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	since := submittedAt.Add(90 * time.Minute)
	recent, err := store.ListSubmissions(ctx, &storage.SubmissionFilter{Since: &since})
	require.NoError(t, err)
	assert.Len(t, recent, 2)

	page, err := store.ListSubmissions(ctx, &storage.SubmissionFilter{Offset: 1, Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, 200, page[0].Status)
	assert.Equal(t, 450, page[1].Status)

	none, err := store.ListSubmissions(ctx, &storage.SubmissionFilter{SellerID: "7740001454"})
	require.NoError(t, err)
	assert.Empty(t, none)

	beyond, err := store.ListSubmissions(ctx, &storage.SubmissionFilter{Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, beyond)
}

type failingStore struct{ storage.SubmissionStore }

func (failingStore) SaveSubmission(context.Context, *storage.Submission) error {
	return errors.New("unavailable")
}

func TestRecorder_PropagatesStoreErrors(t *testing.T) {
	err := storage.NewRecorder(failingStore{}).Record(context.Background(), result(200, "K", submittedAt))
	assert.EqualError(t, err, "unavailable")
}
