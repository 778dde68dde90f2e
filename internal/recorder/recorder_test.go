package recorder

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lance13c/portalpilot/internal/advisor"
	"github.com/lance13c/portalpilot/internal/faults"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmissionLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	dir := t.TempDir()
	rec := New(store, dir)

	sub, err := rec.Start(ctx, "SAD_PORTAL", "DEC-1")
	require.NoError(t, err)

	stored, err := store.Get(ctx, sub.ID())
	require.NoError(t, err)
	assert.Equal(t, StatusPending, stored.Status)

	require.NoError(t, sub.AddScreenshot("login", "login", "logging_in", []byte("png-1")))
	require.NoError(t, sub.AddScreenshot("fill", "entry page", "filling", []byte("png-2")))
	require.NoError(t, sub.AddDecision(advisor.Decision{Source: advisor.SourceAI, Action: advisor.RecoveryAction{Kind: advisor.WaitAndRetry, WaitMS: 500}}))
	require.NoError(t, sub.AddError("fill", "entry", "Importer TIN", &faults.Error{Kind: faults.SelectorNotFound, Message: "gone"}, true))
	require.NoError(t, sub.AddWarning("fill", "entry", "Carrier", faults.UnmappedDropdownValue, "no option for pigeon"))
	require.NoError(t, sub.SetExternalRecordID("1234"))

	final, err := sub.Succeed(ctx, "SAD-2024-00017")
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, final.Status)
	assert.Equal(t, "SAD-2024-00017", final.Reference)
	assert.Equal(t, "1234", final.ExternalRecordID)
	require.NotNil(t, final.FinishedAt)

	require.Len(t, final.Screenshots, 2)
	assert.Equal(t, 2, final.Screenshots[1].Seq)
	assert.Equal(t, filepath.Join(dir, final.ID, "002-entry_page-filling.png"), final.Screenshots[1].Path)
	data, err := os.ReadFile(final.Screenshots[0].Path)
	require.NoError(t, err)
	assert.Equal(t, "png-1", string(data))

	require.Len(t, final.Errors(), 1)
	assert.Equal(t, faults.SelectorNotFound, final.Errors()[0].Fault)
	assert.True(t, final.Errors()[0].Recovered)
	require.Len(t, final.Warnings(), 1)
	assert.Equal(t, 2, final.Warnings()[0].Seq)

	stored, err = store.Get(ctx, final.ID)
	require.NoError(t, err)
	assert.Equal(t, final, stored)
}

func TestFinalizedRecordIsImmutable(t *testing.T) {
	ctx := context.Background()
	rec := New(NewMemoryStore(), "")

	sub, err := rec.Start(ctx, "SAD_PORTAL", "DEC-2")
	require.NoError(t, err)

	final, err := sub.Fail(ctx, &faults.Error{Kind: faults.PortalRejected, Message: "Invalid TIN"})
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, final.Status)
	assert.Equal(t, faults.PortalRejected, final.FailureKind)
	assert.Contains(t, final.FailureMessage, "Invalid TIN")

	assert.ErrorIs(t, sub.AddScreenshot("save", "entry", "failed", []byte("x")), ErrFinalized)
	assert.ErrorIs(t, sub.AddDecision(advisor.Decision{}), ErrFinalized)
	assert.ErrorIs(t, sub.AddWarning("", "", "", faults.Unknown, "late"), ErrFinalized)
	assert.ErrorIs(t, sub.SetExternalRecordID("9"), ErrFinalized)
	_, err = sub.Succeed(ctx, "REF")
	assert.ErrorIs(t, err, ErrFinalized)

	snap := sub.Snapshot()
	assert.Equal(t, StatusFailed, snap.Status)
	assert.Empty(t, snap.Reference)
}

func TestFailUnclassifiedAndCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	store := NewMemoryStore()
	rec := New(store, "")

	sub, err := rec.Start(ctx, "SAD_PORTAL", "DEC-3")
	require.NoError(t, err)
	cancel()

	final, err := sub.Fail(ctx, ctx.Err())
	require.NoError(t, err)
	assert.Equal(t, faults.Cancelled, final.FailureKind)

	sub, err = rec.Start(context.Background(), "SAD_PORTAL", "DEC-4")
	require.NoError(t, err)
	final, err = sub.Fail(context.Background(), errors.New("boom"))
	require.NoError(t, err)
	assert.Equal(t, faults.Unknown, final.FailureKind)
}

func TestSnapshotIsACopy(t *testing.T) {
	sub, err := New(NewMemoryStore(), "").Start(context.Background(), "T", "D")
	require.NoError(t, err)
	require.NoError(t, sub.AddWarning("fill", "p", "f", faults.UnmappedDropdownValue, "w"))

	snap := sub.Snapshot()
	snap.Events[0].Message = "changed"
	assert.Equal(t, "w", sub.Snapshot().Events[0].Message)
}

func TestMemoryStoreList(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	base := time.Date(2024, 3, 9, 10, 0, 0, 0, time.UTC)
	for i, st := range []Status{StatusSuccess, StatusFailed, StatusSuccess} {
		r := &Record{ID: string(rune('a' + i)), TargetCode: "SAD_PORTAL", DeclarationID: "D", Status: st, StartedAt: base.Add(time.Duration(i) * time.Minute)}
		require.NoError(t, store.Create(ctx, r))
	}
	require.NoError(t, store.Create(ctx, &Record{ID: "z", TargetCode: "OTHER", StartedAt: base}))

	all, err := store.List(ctx, Filter{TargetCode: "SAD_PORTAL"})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "c", all[0].ID)

	ok, err := store.List(ctx, Filter{Status: StatusSuccess, Limit: 1})
	require.NoError(t, err)
	require.Len(t, ok, 1)
	assert.Equal(t, "c", ok[0].ID)

	_, err = store.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Error(t, store.Create(ctx, &Record{ID: "a"}))
}
