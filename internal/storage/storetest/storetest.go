// Package storetest 提供各儲存實作共用的行為測試.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"snap-gateway/internal/snap"
	"snap-gateway/internal/snapview"
)

// base 固定時間，避免不同後端的時間精度造成比對誤差.
var base = time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)

// RunLedgerTests 驗證帳本實作. newLedger 每次回傳一個乾淨的帳本.
func RunLedgerTests(t *testing.T, newLedger func(t *testing.T) snapview.Ledger) {
	t.Run("FirstViewIsIdempotent", func(t *testing.T) {
		ledger := newLedger(t)
		ctx := context.Background()
		key := snap.ViewKey{MessageID: uniqueID("m"), ViewerID: "viewer-a"}

		rec, created, err := ledger.BeginFirstView(ctx, key, base)
		require.NoError(t, err)
		require.True(t, created)
		require.NotNil(t, rec.FirstViewedAt)
		assert.True(t, base.Equal(*rec.FirstViewedAt))
		assert.Zero(t, rec.ReplayCount)

		again, created, err := ledger.BeginFirstView(ctx, key, base.Add(3*time.Second))
		require.NoError(t, err)
		assert.False(t, created)
		assert.True(t, base.Equal(*again.FirstViewedAt), "first_viewed_at must not move")
		assert.True(t, base.Equal(*again.LastViewingStartedAt), "re-entry must not restamp the session")
		assert.Zero(t, again.ReplayCount)
	})

	t.Run("GetRecordMissing", func(t *testing.T) {
		ledger := newLedger(t)
		_, err := ledger.GetRecord(context.Background(), snap.ViewKey{MessageID: uniqueID("m"), ViewerID: "nobody"})
		assert.True(t, errors.Is(err, snap.ErrRecordNotFound), "got %v", err)
	})

	t.Run("ReplayWithoutRecord", func(t *testing.T) {
		ledger := newLedger(t)
		_, err := ledger.ConsumeReplay(context.Background(), snap.ViewKey{MessageID: uniqueID("m"), ViewerID: "v"}, 3, base)
		assert.True(t, errors.Is(err, snap.ErrRecordNotFound), "got %v", err)
	})

	t.Run("ReplayBudget", func(t *testing.T) {
		ledger := newLedger(t)
		ctx := context.Background()
		key := snap.ViewKey{MessageID: uniqueID("m"), ViewerID: "viewer-a"}

		_, _, err := ledger.BeginFirstView(ctx, key, base)
		require.NoError(t, err)

		for i := 1; i <= 2; i++ {
			at := base.Add(time.Duration(i) * 10 * time.Second)
			rec, err := ledger.ConsumeReplay(ctx, key, 2, at)
			require.NoError(t, err)
			assert.Equal(t, i, rec.ReplayCount)
			assert.True(t, at.Equal(*rec.LastViewingStartedAt))
			assert.True(t, base.Equal(*rec.FirstViewedAt))
		}

		_, err = ledger.ConsumeReplay(ctx, key, 2, base.Add(time.Minute))
		assert.True(t, errors.Is(err, snap.ErrReplayBudgetExhausted), "got %v", err)

		rec, err := ledger.GetRecord(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, 2, rec.ReplayCount)
	})

	t.Run("ZeroBudget", func(t *testing.T) {
		ledger := newLedger(t)
		ctx := context.Background()
		key := snap.ViewKey{MessageID: uniqueID("m"), ViewerID: "viewer-a"}

		_, _, err := ledger.BeginFirstView(ctx, key, base)
		require.NoError(t, err)
		_, err = ledger.ConsumeReplay(ctx, key, 0, base)
		assert.True(t, errors.Is(err, snap.ErrReplayBudgetExhausted), "got %v", err)
	})

	t.Run("ViewersAreIndependent", func(t *testing.T) {
		ledger := newLedger(t)
		ctx := context.Background()
		msgID := uniqueID("m")
		a := snap.ViewKey{MessageID: msgID, ViewerID: "viewer-a"}
		b := snap.ViewKey{MessageID: msgID, ViewerID: "viewer-b"}

		_, _, err := ledger.BeginFirstView(ctx, a, base)
		require.NoError(t, err)
		_, err = ledger.ConsumeReplay(ctx, a, 1, base)
		require.NoError(t, err)

		rec, created, err := ledger.BeginFirstView(ctx, b, base)
		require.NoError(t, err)
		assert.True(t, created)
		assert.Zero(t, rec.ReplayCount)

		rec, err = ledger.ConsumeReplay(ctx, b, 1, base)
		require.NoError(t, err)
		assert.Equal(t, 1, rec.ReplayCount)
	})

	t.Run("ConcurrentReplaysSpendOnce", func(t *testing.T) {
		ledger := newLedger(t)
		ctx := context.Background()
		key := snap.ViewKey{MessageID: uniqueID("m"), ViewerID: "viewer-a"}

		_, _, err := ledger.BeginFirstView(ctx, key, base)
		require.NoError(t, err)
		_, err = ledger.ConsumeReplay(ctx, key, 2, base)
		require.NoError(t, err)

		const n = 16
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			successes int
			exhausted int
		)
		start := make(chan struct{})
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				_, err := ledger.ConsumeReplay(ctx, key, 2, base.Add(time.Second))
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					successes++
				case errors.Is(err, snap.ErrReplayBudgetExhausted):
					exhausted++
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		close(start)
		wg.Wait()

		assert.Equal(t, 1, successes)
		assert.Equal(t, n-1, exhausted)

		rec, err := ledger.GetRecord(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, 2, rec.ReplayCount)
	})

	t.Run("ConcurrentFirstViewsCreateOnce", func(t *testing.T) {
		ledger := newLedger(t)
		ctx := context.Background()
		key := snap.ViewKey{MessageID: uniqueID("m"), ViewerID: "viewer-a"}

		const n = 8
		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			created int
		)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, c, err := ledger.BeginFirstView(ctx, key, base)
				if err != nil {
					t.Errorf("unexpected error: %v", err)
					return
				}
				if c {
					mu.Lock()
					created++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, created)
	})
}

// RunScreenshotTests 驗證截圖儲存實作.
func RunScreenshotTests(t *testing.T, newStore func(t *testing.T) snapview.ScreenshotStore) {
	t.Run("ListNewestFirstWithPaging", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		owner := uniqueID("owner")

		for i := 0; i < 5; i++ {
			require.NoError(t, store.RecordScreenshot(ctx, event(owner, fmt.Sprintf("e%d", i), base.Add(time.Duration(i)*time.Second))))
		}
		require.NoError(t, store.RecordScreenshot(ctx, event(uniqueID("other"), "x1", base)))

		page1, next, hasMore, err := store.ListForOwner(ctx, owner, false, 3, "")
		require.NoError(t, err)
		require.Len(t, page1, 3)
		assert.True(t, hasMore)
		assert.NotEmpty(t, next)
		assert.Equal(t, []string{"e4", "e3", "e2"}, ids(page1))

		page2, next, hasMore, err := store.ListForOwner(ctx, owner, false, 3, next)
		require.NoError(t, err)
		assert.False(t, hasMore)
		assert.Empty(t, next)
		assert.Equal(t, []string{"e1", "e0"}, ids(page2))
	})

	t.Run("DuplicatesAreKept", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		owner := uniqueID("owner")

		require.NoError(t, store.RecordScreenshot(ctx, event(owner, "d1", base)))
		require.NoError(t, store.RecordScreenshot(ctx, event(owner, "d2", base)))

		list, _, _, err := store.ListForOwner(ctx, owner, false, 10, "")
		require.NoError(t, err)
		assert.Len(t, list, 2)
	})

	t.Run("AcknowledgeAndUnreadFilter", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		owner := uniqueID("owner")
		stranger := uniqueID("stranger")

		require.NoError(t, store.RecordScreenshot(ctx, event(owner, "a1", base)))
		require.NoError(t, store.RecordScreenshot(ctx, event(owner, "a2", base.Add(time.Second))))

		a1 := "a1-" + owner
		n, err := store.Acknowledge(ctx, stranger, []string{a1}, base.Add(time.Minute))
		require.NoError(t, err)
		assert.Zero(t, n, "only the owner may acknowledge")

		n, err = store.Acknowledge(ctx, owner, []string{a1, "missing"}, base.Add(time.Minute))
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		n, err = store.Acknowledge(ctx, owner, []string{a1}, base.Add(2*time.Minute))
		require.NoError(t, err)
		assert.Zero(t, n, "already acknowledged")

		unread, _, _, err := store.ListForOwner(ctx, owner, true, 10, "")
		require.NoError(t, err)
		assert.Equal(t, []string{"a2"}, ids(unread))

		all, _, _, err := store.ListForOwner(ctx, owner, false, 10, "")
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.NotNil(t, all[1].AcknowledgedAt)
	})
}

var (
	seqMu sync.Mutex
	seq   int
)

// uniqueID 讓共用資料庫的整合測試彼此不干擾.
func uniqueID(prefix string) string {
	seqMu.Lock()
	defer seqMu.Unlock()
	seq++
	return fmt.Sprintf("%s-%d-%d", prefix, time.Now().UnixNano(), seq)
}

func event(owner, id string, at time.Time) *snap.ScreenshotEvent {
	return &snap.ScreenshotEvent{
		ID:              id + "-" + owner,
		MessageID:       "msg-" + owner,
		ConversationID:  "conv-" + owner,
		OwnerID:         owner,
		ScreenshotterID: "viewer",
		OccurredAt:      at,
		RecordedAt:      at,
	}
}

func ids(events []*snap.ScreenshotEvent) []string {
	out := make([]string, 0, len(events))
	for _, e := range events {
		out = append(out, e.ID[:len(e.ID)-len(e.OwnerID)-1])
	}
	return out
}
