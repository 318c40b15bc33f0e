package snapview

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"snap-gateway/internal/platform/logger"
	"snap-gateway/internal/security/audit"
	"snap-gateway/internal/snap"
	"snap-gateway/internal/storage/database/memory"
)

func TestMain(m *testing.M) {
	logger.SetOutput(io.Discard)
	os.Exit(m.Run())
}

var t0 = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	svc   *Service
	store *memory.Store
	clock *clockwork.FakeClock
	sink  *audit.MemorySink
}

// newFixture 建立一則 5 秒、可重播 1 次的訊息，寄件者 alice，收件者 bob 與 carol.
func newFixture(t *testing.T, policy Policy) *fixture {
	t.Helper()
	ctx := context.Background()

	store := memory.NewStore()
	require.NoError(t, store.CreateConversation(ctx, &snap.Conversation{
		ID:        "conv-1",
		MemberIDs: []string{"alice", "bob", "carol"},
	}))
	require.NoError(t, store.CreateMessage(ctx, &snap.Message{
		ID:              "msg-1",
		ConversationID:  "conv-1",
		SenderID:        "alice",
		Kind:            snap.KindSnap,
		ViewingDuration: 5,
		MaxReplays:      1,
		CreatedAt:       t0,
	}))

	clock := clockwork.NewFakeClockAt(t0)
	sink := &audit.MemorySink{}
	svc, err := NewService(Stores{
		Messages:    store,
		Members:     store,
		Ledger:      store,
		Screenshots: store,
	}, policy, WithClock(clock), WithAudit(audit.NewAuditServiceWithSink(true, sink)))
	require.NoError(t, err)

	return &fixture{svc: svc, store: store, clock: clock, sink: sink}
}

func TestNewServiceRequiresStores(t *testing.T) {
	_, err := NewService(Stores{}, DefaultPolicy())
	assert.Error(t, err)
}

func TestScenarioViewThenReplayUntilExhausted(t *testing.T) {
	f := newFixture(t, DefaultPolicy())
	ctx := context.Background()

	dec, err := f.svc.Authorize(ctx, "msg-1", "bob", snap.IntentInitialView)
	require.NoError(t, err)
	require.True(t, dec.Granted)
	assert.True(t, dec.Consumed)
	assert.True(t, dec.FirstView)
	assert.Equal(t, 5, dec.ViewingDuration)
	assert.Equal(t, 0, dec.ReplayCount)
	assert.Equal(t, 1, dec.RemainingReplays)
	assert.Equal(t, 5*time.Second, dec.SessionRemaining)

	f.clock.Advance(6 * time.Second)

	dec, err = f.svc.Authorize(ctx, "msg-1", "bob", snap.IntentReplay)
	require.NoError(t, err)
	require.True(t, dec.Granted)
	assert.Equal(t, 1, dec.ReplayCount)
	assert.Equal(t, 0, dec.RemainingReplays)
	assert.Equal(t, 5*time.Second, dec.SessionRemaining, "replays are never partial")

	dec, err = f.svc.Authorize(ctx, "msg-1", "bob", snap.IntentReplay)
	require.NoError(t, err)
	assert.False(t, dec.Granted)
	assert.Equal(t, snap.ReasonNoReplaysRemaining, dec.Reason)

	rec, err := f.store.GetRecord(ctx, snap.ViewKey{MessageID: "msg-1", ViewerID: "bob"})
	require.NoError(t, err)
	assert.Equal(t, 1, rec.ReplayCount)
}

func TestScenarioSecondViewerIsIndependent(t *testing.T) {
	f := newFixture(t, DefaultPolicy())
	ctx := context.Background()

	_, err := f.svc.Authorize(ctx, "msg-1", "bob", snap.IntentInitialView)
	require.NoError(t, err)
	_, err = f.svc.Authorize(ctx, "msg-1", "bob", snap.IntentReplay)
	require.NoError(t, err)

	dec, err := f.svc.Authorize(ctx, "msg-1", "carol", snap.IntentInitialView)
	require.NoError(t, err)
	require.True(t, dec.Granted)
	assert.True(t, dec.Consumed)
	assert.Equal(t, 0, dec.ReplayCount)
	assert.Equal(t, 1, dec.RemainingReplays)
}

func TestScenarioExpiredMessage(t *testing.T) {
	f := newFixture(t, DefaultPolicy())
	ctx := context.Background()

	expires := t0.Add(-time.Second)
	require.NoError(t, f.store.CreateMessage(ctx, &snap.Message{
		ID:              "msg-old",
		ConversationID:  "conv-1",
		SenderID:        "alice",
		Kind:            snap.KindSnap,
		ViewingDuration: 5,
		MaxReplays:      3,
		ExpiresAt:       &expires,
		CreatedAt:       t0.Add(-time.Hour),
	}))

	for _, intent := range []snap.Intent{snap.IntentInitialView, snap.IntentReplay} {
		dec, err := f.svc.Authorize(ctx, "msg-old", "bob", intent)
		require.NoError(t, err)
		assert.False(t, dec.Granted)
		assert.Equal(t, snap.ReasonExpired, dec.Reason, "intent %s", intent)
	}

	_, err := f.store.GetRecord(ctx, snap.ViewKey{MessageID: "msg-old", ViewerID: "bob"})
	assert.True(t, errors.Is(err, snap.ErrRecordNotFound), "rejections must not write")
}

func TestExpiryOverridesRemainingBudget(t *testing.T) {
	f := newFixture(t, DefaultPolicy())
	ctx := context.Background()

	expires := t0.Add(time.Minute)
	require.NoError(t, f.store.CreateMessage(ctx, &snap.Message{
		ID:              "msg-soon",
		ConversationID:  "conv-1",
		SenderID:        "alice",
		Kind:            snap.KindSnap,
		ViewingDuration: 3,
		MaxReplays:      3,
		ExpiresAt:       &expires,
		CreatedAt:       t0,
	}))

	dec, err := f.svc.Authorize(ctx, "msg-soon", "bob", snap.IntentInitialView)
	require.NoError(t, err)
	require.True(t, dec.Granted)

	f.clock.Advance(2 * time.Minute)

	dec, err = f.svc.Authorize(ctx, "msg-soon", "bob", snap.IntentReplay)
	require.NoError(t, err)
	assert.Equal(t, snap.ReasonExpired, dec.Reason)

	dec, err = f.svc.Authorize(ctx, "msg-soon", "bob", snap.IntentInitialView)
	require.NoError(t, err)
	assert.Equal(t, snap.ReasonExpired, dec.Reason)
}

func TestScenarioConcurrentReplays(t *testing.T) {
	f := newFixture(t, DefaultPolicy())
	ctx := context.Background()

	_, err := f.svc.Authorize(ctx, "msg-1", "bob", snap.IntentInitialView)
	require.NoError(t, err)

	const n = 20
	results := make([]snap.Decision, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			dec, err := f.svc.Authorize(ctx, "msg-1", "bob", snap.IntentReplay)
			if err != nil {
				t.Errorf("authorize: %v", err)
				return
			}
			results[i] = dec
		}(i)
	}
	wg.Wait()

	granted := 0
	for _, dec := range results {
		if dec.Granted {
			granted++
			assert.Equal(t, 1, dec.ReplayCount)
			continue
		}
		assert.Equal(t, snap.ReasonNoReplaysRemaining, dec.Reason)
	}
	assert.Equal(t, 1, granted)
}

func TestInitialViewIsIdempotent(t *testing.T) {
	f := newFixture(t, DefaultPolicy())
	ctx := context.Background()

	first, err := f.svc.Authorize(ctx, "msg-1", "bob", snap.IntentInitialView)
	require.NoError(t, err)

	f.clock.Advance(2 * time.Second)

	second, err := f.svc.Authorize(ctx, "msg-1", "bob", snap.IntentInitialView)
	require.NoError(t, err)
	require.True(t, second.Granted)
	assert.False(t, second.Consumed)
	assert.False(t, second.FirstView)
	assert.Equal(t, first.FirstViewedAt, second.FirstViewedAt)
	assert.Equal(t, first.ReplayCount, second.ReplayCount)
	assert.Equal(t, 3*time.Second, second.SessionRemaining, "only the rest of the original session")

	f.clock.Advance(time.Minute)

	third, err := f.svc.Authorize(ctx, "msg-1", "bob", snap.IntentInitialView)
	require.NoError(t, err)
	require.True(t, third.Granted)
	assert.Zero(t, third.SessionRemaining)
	assert.Equal(t, 1, third.RemainingReplays, "re-entry never spends replays")
}

func TestReplayWithoutFirstView(t *testing.T) {
	f := newFixture(t, DefaultPolicy())

	dec, err := f.svc.Authorize(context.Background(), "msg-1", "bob", snap.IntentReplay)
	require.NoError(t, err)
	assert.False(t, dec.Granted)
	assert.Equal(t, snap.ReasonNotFound, dec.Reason)
}

func TestNoRefundAfterEarlyClose(t *testing.T) {
	f := newFixture(t, DefaultPolicy())
	ctx := context.Background()

	_, err := f.svc.Authorize(ctx, "msg-1", "bob", snap.IntentInitialView)
	require.NoError(t, err)
	// 觀看者在倒數結束前關閉：伺服器不會收到任何通知.
	f.clock.Advance(time.Second)

	rec, err := f.store.GetRecord(ctx, snap.ViewKey{MessageID: "msg-1", ViewerID: "bob"})
	require.NoError(t, err)
	require.NotNil(t, rec.FirstViewedAt)
	assert.True(t, t0.Equal(*rec.FirstViewedAt))

	res, err := f.svc.CanView(ctx, "msg-1", "bob")
	require.NoError(t, err)
	assert.False(t, res.IsFirstView)
	assert.Equal(t, 0, res.ReplayCount)
}

func TestAuthorizeRejections(t *testing.T) {
	f := newFixture(t, DefaultPolicy())
	ctx := context.Background()

	require.NoError(t, f.store.CreateMessage(ctx, &snap.Message{
		ID: "msg-text", ConversationID: "conv-1", SenderID: "alice", Kind: snap.KindText, CreatedAt: t0,
	}))

	tests := []struct {
		name      string
		messageID string
		viewerID  string
		want      snap.Reason
	}{
		{"missing message", "nope", "bob", snap.ReasonNotFound},
		{"not ephemeral", "msg-text", "bob", snap.ReasonNotFound},
		{"outsider", "msg-1", "mallory", snap.ReasonNotAParticipant},
		{"sender", "msg-1", "alice", snap.ReasonNotAParticipant},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dec, err := f.svc.Authorize(ctx, tt.messageID, tt.viewerID, snap.IntentInitialView)
			require.NoError(t, err)
			assert.False(t, dec.Granted)
			assert.Equal(t, tt.want, dec.Reason)
		})
	}

	var denied int
	for _, e := range f.sink.Events() {
		if e.EventType == audit.EventViewDenied {
			denied++
		}
	}
	assert.Equal(t, len(tests), denied)
}

func TestAuthorizeInvalidArguments(t *testing.T) {
	f := newFixture(t, DefaultPolicy())
	ctx := context.Background()

	_, err := f.svc.Authorize(ctx, "", "bob", snap.IntentInitialView)
	assert.Equal(t, snap.ReasonInvalidArgument, snap.ReasonOf(err))

	_, err = f.svc.Authorize(ctx, "msg-1", "bob", snap.Intent("peek"))
	assert.Equal(t, snap.ReasonInvalidArgument, snap.ReasonOf(err))
}

func TestReplaysDisabledByPolicy(t *testing.T) {
	policy := DefaultPolicy()
	policy.ReplaysEnabled = false
	f := newFixture(t, policy)
	ctx := context.Background()

	dec, err := f.svc.Authorize(ctx, "msg-1", "bob", snap.IntentInitialView)
	require.NoError(t, err)
	assert.Equal(t, 0, dec.MaxReplays)
	assert.Equal(t, 0, dec.RemainingReplays)

	dec, err = f.svc.Authorize(ctx, "msg-1", "bob", snap.IntentReplay)
	require.NoError(t, err)
	assert.Equal(t, snap.ReasonNoReplaysRemaining, dec.Reason)
}

func TestReplayCeiling(t *testing.T) {
	policy := DefaultPolicy()
	policy.Bounds.MaxReplays = 2
	f := newFixture(t, policy)
	ctx := context.Background()

	require.NoError(t, f.store.CreateMessage(ctx, &snap.Message{
		ID: "msg-many", ConversationID: "conv-1", SenderID: "alice", Kind: snap.KindSnap,
		ViewingDuration: 2, MaxReplays: 9, CreatedAt: t0,
	}))

	dec, err := f.svc.Authorize(ctx, "msg-many", "bob", snap.IntentInitialView)
	require.NoError(t, err)
	assert.Equal(t, 2, dec.MaxReplays)
}

func TestInvalidStoredDuration(t *testing.T) {
	f := newFixture(t, DefaultPolicy())
	ctx := context.Background()

	require.NoError(t, f.store.CreateMessage(ctx, &snap.Message{
		ID: "msg-bad", ConversationID: "conv-1", SenderID: "alice", Kind: snap.KindSnap,
		ViewingDuration: 60, CreatedAt: t0,
	}))

	_, err := f.svc.Authorize(ctx, "msg-bad", "bob", snap.IntentInitialView)
	assert.Equal(t, snap.ReasonInternal, snap.ReasonOf(err))
}

func TestCanViewIsReadOnly(t *testing.T) {
	f := newFixture(t, DefaultPolicy())
	ctx := context.Background()

	res, err := f.svc.CanView(ctx, "msg-1", "bob")
	require.NoError(t, err)
	assert.True(t, res.CanView)
	assert.True(t, res.IsFirstView)
	assert.Equal(t, 5, res.ViewingDuration)
	assert.Equal(t, 1, res.MaxReplays)

	_, err = f.store.GetRecord(ctx, snap.ViewKey{MessageID: "msg-1", ViewerID: "bob"})
	assert.True(t, errors.Is(err, snap.ErrRecordNotFound))

	_, err = f.svc.Authorize(ctx, "msg-1", "bob", snap.IntentInitialView)
	require.NoError(t, err)
	_, err = f.svc.Authorize(ctx, "msg-1", "bob", snap.IntentReplay)
	require.NoError(t, err)
	f.clock.Advance(10 * time.Second)

	res, err = f.svc.CanView(ctx, "msg-1", "bob")
	require.NoError(t, err)
	assert.False(t, res.CanView)
	assert.Equal(t, 1, res.ReplayCount)
	assert.Equal(t, snap.ReasonNoReplaysRemaining, res.Reason)

	res, err = f.svc.CanView(ctx, "msg-1", "mallory")
	require.NoError(t, err)
	assert.False(t, res.CanView)
	assert.Equal(t, snap.ReasonNotAParticipant, res.Reason)
}

func TestRecordViewAndIncrementReplay(t *testing.T) {
	f := newFixture(t, DefaultPolicy())
	ctx := context.Background()

	res, err := f.svc.RecordView(ctx, "msg-1", "bob", t0.Add(-200*time.Millisecond), false)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 0, res.ReplayCount)
	assert.True(t, res.CanReplay)

	res, err = f.svc.IncrementReplay(ctx, "msg-1", "bob")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 1, res.ReplayCount)
	assert.False(t, res.CanReplay)

	res, err = f.svc.RecordView(ctx, "msg-1", "bob", time.Time{}, true)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, snap.ReasonNoReplaysRemaining, res.Reason)
	assert.False(t, res.CanReplay)

	rec, err := f.store.GetRecord(ctx, snap.ViewKey{MessageID: "msg-1", ViewerID: "bob"})
	require.NoError(t, err)
	assert.True(t, t0.Equal(*rec.FirstViewedAt), "ledger uses server time, not the client's")
}

type failingLedger struct {
	Ledger
	err error
}

func (l failingLedger) BeginFirstView(context.Context, snap.ViewKey, time.Time) (*snap.ViewRecord, bool, error) {
	return nil, false, l.err
}

func TestLedgerFailureIsAnError(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()
	require.NoError(t, store.CreateConversation(ctx, &snap.Conversation{ID: "c", MemberIDs: []string{"a", "b"}}))
	require.NoError(t, store.CreateMessage(ctx, &snap.Message{
		ID: "m", ConversationID: "c", SenderID: "a", Kind: snap.KindSnap, ViewingDuration: 4,
	}))

	boom := errors.New("connection reset")
	svc, err := NewService(Stores{
		Messages:    store,
		Members:     store,
		Ledger:      failingLedger{Ledger: store, err: boom},
		Screenshots: store,
	}, DefaultPolicy())
	require.NoError(t, err)

	_, err = svc.Authorize(ctx, "m", "b", snap.IntentInitialView)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}
