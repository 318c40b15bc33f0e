package snapview

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"snap-gateway/internal/security/audit"
	"snap-gateway/internal/snap"
)

func TestScenarioScreenshotNotifiesSender(t *testing.T) {
	f := newFixture(t, DefaultPolicy())
	ctx := context.Background()

	dec, err := f.svc.Authorize(ctx, "msg-1", "bob", snap.IntentInitialView)
	require.NoError(t, err)
	require.True(t, dec.Granted)

	f.clock.Advance(2 * time.Second)
	takenAt := f.clock.Now().Add(-100 * time.Millisecond)

	event, err := f.svc.RecordScreenshot(ctx, "msg-1", "bob", takenAt)
	require.NoError(t, err)
	assert.Equal(t, "alice", event.OwnerID)
	assert.Equal(t, "conv-1", event.ConversationID)
	assert.True(t, takenAt.Equal(event.OccurredAt))
	assert.NotEmpty(t, event.ID)

	page, err := f.svc.GetScreenshotNotifications(ctx, "alice", NotificationQuery{})
	require.NoError(t, err)
	require.Len(t, page.Events, 1)
	assert.Equal(t, "msg-1", page.Events[0].MessageID)
	assert.Equal(t, "bob", page.Events[0].ScreenshotterID)

	// 截圖不影響觀看狀態.
	rec, err := f.store.GetRecord(ctx, snap.ViewKey{MessageID: "msg-1", ViewerID: "bob"})
	require.NoError(t, err)
	assert.Equal(t, 0, rec.ReplayCount)
	assert.True(t, t0.Equal(*rec.LastViewingStartedAt))

	var recorded int
	for _, e := range f.sink.Events() {
		if e.EventType == audit.EventScreenshotRecorded {
			recorded++
		}
	}
	assert.Equal(t, 1, recorded)
}

func TestRecordScreenshotClampsClientTime(t *testing.T) {
	f := newFixture(t, DefaultPolicy())
	ctx := context.Background()

	tests := []struct {
		name string
		at   time.Time
		want time.Time
	}{
		{"zero", time.Time{}, t0},
		{"far future", t0.Add(24 * time.Hour), t0},
		{"far past", t0.Add(-24 * time.Hour), t0},
		{"within skew", t0.Add(-time.Minute), t0.Add(-time.Minute)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event, err := f.svc.RecordScreenshot(ctx, "msg-1", "carol", tt.at)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(event.OccurredAt), "got %s", event.OccurredAt)
			assert.True(t, t0.Equal(event.RecordedAt))
		})
	}
}

func TestRecordScreenshotRejections(t *testing.T) {
	f := newFixture(t, DefaultPolicy())
	ctx := context.Background()

	_, err := f.svc.RecordScreenshot(ctx, "nope", "bob", t0)
	assert.Equal(t, snap.ReasonNotFound, snap.ReasonOf(err))

	_, err = f.svc.RecordScreenshot(ctx, "msg-1", "mallory", t0)
	assert.Equal(t, snap.ReasonNotAParticipant, snap.ReasonOf(err))

	_, err = f.svc.RecordScreenshot(ctx, "msg-1", "alice", t0)
	assert.Equal(t, snap.ReasonNotAParticipant, snap.ReasonOf(err), "senders do not screenshot-notify themselves")

	_, err = f.svc.RecordScreenshot(ctx, "msg-1", "", t0)
	assert.Equal(t, snap.ReasonInvalidArgument, snap.ReasonOf(err))
}

func TestNotificationsPagingAndAcknowledge(t *testing.T) {
	f := newFixture(t, DefaultPolicy())
	ctx := context.Background()

	n := 0
	f.svc.newID = func() string {
		n++
		return fmt.Sprintf("evt-%02d", n)
	}

	for i := 0; i < 5; i++ {
		f.clock.Advance(time.Second)
		_, err := f.svc.RecordScreenshot(ctx, "msg-1", "bob", f.clock.Now())
		require.NoError(t, err)
	}

	page, err := f.svc.GetScreenshotNotifications(ctx, "alice", NotificationQuery{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page.Events, 2)
	assert.True(t, page.HasMore)
	assert.Equal(t, "evt-05", page.Events[0].ID)

	page, err = f.svc.GetScreenshotNotifications(ctx, "alice", NotificationQuery{Limit: 2, Cursor: page.NextCursor})
	require.NoError(t, err)
	require.Len(t, page.Events, 2)
	assert.Equal(t, "evt-03", page.Events[0].ID)

	acked, err := f.svc.AcknowledgeScreenshotNotifications(ctx, "alice", []string{"evt-05", "evt-04"})
	require.NoError(t, err)
	assert.Equal(t, 2, acked)

	acked, err = f.svc.AcknowledgeScreenshotNotifications(ctx, "bob", []string{"evt-03"})
	require.NoError(t, err)
	assert.Zero(t, acked, "bob does not own these notifications")

	unread, err := f.svc.GetScreenshotNotifications(ctx, "alice", NotificationQuery{UnreadOnly: true})
	require.NoError(t, err)
	assert.Len(t, unread.Events, 3)

	none, err := f.svc.GetScreenshotNotifications(ctx, "bob", NotificationQuery{})
	require.NoError(t, err)
	assert.NotNil(t, none.Events)
	assert.Empty(t, none.Events)
}

func TestNotificationsValidation(t *testing.T) {
	f := newFixture(t, DefaultPolicy())
	ctx := context.Background()

	_, err := f.svc.GetScreenshotNotifications(ctx, "alice", NotificationQuery{Cursor: "not-a-cursor!"})
	assert.Equal(t, snap.ReasonInvalidArgument, snap.ReasonOf(err))

	ids := make([]string, 101)
	for i := range ids {
		ids[i] = fmt.Sprintf("id-%d", i)
	}
	_, err = f.svc.AcknowledgeScreenshotNotifications(ctx, "alice", ids)
	assert.Equal(t, snap.ReasonInvalidArgument, snap.ReasonOf(err))

	n, err := f.svc.AcknowledgeScreenshotNotifications(ctx, "alice", nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}
