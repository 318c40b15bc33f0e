package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditService_Disabled(t *testing.T) {
	sink := &MemorySink{}
	svc := NewAuditServiceWithSink(false, sink)

	svc.LogViewGranted(context.Background(), "bob", "c1", "m1", "initial_view", true, 0)
	svc.LogRateLimitExceeded(context.Background(), "1.2.3.4", "/x")
	assert.Empty(t, sink.Events())

	var nilSvc *AuditService
	assert.False(t, nilSvc.IsEnabled())
	assert.NotPanics(t, func() { nilSvc.LogViewDenied(context.Background(), "bob", "m1", "replay", "expired") })
}

func TestAuditService_ClientInfo(t *testing.T) {
	sink := &MemorySink{}
	svc := NewAuditServiceWithSink(true, sink)
	fixed := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	ctx := WithClientInfo(context.Background(), ClientInfo{IPAddress: "10.0.0.1", UserAgent: "snap-ios/1.0"})
	svc.LogViewDenied(ctx, "bob", "m1", "replay", "no_replays_remaining")
	svc.LogRateLimitExceeded(ctx, "10.0.0.9", "/api/v1/snaps/:message_id/views")

	events := sink.Events()
	require.Len(t, events, 2)

	denied := events[0]
	assert.Equal(t, EventViewDenied, denied.EventType)
	assert.Equal(t, "denied", denied.Result)
	assert.Equal(t, "no_replays_remaining", denied.Details["reason"])
	assert.Equal(t, "10.0.0.1", denied.IPAddress)
	assert.Equal(t, "snap-ios/1.0", denied.UserAgent)
	assert.True(t, fixed.Equal(denied.Timestamp))

	// 明確給定的 IP 不被 context 覆蓋
	assert.Equal(t, "10.0.0.9", events[1].IPAddress)
}

func TestAuditService_ScreenshotAndAck(t *testing.T) {
	sink := &MemorySink{}
	svc := NewAuditServiceWithSink(true, sink)
	at := time.Date(2026, 3, 1, 8, 30, 0, 0, time.UTC)

	svc.LogScreenshot(context.Background(), "bob", "c1", "m1", "alice", at)
	svc.LogNotificationsAcknowledged(context.Background(), "alice", 3)

	events := sink.Events()
	require.Len(t, events, 2)
	assert.Equal(t, EventScreenshotRecorded, events[0].EventType)
	assert.Equal(t, "alice", events[0].Details["owner_id"])
	assert.Equal(t, at.Format(time.RFC3339Nano), events[0].Details["occurred_at"])
	assert.Equal(t, EventNotificationsAcked, events[1].EventType)
	assert.Equal(t, 3, events[1].Details["count"])
}
