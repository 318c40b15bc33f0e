// Package snapview 實作伺服器端的觀看授權服務與截圖通知.
package snapview

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"

	"snap-gateway/internal/constants"
	"snap-gateway/internal/platform/logger"
	"snap-gateway/internal/security/audit"
	"snap-gateway/internal/snap"
)

// Policy 服務端觀看策略.
type Policy struct {
	Bounds         snap.Bounds
	ReplaysEnabled bool
	// ScreenshotSkew 客戶端截圖時間與伺服器時間可接受的誤差，超過即改用伺服器時間.
	ScreenshotSkew time.Duration
}

// DefaultPolicy 預設策略.
func DefaultPolicy() Policy {
	return Policy{
		Bounds:         snap.DefaultBounds,
		ReplaysEnabled: true,
		ScreenshotSkew: constants.DefaultScreenshotSkewSeconds * time.Second,
	}
}

// Stores 服務依賴的儲存層.
type Stores struct {
	Messages    MessageReader
	Members     MembershipChecker
	Ledger      Ledger
	Screenshots ScreenshotStore
}

// Service 觀看授權服務. 每次呼叫各自獨立，狀態只存在帳本.
type Service struct {
	messages    MessageReader
	members     MembershipChecker
	ledger      Ledger
	screenshots ScreenshotStore
	policy      Policy
	clock       clockwork.Clock
	audit       *audit.AuditService
	newID       func() string
}

// Option 服務選項.
type Option func(*Service)

// WithClock 注入時鐘.
func WithClock(c clockwork.Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithAudit 注入審計服務.
func WithAudit(a *audit.AuditService) Option {
	return func(s *Service) { s.audit = a }
}

// WithIDGenerator 注入截圖事件 ID 產生器.
func WithIDGenerator(fn func() string) Option {
	return func(s *Service) { s.newID = fn }
}

// NewService 建立服務.
func NewService(stores Stores, policy Policy, opts ...Option) (*Service, error) {
	if stores.Messages == nil || stores.Members == nil || stores.Ledger == nil || stores.Screenshots == nil {
		return nil, errors.New("snapview: all stores are required")
	}

	s := &Service{
		messages:    stores.Messages,
		members:     stores.Members,
		ledger:      stores.Ledger,
		screenshots: stores.Screenshots,
		policy:      policy,
		clock:       clockwork.NewRealClock(),
		audit:       audit.NewAuditService(false),
		newID:       newEventID,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Authorize 檢查並原子更新 (message, viewer) 的消耗狀態.
// 業務拒絕以 Decision.Reason 回傳；error 只代表參數錯誤或基礎設施故障.
func (s *Service) Authorize(ctx context.Context, messageID, viewerID string, intent snap.Intent) (snap.Decision, error) {
	key := snap.ViewKey{MessageID: messageID, ViewerID: viewerID}
	if err := key.Validate(); err != nil {
		return snap.Decision{}, err
	}
	if !intent.Valid() {
		return snap.Decision{}, snap.Errorf(snap.ReasonInvalidArgument, "unknown intent %q", intent)
	}

	msg, reason, err := s.admit(ctx, messageID, viewerID)
	if err != nil {
		return snap.Decision{}, err
	}
	if reason != "" {
		return s.deny(ctx, key, intent, reason), nil
	}

	now := s.clock.Now().UTC()
	maxReplays := s.effectiveMaxReplays(msg)

	var dec snap.Decision
	switch intent {
	case snap.IntentInitialView:
		dec, err = s.beginFirstView(ctx, key, msg, maxReplays, now)
	case snap.IntentReplay:
		dec, err = s.consumeReplay(ctx, key, msg, maxReplays, now)
	}
	if err != nil {
		return snap.Decision{}, err
	}
	if !dec.Granted {
		return s.deny(ctx, key, intent, dec.Reason), nil
	}

	logger.Info(ctx, "觀看授權通過",
		logger.WithUserID(viewerID),
		logger.WithConversationID(msg.ConversationID),
		logger.WithMessageID(messageID),
		logger.WithAction(string(intent)),
		logger.WithDetails(map[string]interface{}{
			"consumed":          dec.Consumed,
			"replay_count":      dec.ReplayCount,
			"remaining_replays": dec.RemainingReplays,
		}),
	)
	s.audit.LogViewGranted(ctx, viewerID, msg.ConversationID, messageID, string(intent), dec.Consumed, dec.ReplayCount)
	return dec, nil
}

// admit 依序檢查訊息存在、未過期、呼叫者為收件人.
func (s *Service) admit(ctx context.Context, messageID, userID string) (*snap.Message, snap.Reason, error) {
	msg, err := s.messages.GetMessage(ctx, messageID)
	if errors.Is(err, snap.ErrMessageNotFound) {
		return nil, snap.ReasonNotFound, nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("get message %s: %w", messageID, err)
	}
	if !msg.IsEphemeral() {
		return nil, snap.ReasonNotFound, nil
	}
	if msg.Expired(s.clock.Now()) {
		return nil, snap.ReasonExpired, nil
	}
	if err := snap.ValidateEphemeral(msg.ViewingDuration, 0, nil, time.Time{}, s.policy.Bounds); err != nil {
		return nil, "", snap.NewError(snap.ReasonInternal, "stored message has invalid viewing parameters", err)
	}

	ok, err := s.isRecipient(ctx, msg, userID)
	if err != nil {
		return nil, "", err
	}
	if !ok {
		return nil, snap.ReasonNotAParticipant, nil
	}
	return msg, "", nil
}

// isRecipient 寄件者本人不算收件人.
func (s *Service) isRecipient(ctx context.Context, msg *snap.Message, userID string) (bool, error) {
	if userID == msg.SenderID {
		return false, nil
	}
	ok, err := s.members.IsParticipant(ctx, msg.ConversationID, userID)
	if err != nil {
		return false, fmt.Errorf("check membership %s: %w", msg.ConversationID, err)
	}
	return ok, nil
}

func (s *Service) effectiveMaxReplays(msg *snap.Message) int {
	if !s.policy.ReplaysEnabled {
		return 0
	}
	if limit := s.policy.Bounds.MaxReplays; limit > 0 && msg.MaxReplays > limit {
		return limit
	}
	return msg.MaxReplays
}

func (s *Service) beginFirstView(ctx context.Context, key snap.ViewKey, msg *snap.Message, maxReplays int, now time.Time) (snap.Decision, error) {
	rec, created, err := s.ledger.BeginFirstView(ctx, key, now)
	if err != nil {
		return snap.Decision{}, fmt.Errorf("begin first view %s: %w", key, err)
	}

	dec := granted(rec, msg, maxReplays)
	if created {
		dec.Consumed = true
		dec.FirstView = true
		dec.SessionRemaining = msg.Duration()
		return dec, nil
	}

	// 重入已開始的觀看：不寫入，只回報該次觀看剩餘時間.
	dec.SessionRemaining = sessionRemaining(rec, msg, now)
	return dec, nil
}

func (s *Service) consumeReplay(ctx context.Context, key snap.ViewKey, msg *snap.Message, maxReplays int, now time.Time) (snap.Decision, error) {
	rec, err := s.ledger.ConsumeReplay(ctx, key, maxReplays, now)
	switch {
	case errors.Is(err, snap.ErrRecordNotFound):
		return snap.Deny(snap.ReasonNotFound), nil
	case errors.Is(err, snap.ErrReplayBudgetExhausted):
		return snap.Deny(snap.ReasonNoReplaysRemaining), nil
	case err != nil:
		return snap.Decision{}, fmt.Errorf("consume replay %s: %w", key, err)
	}

	dec := granted(rec, msg, maxReplays)
	dec.Consumed = true
	dec.SessionRemaining = msg.Duration()
	return dec, nil
}

func (s *Service) deny(ctx context.Context, key snap.ViewKey, intent snap.Intent, reason snap.Reason) snap.Decision {
	logger.Info(ctx, "觀看授權被拒",
		logger.WithUserID(key.ViewerID),
		logger.WithMessageID(key.MessageID),
		logger.WithAction(string(intent)),
		logger.WithReason(reason),
	)
	s.audit.LogViewDenied(ctx, key.ViewerID, key.MessageID, string(intent), string(reason))
	return snap.Deny(reason)
}

func granted(rec *snap.ViewRecord, msg *snap.Message, maxReplays int) snap.Decision {
	return snap.Decision{
		Granted:          true,
		ViewingDuration:  msg.ViewingDuration,
		ReplayCount:      rec.ReplayCount,
		MaxReplays:       maxReplays,
		RemainingReplays: snap.RemainingReplays(maxReplays, rec.ReplayCount),
		FirstViewedAt:    rec.FirstViewedAt,
	}
}

// sessionRemaining max(0, last_viewing_started_at + viewing_duration - now).
func sessionRemaining(rec *snap.ViewRecord, msg *snap.Message, now time.Time) time.Duration {
	if rec.LastViewingStartedAt == nil {
		return 0
	}
	left := rec.LastViewingStartedAt.Add(msg.Duration()).Sub(now)
	if left < 0 {
		return 0
	}
	return left
}

// CanViewResult 唯讀預檢結果.
type CanViewResult struct {
	CanView         bool        `json:"can_view"`
	IsFirstView     bool        `json:"is_first_view"`
	ReplayCount     int         `json:"replay_count"`
	MaxReplays      int         `json:"max_replays"`
	ViewingDuration int         `json:"viewing_duration"`
	Reason          snap.Reason `json:"error,omitempty"`
}

// CanView 唯讀預檢，不寫入帳本.
func (s *Service) CanView(ctx context.Context, messageID, viewerID string) (CanViewResult, error) {
	key := snap.ViewKey{MessageID: messageID, ViewerID: viewerID}
	if err := key.Validate(); err != nil {
		return CanViewResult{}, err
	}

	msg, reason, err := s.admit(ctx, messageID, viewerID)
	if err != nil {
		return CanViewResult{}, err
	}
	if reason != "" {
		return CanViewResult{Reason: reason}, nil
	}

	maxReplays := s.effectiveMaxReplays(msg)
	res := CanViewResult{
		MaxReplays:      maxReplays,
		ViewingDuration: msg.ViewingDuration,
	}

	rec, err := s.ledger.GetRecord(ctx, key)
	if errors.Is(err, snap.ErrRecordNotFound) {
		res.CanView = true
		res.IsFirstView = true
		return res, nil
	}
	if err != nil {
		return CanViewResult{}, fmt.Errorf("get view record %s: %w", key, err)
	}

	res.ReplayCount = rec.ReplayCount
	res.CanView = rec.ReplayCount < maxReplays || sessionRemaining(rec, msg, s.clock.Now().UTC()) > 0
	if !res.CanView {
		res.Reason = snap.ReasonNoReplaysRemaining
	}
	return res, nil
}

// ViewResult 觀看紀錄呼叫結果.
type ViewResult struct {
	Success     bool          `json:"success"`
	ReplayCount int           `json:"replay_count"`
	CanReplay   bool          `json:"can_replay"`
	Reason      snap.Reason   `json:"error,omitempty"`
	Decision    snap.Decision `json:"decision"`
}

func viewResult(dec snap.Decision) ViewResult {
	return ViewResult{
		Success:     dec.Granted,
		ReplayCount: dec.ReplayCount,
		CanReplay:   dec.Granted && dec.RemainingReplays > 0,
		Reason:      dec.Reason,
		Decision:    dec,
	}
}

// RecordView 授權並消耗一次觀看. isReplay 為 true 時消耗一次重播額度.
// viewingStartedAt 為客戶端時間，只記錄於日誌；帳本一律使用伺服器時間.
func (s *Service) RecordView(ctx context.Context, messageID, viewerID string, viewingStartedAt time.Time, isReplay bool) (ViewResult, error) {
	intent := snap.IntentInitialView
	if isReplay {
		intent = snap.IntentReplay
	}

	if !viewingStartedAt.IsZero() {
		skew := s.clock.Now().Sub(viewingStartedAt)
		logger.Debug(ctx, "客戶端觀看開始時間",
			logger.WithUserID(viewerID),
			logger.WithMessageID(messageID),
			logger.WithDetails(map[string]interface{}{
				"viewing_started_at": viewingStartedAt.UTC().Format(time.RFC3339Nano),
				"client_skew_ms":     skew.Milliseconds(),
			}),
		)
	}

	dec, err := s.Authorize(ctx, messageID, viewerID, intent)
	if err != nil {
		return ViewResult{}, err
	}
	return viewResult(dec), nil
}

// IncrementReplay 明確消耗一次重播額度，非冪等.
func (s *Service) IncrementReplay(ctx context.Context, messageID, viewerID string) (ViewResult, error) {
	dec, err := s.Authorize(ctx, messageID, viewerID, snap.IntentReplay)
	if err != nil {
		return ViewResult{}, err
	}
	return viewResult(dec), nil
}
