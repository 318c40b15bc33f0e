package viewer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"snap-gateway/internal/constants"
	"snap-gateway/internal/platform/logger"
	"snap-gateway/internal/snap"
)

// Config 建立觀看工作階段所需的參數.
type Config struct {
	MessageID  string
	Authorizer Authorizer
	Reporter   ScreenshotReporter
	Listener   Listener
	Clock      clockwork.Clock

	// ReplayEnabled 此訊息是否允許重播；伺服器回報的剩餘次數仍是最終依據.
	ReplayEnabled    bool
	AuthorizeTimeout time.Duration
	ReportTimeout    time.Duration
}

type eventKind int

const (
	evContentReady eventKind = iota
	evStart
	evHold
	evRelease
	evRequestReplay
	evClose
	evScreenshot
	evAuthorized
	evTimer
)

type event struct {
	kind     eventKind
	gen      uint64
	decision snap.Decision
	err      error
}

// Session 單一訊息的觀看工作階段.
type Session struct {
	cfg    Config
	clock  clockwork.Clock
	ctx    context.Context
	events chan event
	done   chan struct{}

	mu    sync.Mutex
	state State
	// reason 關閉原因，使用者主動關閉或正常結束時為空
	reason   snap.Reason
	intent   snap.Intent
	decision snap.Decision

	// 倒數: 暫停時 remaining 為剩餘時間；觀看中則自 resumedAt 起遞減
	total     time.Duration
	remaining time.Duration
	resumedAt time.Time
	timer     clockwork.Timer

	// authGen/timerGen 讓過期的授權結果與計時器觸發失效
	authGen  uint64
	timerGen uint64

	reports sync.WaitGroup
}

// Open 建立工作階段並啟動事件迴圈. ctx 取消時工作階段關閉.
func Open(ctx context.Context, cfg Config) (*Session, error) {
	if err := snap.ValidateID("message_id", cfg.MessageID); err != nil {
		return nil, err
	}
	if cfg.Authorizer == nil {
		return nil, errors.New("viewer: authorizer is required")
	}
	if cfg.Listener == nil {
		cfg.Listener = nopListener{}
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.AuthorizeTimeout <= 0 {
		cfg.AuthorizeTimeout = constants.DefaultAuthorizeTimeoutSeconds * time.Second
	}
	if cfg.ReportTimeout <= 0 {
		cfg.ReportTimeout = cfg.AuthorizeTimeout
	}

	s := &Session{
		cfg:    cfg,
		clock:  cfg.Clock,
		ctx:    ctx,
		events: make(chan event, constants.ViewerEventBuffer),
		done:   make(chan struct{}),
		state:  StateIdle,
	}
	go s.loop()
	return s, nil
}

// ContentReady 內容已下載完成，可等待使用者開始.
func (s *Session) ContentReady() { s.post(event{kind: evContentReady}) }

// Start 使用者點擊開始觀看.
func (s *Session) Start() { s.post(event{kind: evStart}) }

// Hold 使用者長按，暫停倒數.
func (s *Session) Hold() { s.post(event{kind: evHold}) }

// Release 放開長按，從暫停時的剩餘時間繼續.
func (s *Session) Release() { s.post(event{kind: evRelease}) }

// RequestReplay 使用者要求重播.
func (s *Session) RequestReplay() { s.post(event{kind: evRequestReplay}) }

// Close 使用者關閉觀看器，不聯繫伺服器.
func (s *Session) Close() { s.post(event{kind: evClose}) }

// ScreenshotDetected 平台偵測到截圖.
func (s *Session) ScreenshotDetected() { s.post(event{kind: evScreenshot}) }

// Done 工作階段結束時關閉.
func (s *Session) Done() <-chan struct{} { return s.done }

// WaitReports 等待已送出的截圖回報結束.
func (s *Session) WaitReports() { s.reports.Wait() }

// State 目前狀態.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Reason 關閉原因.
func (s *Session) Reason() snap.Reason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// Decision 最後一次授權結果.
func (s *Session) Decision() snap.Decision {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.decision
}

// Remaining 倒數剩餘時間.
func (s *Session) Remaining() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remainingLocked()
}

// Progress 以經過時間佔授權時長的比例表示進度，介於 0 與 1.
func (s *Session) Progress() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateViewing, StatePaused:
	case StateCompleted, StateReplayOffered:
		return 1
	default:
		return 0
	}
	if s.total <= 0 {
		return 0
	}
	p := float64(s.total-s.remainingLocked()) / float64(s.total)
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}

func (s *Session) remainingLocked() time.Duration {
	if s.state != StateViewing {
		return s.remaining
	}
	left := s.remaining - s.clock.Since(s.resumedAt)
	if left < 0 {
		return 0
	}
	return left
}

func (s *Session) post(ev event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	}
}

func (s *Session) loop() {
	defer close(s.done)
	for {
		var notes []func()
		select {
		case <-s.ctx.Done():
			s.mu.Lock()
			notes = s.closeLocked("")
			s.mu.Unlock()
		case ev := <-s.events:
			s.mu.Lock()
			notes = s.handleLocked(ev)
			s.mu.Unlock()
		}

		for _, n := range notes {
			n()
		}
		if s.State() == StateClosed {
			return
		}
	}
}

// handleLocked 處理事件並回傳需在解鎖後執行的通知.
func (s *Session) handleLocked(ev event) []func() {
	switch ev.kind {
	case evContentReady:
		if s.state == StateIdle {
			return s.transitionLocked(StateAwaitingStart, "")
		}
	case evStart:
		if s.state == StateAwaitingStart {
			return s.authorizeLocked(snap.IntentInitialView)
		}
	case evRequestReplay:
		if s.state == StateReplayOffered {
			return s.authorizeLocked(snap.IntentReplay)
		}
	case evHold:
		if s.state == StateViewing {
			s.remaining = s.remainingLocked()
			s.stopTimerLocked()
			return s.transitionLocked(StatePaused, "")
		}
	case evRelease:
		if s.state == StatePaused {
			notes := s.transitionLocked(StateViewing, "")
			s.startTimerLocked()
			return notes
		}
	case evClose:
		return s.closeLocked("")
	case evScreenshot:
		if s.state == StateViewing || s.state == StatePaused {
			s.reportScreenshotLocked()
			listener := s.cfg.Listener
			return []func(){func() { listener.OnNotice(snap.ScreenshotNotice) }}
		}
	case evAuthorized:
		if s.state == StateAuthorizing && ev.gen == s.authGen {
			return s.authorizedLocked(ev.decision, ev.err)
		}
	case evTimer:
		if s.state == StateViewing && ev.gen == s.timerGen {
			return s.completeLocked()
		}
	}
	return nil
}

// authorizeLocked 進入 Authorizing 並在背景呼叫伺服器，期間不顯示內容也不倒數.
func (s *Session) authorizeLocked(intent snap.Intent) []func() {
	s.authGen++
	gen := s.authGen
	s.intent = intent
	notes := s.transitionLocked(StateAuthorizing, "")

	auth := s.cfg.Authorizer
	messageID := s.cfg.MessageID
	timeout := s.cfg.AuthorizeTimeout
	go func() {
		ctx, cancel := context.WithTimeout(s.ctx, timeout)
		defer cancel()
		dec, err := auth.Authorize(ctx, messageID, intent)
		s.post(event{kind: evAuthorized, gen: gen, decision: dec, err: err})
	}()
	return notes
}

// authorizedLocked 任何失敗都關閉觀看器，不重試也不改用其他意圖.
func (s *Session) authorizedLocked(dec snap.Decision, err error) []func() {
	if err != nil {
		reason := snap.ReasonOf(err)
		logger.Warning(s.ctx, "觀看授權失敗",
			logger.WithMessageID(s.cfg.MessageID),
			logger.WithAction(string(s.intent)),
			logger.WithReason(reason),
			logger.WithError(err))
		return s.closeLocked(reason)
	}
	if !dec.Granted {
		reason := dec.Reason
		if reason == "" {
			reason = snap.ReasonInternal
		}
		return s.closeLocked(reason)
	}

	total := time.Duration(dec.ViewingDuration) * time.Second
	if total <= 0 {
		return s.closeLocked(snap.ReasonInternal)
	}
	s.decision = dec
	s.total = total
	s.remaining = total

	// 重複的首次觀看只延續伺服器回報的剩餘時間
	if s.intent == snap.IntentInitialView && !dec.Consumed {
		s.remaining = dec.SessionRemaining
		if s.remaining > total {
			s.remaining = total
		}
		if s.remaining <= 0 {
			return s.completeLocked()
		}
	}

	notes := s.transitionLocked(StateViewing, "")
	s.startTimerLocked()
	return notes
}

func (s *Session) startTimerLocked() {
	s.stopTimerLocked()
	s.resumedAt = s.clock.Now()
	gen := s.timerGen
	s.timer = s.clock.AfterFunc(s.remaining, func() {
		s.post(event{kind: evTimer, gen: gen})
	})
}

func (s *Session) stopTimerLocked() {
	s.timerGen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Session) completeLocked() []func() {
	s.stopTimerLocked()
	s.remaining = 0
	notes := s.transitionLocked(StateCompleted, "")
	if s.cfg.ReplayEnabled && s.decision.RemainingReplays > 0 {
		return append(notes, s.transitionLocked(StateReplayOffered, "")...)
	}
	return append(notes, s.closeLocked("")...)
}

// closeLocked 停止計時並讓尚未返回的授權結果失效. 已消耗的額度不退還.
func (s *Session) closeLocked(reason snap.Reason) []func() {
	if s.state == StateClosed {
		return nil
	}
	s.stopTimerLocked()
	s.authGen++
	s.reason = reason

	notes := s.transitionLocked(StateClosed, reason)
	if reason != "" {
		listener := s.cfg.Listener
		text := snap.UserMessage(reason)
		notes = append(notes, func() { listener.OnNotice(text) })
	}
	return notes
}

func (s *Session) transitionLocked(to State, reason snap.Reason) []func() {
	t := Transition{From: s.state, To: to, Reason: reason}
	s.state = to
	listener := s.cfg.Listener
	return []func(){func() { listener.OnTransition(t) }}
}

// reportScreenshotLocked 以獨立 goroutine 回報，失敗只記錄警告.
func (s *Session) reportScreenshotLocked() {
	reporter := s.cfg.Reporter
	if reporter == nil {
		return
	}
	messageID := s.cfg.MessageID
	at := s.clock.Now()
	timeout := s.cfg.ReportTimeout

	s.reports.Add(1)
	go func() {
		defer s.reports.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(s.ctx), timeout)
		defer cancel()
		if err := reporter.ReportScreenshot(ctx, messageID, at); err != nil {
			logger.Warning(ctx, "截圖回報失敗",
				logger.WithMessageID(messageID),
				logger.WithAction("report_screenshot"),
				logger.WithError(err))
		}
	}()
}
