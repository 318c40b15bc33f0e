// Package viewer 實作客戶端的閱後即焚觀看狀態機.
//
// 所有使用者事件、倒數計時與授權結果都經由單一事件迴圈處理，
// 倒數以注入的時鐘計算，與網路往返無關.
package viewer

import (
	"context"
	"time"

	"snap-gateway/internal/snap"
)

// State 觀看狀態.
type State int

const (
	StateIdle State = iota
	StateAwaitingStart
	StateAuthorizing
	StateViewing
	StatePaused
	StateCompleted
	StateReplayOffered
	StateClosed
)

var stateNames = [...]string{
	StateIdle:          "idle",
	StateAwaitingStart: "awaiting_start",
	StateAuthorizing:   "authorizing",
	StateViewing:       "viewing",
	StatePaused:        "paused",
	StateCompleted:     "completed",
	StateReplayOffered: "replay_offered",
	StateClosed:        "closed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Transition 一次狀態轉換. 因授權失敗而關閉時 Reason 不為空.
type Transition struct {
	From   State
	To     State
	Reason snap.Reason
}

// Authorizer 向伺服器要求觀看授權，呼叫者身分由實作負責帶上.
type Authorizer interface {
	Authorize(ctx context.Context, messageID string, intent snap.Intent) (snap.Decision, error)
}

// ScreenshotReporter 回報截圖事件.
type ScreenshotReporter interface {
	ReportScreenshot(ctx context.Context, messageID string, at time.Time) error
}

// Listener 接收狀態變化與提示文字. 回呼在事件迴圈上依序執行，不應阻塞.
type Listener interface {
	OnTransition(t Transition)
	OnNotice(text string)
}

type nopListener struct{}

func (nopListener) OnTransition(Transition) {}
func (nopListener) OnNotice(string)         {}
