// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package pipeline

import (
	"sync"
	"time"

	"github.com/ManuGH/camanchor/internal/recorder"
	"github.com/ManuGH/camanchor/internal/resilience"
)

// Upload and transaction progress values.
const (
	UploadIdle      = "idle"
	UploadUploading = "uploading"
	UploadUploaded  = "uploaded"
	UploadFailed    = "failed"

	TxIdle    = "idle"
	TxPending = "pending"
	TxSuccess = "success"
	TxFailed  = "failed"
)

// Stop reasons recorded on a session before its recorder is stopped.
const (
	StopOperator = "operator"
	StopBreaker  = "breaker"
	StopShutdown = "shutdown"
	StopRotate   = "rotate"
)

// Progress is the latest per-segment activity, for operators.
type Progress struct {
	UploadStatus string    `json:"uploadStatus"`
	TxStatus     string    `json:"txStatus"`
	LastFile     string    `json:"lastFile,omitempty"`
	LastCID      string    `json:"lastCid,omitempty"`
	LastTxHash   string    `json:"lastTxHash,omitempty"`
	LastError    string    `json:"lastError,omitempty"`
	UpdatedAt    time.Time `json:"updatedAt,omitempty"`
}

// SessionInfo describes a recording session.
type SessionInfo struct {
	ID             string    `json:"id"`
	Source         string    `json:"source"`
	SegmentSeconds int       `json:"segmentSeconds"`
	StartedAt      time.Time `json:"startedAt"`
}

type session struct {
	info       SessionInfo
	handle     recorder.Handle
	stopReason string
}

// State is the process-wide pipeline state shared by the watcher, the
// orchestrator and the breaker hooks. It is built once at startup.
type State struct {
	Breaker *resilience.BalanceBreaker

	mu       sync.Mutex
	active   *session
	previous string
	progress Progress
}

// NewState wraps breaker with empty session and progress state.
func NewState(breaker *resilience.BalanceBreaker) *State {
	return &State{
		Breaker:  breaker,
		progress: Progress{UploadStatus: UploadIdle, TxStatus: TxIdle},
	}
}

// Halted reports whether the balance breaker is open.
func (s *State) Halted() bool {
	return s.Breaker != nil && s.Breaker.IsHalted()
}

// Session returns the active session, if any.
func (s *State) Session() (SessionInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return SessionInfo{}, false
	}
	return s.active.info, true
}

// Recording reports whether a session is active.
func (s *State) Recording() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active != nil
}

// PreviousSessionID is the id of the last session that ended, or "".
func (s *State) PreviousSessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.previous
}

func (s *State) setSession(info SessionInfo, h recorder.Handle) {
	s.mu.Lock()
	s.active = &session{info: info, handle: h}
	s.mu.Unlock()
}

// markStopping records why the active session is being stopped and returns
// its handle. ok is false when no session is active.
func (s *State) markStopping(reason string) (recorder.Handle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return nil, false
	}
	if s.active.stopReason == "" {
		s.active.stopReason = reason
	}
	return s.active.handle, true
}

// endSession clears the session owned by handle id and returns the recorded
// stop reason ("" for an unrequested exit). ok is false if id is not active.
func (s *State) endSession(id string) (reason string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil || s.active.info.ID != id {
		return "", false
	}
	reason = s.active.stopReason
	s.previous = id
	s.active = nil
	return reason, true
}

// Progress returns a copy of the progress snapshot.
func (s *State) Progress() Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progress
}

func (s *State) updateProgress(now time.Time, fn func(*Progress)) {
	s.mu.Lock()
	fn(&s.progress)
	s.progress.UpdatedAt = now
	s.mu.Unlock()
}
