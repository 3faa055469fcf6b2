// Package background runs the debounced worker loops that keep the vault in
// sync with its git remote and keep the search index fresh.
package background

import (
	"log/slog"
	"sync"
	"time"

	"github.com/sebastianbartmann/notes-editor-sub001/internal/git"
)

// Sync defaults.
const (
	DefaultSyncDebounce    = 500 * time.Millisecond
	DefaultMinPullInterval = 30 * time.Second
)

// SyncStatus is a point-in-time snapshot of the sync worker.
type SyncStatus struct {
	InProgress  bool       `json:"in_progress"`
	PendingPull bool       `json:"pending_pull"`
	PendingPush bool       `json:"pending_push"`
	LastPullAt  *time.Time `json:"last_pull_at,omitempty"`
	LastPushAt  *time.Time `json:"last_push_at,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
	LastErrorAt *time.Time `json:"last_error_at,omitempty"`
}

// SyncConfig tunes a SyncManager. Zero values fall back to the defaults.
type SyncConfig struct {
	Debounce        time.Duration
	MinPullInterval time.Duration
}

// SyncManager serializes git pulls and pushes against the vault and coalesces
// bursts of triggers into a single run. The git round-trip holds the vault
// lock exclusively so file operations never observe a half-merged tree.
type SyncManager struct {
	vaultMu *sync.RWMutex
	git     git.Client

	mu          sync.Mutex
	cond        *sync.Cond
	started     bool
	stopping    bool
	done        chan struct{}
	inProgress  bool
	pendingPull bool
	pendingPush bool
	pushMessage string

	lastPullAt  time.Time
	lastPushAt  time.Time
	lastError   string
	lastErrorAt time.Time

	debounce time.Duration
	minPull  time.Duration
}

// NewSyncManager creates a SyncManager. vaultMu must be the lock shared with
// the vault file store.
func NewSyncManager(vaultMu *sync.RWMutex, gc git.Client, cfg SyncConfig) *SyncManager {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultSyncDebounce
	}
	if cfg.MinPullInterval <= 0 {
		cfg.MinPullInterval = DefaultMinPullInterval
	}
	s := &SyncManager{
		vaultMu:  vaultMu,
		git:      gc,
		done:     make(chan struct{}),
		debounce: cfg.Debounce,
		minPull:  cfg.MinPullInterval,
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Start launches the worker. Calling it more than once is a no-op.
func (s *SyncManager) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	go s.loop()
}

// Stop signals the worker to exit and waits for it. A git run already in
// progress completes first.
func (s *SyncManager) Stop() {
	s.mu.Lock()
	started := s.started
	s.stopping = true
	s.cond.Broadcast()
	s.mu.Unlock()

	if started {
		<-s.done
	}
}

// Status returns a snapshot of the current state.
func (s *SyncManager) Status() SyncStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SyncStatus{
		InProgress:  s.inProgress,
		PendingPull: s.pendingPull,
		PendingPush: s.pendingPush,
		LastPullAt:  timePtr(s.lastPullAt),
		LastPushAt:  timePtr(s.lastPushAt),
		LastError:   s.lastError,
		LastErrorAt: timePtr(s.lastErrorAt),
	}
}

// TriggerPull requests a pull unless one is already running or queued, or the
// last successful pull is younger than the minimum pull interval.
func (s *SyncManager) TriggerPull() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.shouldPullLocked(s.minPull) {
		return
	}
	s.pendingPull = true
	s.cond.Signal()
}

// TriggerPullIfStale is TriggerPull with a caller-supplied freshness window.
func (s *SyncManager) TriggerPullIfStale(maxAge time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.shouldPullLocked(maxAge) {
		return
	}
	s.pendingPull = true
	s.cond.Signal()
}

// TriggerPush requests a commit and push. Within one debounce window the last
// non-empty message wins.
func (s *SyncManager) TriggerPush(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingPush = true
	if message != "" {
		s.pushMessage = message
	}
	s.cond.Signal()
}

// SyncNow triggers a rate-limited pull. With wait set it blocks until the
// worker is idle or timeout elapses (timeout <= 0 waits indefinitely); the
// work itself is never cancelled by the caller giving up.
func (s *SyncManager) SyncNow(wait bool, timeout time.Duration) SyncStatus {
	s.TriggerPull()
	if wait {
		s.waitIdle(timeout)
	}
	return s.Status()
}

// RecordManualPull records the outcome of a pull run outside the worker.
func (s *SyncManager) RecordManualPull(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.recordErrorLocked(err)
		return
	}
	s.lastPullAt = time.Now()
}

// RecordManualPush records the outcome of a push run outside the worker.
func (s *SyncManager) RecordManualPush(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.recordErrorLocked(err)
		return
	}
	s.lastPushAt = time.Now()
}

func (s *SyncManager) waitIdle(timeout time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}

	expired := false
	if timeout > 0 {
		t := time.AfterFunc(timeout, func() {
			s.mu.Lock()
			expired = true
			s.cond.Broadcast()
			s.mu.Unlock()
		})
		defer t.Stop()
	}
	for !expired && !s.stopping && (s.inProgress || s.pendingPull || s.pendingPush) {
		s.cond.Wait()
	}
}

func (s *SyncManager) shouldPullLocked(maxAge time.Duration) bool {
	if s.inProgress || s.pendingPull {
		return false
	}
	if !s.lastPullAt.IsZero() && time.Since(s.lastPullAt) < maxAge {
		return false
	}
	return true
}

func (s *SyncManager) recordErrorLocked(err error) {
	s.lastError = err.Error()
	s.lastErrorAt = time.Now()
}

func (s *SyncManager) loop() {
	defer close(s.done)
	for {
		s.mu.Lock()
		for !s.stopping && !s.pendingPull && !s.pendingPush {
			s.cond.Wait()
		}
		if s.stopping {
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()

		// Let a burst of triggers from one user action settle.
		time.Sleep(s.debounce)

		s.mu.Lock()
		if s.stopping {
			s.mu.Unlock()
			return
		}
		doPull, doPush, msg := s.pendingPull, s.pendingPush, s.pushMessage
		s.pendingPull, s.pendingPush, s.pushMessage = false, false, ""
		s.inProgress = true
		s.mu.Unlock()

		s.run(doPull, doPush, msg)

		s.mu.Lock()
		s.inProgress = false
		s.cond.Broadcast()
		s.mu.Unlock()
	}
}

func (s *SyncManager) run(doPull, doPush bool, msg string) {
	s.vaultMu.Lock()
	defer s.vaultMu.Unlock()

	if doPull {
		err := s.git.Pull()
		s.mu.Lock()
		if err != nil {
			s.recordErrorLocked(err)
		} else {
			s.lastPullAt = time.Now()
		}
		s.mu.Unlock()
		if err != nil {
			slog.Warn("sync pull failed", "error", err)
		}
	}

	if doPush {
		if msg == "" {
			msg = git.DefaultCommitMessage
		}
		err := s.git.CommitAndPush(msg)
		s.mu.Lock()
		if err != nil {
			s.recordErrorLocked(err)
		} else {
			s.lastPushAt = time.Now()
		}
		s.mu.Unlock()
		if err != nil {
			slog.Warn("sync push failed", "message", msg, "error", err)
		}
	}
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
