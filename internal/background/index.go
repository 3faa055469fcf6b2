package background

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Index defaults.
const (
	DefaultIndexCommand      = "qmd"
	DefaultIndexDebounce     = 2 * time.Second
	DefaultUpdateTimeout     = 15 * time.Minute
	DefaultEmbedTimeout      = 45 * time.Minute
	collectionAddTimeout     = 20 * time.Minute
	collectionListTimeout    = 15 * time.Second
	unspecifiedReindexReason = "unspecified"
)

// IndexStatus is a point-in-time snapshot of the index worker.
type IndexStatus struct {
	InProgress    bool       `json:"in_progress"`
	Pending       bool       `json:"pending"`
	LastReason    string     `json:"last_reason,omitempty"`
	LastStartedAt *time.Time `json:"last_started_at,omitempty"`
	LastSuccessAt *time.Time `json:"last_success_at,omitempty"`
	LastError     string     `json:"last_error,omitempty"`
	LastErrorAt   *time.Time `json:"last_error_at,omitempty"`
}

// IndexConfig tunes an IndexManager. Zero durations fall back to the defaults.
type IndexConfig struct {
	// Root is the vault root; each person directory becomes one collection.
	Root string
	// Persons limits the indexed collections. Empty means every visible
	// directory under Root.
	Persons       []string
	Debounce      time.Duration
	UpdateTimeout time.Duration
	EmbedTimeout  time.Duration
}

// IndexManager serializes search-index rebuilds and coalesces bursts of
// reindex requests. It does not take the vault lock: the indexer only reads.
type IndexManager struct {
	runner CommandRunner
	cfg    IndexConfig

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	cond       *sync.Cond
	started    bool
	stopping   bool
	done       chan struct{}
	inProgress bool
	pending    bool
	reason     string

	lastReason    string
	lastStartedAt time.Time
	lastSuccessAt time.Time
	lastError     string
	lastErrorAt   time.Time
}

// NewIndexManager creates an IndexManager that drives runner.
func NewIndexManager(runner CommandRunner, cfg IndexConfig) *IndexManager {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultIndexDebounce
	}
	if cfg.UpdateTimeout <= 0 {
		cfg.UpdateTimeout = DefaultUpdateTimeout
	}
	if cfg.EmbedTimeout <= 0 {
		cfg.EmbedTimeout = DefaultEmbedTimeout
	}
	cfg.Persons = uniquePersons(cfg.Persons)

	ctx, cancel := context.WithCancel(context.Background())
	m := &IndexManager{
		runner: runner,
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// Start launches the worker. Calling it more than once is a no-op.
func (m *IndexManager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return
	}
	m.started = true
	go m.loop()
}

// Stop signals the worker to exit, aborts a running index command and waits
// for the worker to return.
func (m *IndexManager) Stop() {
	m.mu.Lock()
	started := m.started
	m.stopping = true
	m.cond.Broadcast()
	m.mu.Unlock()

	m.cancel()
	if started {
		<-m.done
	}
}

// TriggerReindex requests a rebuild. The latest non-empty reason wins.
func (m *IndexManager) TriggerReindex(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = true
	if r := strings.TrimSpace(reason); r != "" {
		m.reason = r
	}
	m.cond.Signal()
}

// Status returns a snapshot of the current state.
func (m *IndexManager) Status() IndexStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return IndexStatus{
		InProgress:    m.inProgress,
		Pending:       m.pending,
		LastReason:    m.lastReason,
		LastStartedAt: timePtr(m.lastStartedAt),
		LastSuccessAt: timePtr(m.lastSuccessAt),
		LastError:     m.lastError,
		LastErrorAt:   timePtr(m.lastErrorAt),
	}
}

func (m *IndexManager) loop() {
	defer close(m.done)
	for {
		m.mu.Lock()
		for !m.stopping && !m.pending {
			m.cond.Wait()
		}
		if m.stopping {
			m.mu.Unlock()
			return
		}
		m.mu.Unlock()

		time.Sleep(m.cfg.Debounce)

		m.mu.Lock()
		if m.stopping {
			m.mu.Unlock()
			return
		}
		reason := m.reason
		m.reason = ""
		m.pending = false
		m.inProgress = true
		m.lastReason = reason
		m.lastStartedAt = time.Now()
		m.mu.Unlock()

		if reason == "" {
			reason = unspecifiedReindexReason
		}
		slog.Info("index run started", "reason", reason)
		err := m.runIndex(m.ctx)

		m.mu.Lock()
		if err != nil {
			m.lastError = err.Error()
			m.lastErrorAt = time.Now()
		} else {
			m.lastSuccessAt = time.Now()
			m.lastError = ""
			m.lastErrorAt = time.Time{}
		}
		m.inProgress = false
		m.cond.Broadcast()
		m.mu.Unlock()

		if err != nil {
			slog.Error("index run failed", "reason", reason, "error", err)
		} else {
			slog.Info("index run succeeded", "reason", reason)
		}
	}
}

func (m *IndexManager) runIndex(ctx context.Context) error {
	if err := m.ensureCollections(ctx); err != nil {
		return err
	}
	if _, err := m.run(ctx, m.cfg.UpdateTimeout, "update"); err != nil {
		return err
	}
	if _, err := m.run(ctx, m.cfg.EmbedTimeout, "embed"); err != nil {
		return err
	}
	return nil
}

func (m *IndexManager) run(ctx context.Context, timeout time.Duration, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return m.runner.Run(ctx, args...)
}

// ensureCollections registers a collection for every indexed person that
// the indexer does not know yet.
func (m *IndexManager) ensureCollections(ctx context.Context) error {
	if strings.TrimSpace(m.cfg.Root) == "" {
		return errors.New("notes root path is empty")
	}

	out, err := m.run(ctx, collectionListTimeout, "collection", "list")
	if err != nil {
		return err
	}
	existing := ParseCollections(out)

	persons, err := m.targetPersons()
	if err != nil {
		return fmt.Errorf("list persons: %w", err)
	}
	for _, person := range persons {
		if _, ok := existing[person]; ok {
			continue
		}
		path := filepath.Join(m.cfg.Root, person)
		slog.Info("creating index collection", "person", person, "path", path)
		if _, err := m.run(ctx, collectionAddTimeout, "collection", "add", path, "--name", person); err != nil {
			return err
		}
	}
	return nil
}

func (m *IndexManager) targetPersons() ([]string, error) {
	if len(m.cfg.Persons) > 0 {
		return append([]string(nil), m.cfg.Persons...), nil
	}
	entries, err := os.ReadDir(m.cfg.Root)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

// ParseCollections extracts collection names from `collection list` output.
// Collection lines look like "alice (qmd://alice) 42 files".
func ParseCollections(out string) map[string]struct{} {
	names := map[string]struct{}{}
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if !strings.Contains(line, "(qmd://") {
			continue
		}
		if name := strings.Fields(line)[0]; name != "" {
			names[name] = struct{}{}
		}
	}
	return names
}

func uniquePersons(persons []string) []string {
	seen := make(map[string]struct{}, len(persons))
	out := make([]string, 0, len(persons))
	for _, p := range persons {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}
