package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/sebastianbartmann/notes-editor-sub001/internal/background"
)

// maxSyncWait bounds how long POST /sync may block.
const maxSyncWait = 2 * time.Minute

type syncRequest struct {
	Wait      bool `json:"wait"`
	TimeoutMs int  `json:"timeout_ms"`
}

func (s *Server) syncNow(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if err := decodeOptional(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	timeout := time.Duration(req.TimeoutMs) * time.Millisecond
	if timeout <= 0 || timeout > maxSyncWait {
		timeout = maxSyncWait
	}
	writeJSON(w, http.StatusOK, s.sync.SyncNow(req.Wait, timeout))
}

func (s *Server) syncStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sync.Status())
}

func (s *Server) indexStatus(w http.ResponseWriter, r *http.Request) {
	if s.index == nil {
		writeJSON(w, http.StatusOK, background.IndexStatus{})
		return
	}
	writeJSON(w, http.StatusOK, s.index.Status())
}

type reindexRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) reindex(w http.ResponseWriter, r *http.Request) {
	if s.index == nil {
		writeError(w, http.StatusServiceUnavailable, "indexing is disabled")
		return
	}
	var req reindexRequest
	if err := decodeOptional(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = "manual"
	}
	s.index.TriggerReindex(reason)
	writeJSON(w, http.StatusAccepted, s.index.Status())
}

// --- Manual git ---

const manualCommitMessage = "Manual commit"

type gitResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Output  string `json:"output,omitempty"`
}

// withGit runs fn under the exclusive vault lock, followed by a status
// snapshot for the response.
func (s *Server) withGit(fn func() error) (output string, err error) {
	mu := s.toolbox.Store.Locker()
	mu.Lock()
	defer mu.Unlock()

	err = fn()
	output, _ = s.git.StatusShort()
	return output, err
}

func (s *Server) gitStatus(w http.ResponseWriter, r *http.Request) {
	if _, ok := requirePerson(w, r); !ok {
		return
	}
	mu := s.toolbox.Store.Locker()
	mu.RLock()
	out, err := s.git.StatusShort()
	mu.RUnlock()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"output": out})
}

func (s *Server) gitPull(w http.ResponseWriter, r *http.Request) {
	if _, ok := requirePerson(w, r); !ok {
		return
	}
	out, err := s.withGit(s.git.PullFFOnly)
	s.sync.RecordManualPull(err)
	if err != nil {
		writeError(w, http.StatusConflict, "pull failed (fast-forward only); resolve divergence first: "+err.Error())
		return
	}
	if s.index != nil {
		s.index.TriggerReindex("manual pull")
	}
	writeJSON(w, http.StatusOK, gitResponse{Success: true, Message: "Pulled latest changes", Output: out})
}

func (s *Server) gitCommit(w http.ResponseWriter, r *http.Request) {
	if _, ok := requirePerson(w, r); !ok {
		return
	}
	var committed bool
	out, err := s.withGit(func() error {
		var err error
		committed, err = s.git.Commit(manualCommitMessage)
		return err
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	msg := "No changes to commit"
	if committed {
		msg = "Committed changes"
	}
	writeJSON(w, http.StatusOK, gitResponse{Success: true, Message: msg, Output: out})
}

func (s *Server) gitPush(w http.ResponseWriter, r *http.Request) {
	if _, ok := requirePerson(w, r); !ok {
		return
	}
	out, err := s.withGit(func() error {
		return s.git.CommitAndPush(manualCommitMessage)
	})
	s.sync.RecordManualPush(err)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, gitResponse{Success: true, Message: "Pushed changes", Output: out})
}
