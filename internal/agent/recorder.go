package agent

import (
	"strings"
	"time"

	"github.com/sebastianbartmann/notes-editor-sub001/internal/gateway"
	"github.com/sebastianbartmann/notes-editor-sub001/internal/models"
)

// recorder turns a run's events into conversation items. Text deltas are
// merged into one assistant message, flushed before the next non-text item.
type recorder struct {
	runID string
	items []*models.ConversationItem
	text  strings.Builder
}

func newRecorder(runID, userText string) *recorder {
	r := &recorder{runID: runID}
	if userText != "" {
		r.items = append(r.items, &models.ConversationItem{
			Type:      models.ItemMessage,
			Role:      models.RoleUser,
			Content:   userText,
			RunID:     runID,
			CreatedAt: time.Now().UTC(),
		})
	}
	return r
}

func (r *recorder) observe(ev gateway.Event) {
	item := &models.ConversationItem{RunID: r.runID, CreatedAt: time.Now().UTC()}
	switch ev.Type {
	case gateway.EventText:
		r.text.WriteString(ev.Delta)
		return
	case gateway.EventToolCall:
		item.Type = models.ItemToolCall
		item.Tool = ev.Tool
		item.Args = ev.Args
	case gateway.EventToolResult:
		item.Type = models.ItemToolResult
		item.Tool = ev.Tool
		item.OK = ev.OK
		item.Summary = ev.Summary
	case gateway.EventStatus:
		item.Type = models.ItemStatus
		item.Message = ev.Message
	case gateway.EventError:
		item.Type = models.ItemError
		item.Message = ev.Message
	default:
		return
	}
	r.flush()
	r.items = append(r.items, item)
}

func (r *recorder) flush() {
	if r.text.Len() == 0 {
		return
	}
	r.items = append(r.items, &models.ConversationItem{
		Type:      models.ItemMessage,
		Role:      models.RoleAssistant,
		Content:   r.text.String(),
		RunID:     r.runID,
		CreatedAt: time.Now().UTC(),
	})
	r.text.Reset()
}

func (r *recorder) finish() []*models.ConversationItem {
	r.flush()
	return r.items
}
