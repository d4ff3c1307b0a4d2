package taskstore

import (
	"fmt"
	"log/slog"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/ShayCichocki/teamlead/internal/logging"
	"github.com/ShayCichocki/teamlead/pkg/models"
)

// Resolver removes a completed task from the blockedBy lists of the tasks
// it was blocking. It is best effort: the store is not locked against the
// lead agent, and dependency cycles are left as written.
type Resolver struct {
	store  *Store
	logger *slog.Logger
}

// NewResolver creates a resolver over store.
func NewResolver(store *Store, logger *slog.Logger) *Resolver {
	return &Resolver{
		store:  store,
		logger: logging.OrDiscard(logger).With("component", "resolver"),
	}
}

// Unblock runs once per completed task and returns the ids of the records it
// rewrote. A session whose task directory cannot be found is a logged no-op.
func (r *Resolver) Unblock(runtimeSessionID, completedID string) ([]string, error) {
	dir, ok := r.store.Locate(runtimeSessionID)
	if !ok {
		r.logger.Info("task store not found, skipping unblock",
			"runtime_session_id", runtimeSessionID, "task_id", completedID)
		return nil, nil
	}

	records, err := r.store.records(dir)
	if err != nil {
		return nil, err
	}

	var updated []string
	for _, rec := range candidates(records, completedID) {
		if !models.Contains(rec.task.BlockedBy, completedID) {
			continue
		}
		changed, err := r.rewrite(dir, rec.task.ID, completedID)
		if err != nil {
			r.logger.Warn("unblock rewrite failed", "file", rec.path, "task_id", rec.task.ID, "error", err)
			continue
		}
		if changed {
			updated = append(updated, rec.task.ID)
		}
	}

	if len(updated) > 0 {
		r.logger.Debug("unblocked tasks", "completed", completedID, "updated", updated)
	}
	return updated, nil
}

// candidates returns the tasks the completed task blocks: those named in its
// own blocks list, and those that list it in theirs.
func candidates(records []record, completedID string) []record {
	var blocks []string
	for _, rec := range records {
		if rec.task.ID == completedID {
			blocks = rec.task.Blocks
			break
		}
	}

	var out []record
	for _, rec := range records {
		if rec.task.ID == completedID {
			continue
		}
		if models.Contains(blocks, rec.task.ID) || models.Contains(rec.task.Blocks, completedID) {
			out = append(out, rec)
		}
	}
	return out
}

// rewrite re-reads the record and replaces only its blockedBy value.
func (r *Resolver) rewrite(dir, id, completedID string) (bool, error) {
	raw, err := r.store.Raw(dir, id)
	if err != nil {
		return false, fmt.Errorf("re-read task: %w", err)
	}

	current := gjson.GetBytes(raw, "blockedBy")
	remaining := make([]string, 0, len(current.Array()))
	found := false
	for _, v := range current.Array() {
		if v.String() == completedID {
			found = true
			continue
		}
		remaining = append(remaining, v.String())
	}
	if !found {
		return false, nil
	}

	out, err := sjson.SetBytes(raw, "blockedBy", remaining)
	if err != nil {
		return false, fmt.Errorf("set blockedBy: %w", err)
	}
	if err := r.store.WriteRaw(dir, id, out); err != nil {
		return false, err
	}
	return true, nil
}
