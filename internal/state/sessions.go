package state

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ShayCichocki/teamlead/pkg/models"
)

// ErrNotFound is returned when no record exists for a session id.
var ErrNotFound = errors.New("session record not found")

// Record is everything persisted about one session.
type Record struct {
	Session   models.Session    `json:"session"`
	Teammates []models.Teammate `json:"teammates"`
	Tasks     []models.TeamTask `json:"tasks"`
	Output    string            `json:"output"`
}

// Summary is the lightweight listing row used by the CLI.
type Summary struct {
	Session       models.Session
	TeammateCount int
	TaskCount     int
}

// Save upserts a whole record in one transaction. Teammates no longer in the
// record are removed.
func (db *DB) Save(rec Record) error {
	s := rec.Session
	config, err := json.Marshal(s.Config)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	tasks := rec.Tasks
	if tasks == nil {
		tasks = []models.TeamTask{}
	}
	tasksJSON, err := json.Marshal(tasks)
	if err != nil {
		return fmt.Errorf("marshal tasks: %w", err)
	}

	return db.Transaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO sessions (id, runtime_session_id, name, status, config, cost_usd,
				input_tokens, output_tokens, tasks, output, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				runtime_session_id = excluded.runtime_session_id,
				name = excluded.name,
				status = excluded.status,
				config = excluded.config,
				cost_usd = excluded.cost_usd,
				input_tokens = excluded.input_tokens,
				output_tokens = excluded.output_tokens,
				tasks = excluded.tasks,
				output = excluded.output,
				updated_at = excluded.updated_at
		`, s.ID, s.RuntimeSessionID, s.Name, string(s.Status), string(config), s.CostUSD,
			s.InputTokens, s.OutputTokens, string(tasksJSON), rec.Output,
			formatTime(s.CreatedAt), formatTime(s.UpdatedAt))
		if err != nil {
			return fmt.Errorf("upsert session: %w", err)
		}

		if _, err := tx.Exec(`DELETE FROM teammates WHERE session_id = ?`, s.ID); err != nil {
			return fmt.Errorf("clear teammates: %w", err)
		}
		for _, t := range rec.Teammates {
			_, err := tx.Exec(`
				INSERT INTO teammates (agent_id, session_id, name, agent_type, status,
					transcript_path, output, discovered_at, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			`, t.AgentID, s.ID, t.Name, t.AgentType, string(t.Status),
				t.TranscriptPath, t.Output, formatTime(t.DiscoveredAt), formatTime(t.UpdatedAt))
			if err != nil {
				return fmt.Errorf("insert teammate %s: %w", t.AgentID, err)
			}
		}
		return nil
	})
}

const selectSession = `
	SELECT id, runtime_session_id, name, status, config, cost_usd, input_tokens,
		output_tokens, tasks, output, created_at, updated_at
	FROM sessions`

// Get loads one record.
func (db *DB) Get(id string) (Record, error) {
	rows, err := db.Query(selectSession+` WHERE id = ?`, id)
	if err != nil {
		return Record{}, fmt.Errorf("get session: %w", err)
	}
	recs, err := scanSessions(rows)
	if err != nil {
		return Record{}, err
	}
	if len(recs) == 0 {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	teammates, err := db.teammates(`WHERE session_id = ?`, id)
	if err != nil {
		return Record{}, err
	}
	recs[0].Teammates = teammates[id]
	return recs[0], nil
}

// LoadAll loads every record, oldest first.
func (db *DB) LoadAll() ([]Record, error) {
	rows, err := db.Query(selectSession + ` ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("load sessions: %w", err)
	}
	recs, err := scanSessions(rows)
	if err != nil {
		return nil, err
	}

	teammates, err := db.teammates("")
	if err != nil {
		return nil, err
	}
	for i := range recs {
		recs[i].Teammates = teammates[recs[i].Session.ID]
	}
	return recs, nil
}

// List returns summaries of every session, newest first.
func (db *DB) List() ([]Summary, error) {
	recs, err := db.LoadAll()
	if err != nil {
		return nil, err
	}
	out := make([]Summary, len(recs))
	for i := range recs {
		rec := recs[len(recs)-1-i]
		out[i] = Summary{Session: rec.Session, TeammateCount: len(rec.Teammates), TaskCount: len(rec.Tasks)}
	}
	return out, nil
}

// Delete removes a record and its teammates. Deleting a missing record is
// not an error.
func (db *DB) Delete(id string) error {
	return db.Transaction(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM teammates WHERE session_id = ?`, id); err != nil {
			return fmt.Errorf("delete teammates: %w", err)
		}
		if _, err := tx.Exec(`DELETE FROM sessions WHERE id = ?`, id); err != nil {
			return fmt.Errorf("delete session: %w", err)
		}
		return nil
	})
}

// scanSessions reads and closes rows before any other query runs; the
// database holds a single connection.
func scanSessions(rows *sql.Rows) ([]Record, error) {
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			rec                  Record
			status               string
			config, tasks        string
			createdAt, updatedAt string
		)
		s := &rec.Session
		if err := rows.Scan(&s.ID, &s.RuntimeSessionID, &s.Name, &status, &config, &s.CostUSD,
			&s.InputTokens, &s.OutputTokens, &tasks, &rec.Output, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		s.Status = models.SessionStatus(status)
		s.CreatedAt = parseTime(createdAt)
		s.UpdatedAt = parseTime(updatedAt)
		if err := json.Unmarshal([]byte(config), &s.Config); err != nil {
			return nil, fmt.Errorf("decode config of %s: %w", s.ID, err)
		}
		if err := json.Unmarshal([]byte(tasks), &rec.Tasks); err != nil {
			return nil, fmt.Errorf("decode tasks of %s: %w", s.ID, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (db *DB) teammates(where string, args ...any) (map[string][]models.Teammate, error) {
	rows, err := db.Query(`
		SELECT agent_id, session_id, name, agent_type, status, transcript_path, output,
			discovered_at, updated_at
		FROM teammates `+where+` ORDER BY discovered_at, agent_id`, args...)
	if err != nil {
		return nil, fmt.Errorf("load teammates: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]models.Teammate)
	for rows.Next() {
		var (
			t                       models.Teammate
			status                  string
			discoveredAt, updatedAt string
		)
		if err := rows.Scan(&t.AgentID, &t.SessionID, &t.Name, &t.AgentType, &status,
			&t.TranscriptPath, &t.Output, &discoveredAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan teammate: %w", err)
		}
		t.Status = models.TeammateStatus(status)
		t.DiscoveredAt = parseTime(discoveredAt)
		t.UpdatedAt = parseTime(updatedAt)
		out[t.SessionID] = append(out[t.SessionID], t)
	}
	return out, rows.Err()
}
