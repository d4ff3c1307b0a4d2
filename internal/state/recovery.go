package state

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/ShayCichocki/teamlead/pkg/models"
)

// CloseInterrupted marks every session left starting or running by a
// previous process as completed; no runtime invocation survives a restart.
// It returns the ids it changed.
func (db *DB) CloseInterrupted(now time.Time) ([]string, error) {
	var ids []string
	err := db.Transaction(func(tx *sql.Tx) error {
		rows, err := tx.Query(`SELECT id FROM sessions WHERE status IN (?, ?) ORDER BY created_at, id`,
			string(models.SessionStarting), string(models.SessionRunning))
		if err != nil {
			return fmt.Errorf("find interrupted sessions: %w", err)
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return fmt.Errorf("scan interrupted session: %w", err)
			}
			ids = append(ids, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for _, id := range ids {
			if _, err := tx.Exec(`UPDATE sessions SET status = ?, updated_at = ? WHERE id = ?`,
				string(models.SessionCompleted), formatTime(now), id); err != nil {
				return fmt.Errorf("close interrupted session %s: %w", id, err)
			}
		}
		return nil
	})
	return ids, err
}
