package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SavePanelLayout stores the serialized panel layout for a workspace,
// replacing any previous value.
func (s *Store) SavePanelLayout(workspaceID, layout string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO panel_layout (workspace_id, layout, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (workspace_id) DO UPDATE SET
			layout = excluded.layout,
			updated_at = excluded.updated_at`,
		workspaceID, layout, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("save panel layout: %w", err)
	}
	return nil
}

// PanelLayout returns the stored layout for a workspace, or
// ErrNotFound if none was saved.
func (s *Store) PanelLayout(workspaceID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var layout string
	err := s.db.QueryRow(
		`SELECT layout FROM panel_layout WHERE workspace_id = ?`,
		workspaceID).Scan(&layout)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("load panel layout: %w", err)
	}
	return layout, nil
}
