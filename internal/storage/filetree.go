package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/wpagent/workbench/internal/files"
)

// SaveFileTree replaces the cached file tree for a workspace with the
// given entries. The cache is written in one transaction so a crash
// never leaves a half-replaced tree.
func (s *Store) SaveFileTree(workspaceID string, entries []files.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin save file tree: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM file_tree WHERE workspace_id = ?`, workspaceID); err != nil {
		return fmt.Errorf("clear file tree: %w", err)
	}

	now := time.Now().UnixMilli()
	for _, e := range entries {
		var content sql.NullString
		if e.Content != nil {
			content = sql.NullString{String: *e.Content, Valid: true}
		}
		_, err := tx.Exec(`
			INSERT INTO file_tree (workspace_id, path, is_folder, content, updated_at)
			VALUES (?, ?, ?, ?, ?)`,
			workspaceID, e.Path, e.IsFolder, content, now)
		if err != nil {
			return fmt.Errorf("save file tree entry %s: %w", e.Path, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit file tree: %w", err)
	}
	return nil
}

// FileTree returns the cached entries for a workspace, sorted by
// path. An uncached workspace returns an empty slice, not an error;
// the cache is best-effort.
func (s *Store) FileTree(workspaceID string) ([]files.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT path, is_folder, content FROM file_tree
		WHERE workspace_id = ? ORDER BY path`,
		workspaceID)
	if err != nil {
		return nil, fmt.Errorf("load file tree: %w", err)
	}
	defer rows.Close()

	var out []files.Entry
	for rows.Next() {
		var e files.Entry
		var content sql.NullString
		if err := rows.Scan(&e.Path, &e.IsFolder, &content); err != nil {
			return nil, fmt.Errorf("scan file tree entry: %w", err)
		}
		if content.Valid {
			c := content.String
			e.Content = &c
		}
		e.Status = files.StatusCreated
		out = append(out, e)
	}
	return out, rows.Err()
}

// DeleteWorkspaceState removes all persisted state for a workspace.
func (s *Store) DeleteWorkspaceState(workspaceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(`DELETE FROM file_tree WHERE workspace_id = ?`, workspaceID); err != nil {
		return fmt.Errorf("delete file tree: %w", err)
	}
	if _, err := s.db.Exec(`DELETE FROM panel_layout WHERE workspace_id = ?`, workspaceID); err != nil {
		return fmt.Errorf("delete panel layout: %w", err)
	}
	return nil
}
