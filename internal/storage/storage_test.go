package storage

import (
	"errors"
	"testing"

	"github.com/wpagent/workbench/internal/files"
)

// newTestStore opens an in-memory database for one test.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPanelLayoutRoundTrip(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.PanelLayout("ws-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound before save, got %v", err)
	}

	if err := s.SavePanelLayout("ws-1", `{"chat":60,"files":40}`); err != nil {
		t.Fatalf("save layout: %v", err)
	}
	if err := s.SavePanelLayout("ws-1", `{"chat":50,"files":50}`); err != nil {
		t.Fatalf("overwrite layout: %v", err)
	}

	layout, err := s.PanelLayout("ws-1")
	if err != nil {
		t.Fatalf("load layout: %v", err)
	}
	if layout != `{"chat":50,"files":50}` {
		t.Errorf("expected latest layout, got %s", layout)
	}
}

func TestFileTreeReplacedAtomically(t *testing.T) {
	s := newTestStore(t)

	body := "<?php"
	first := []files.Entry{
		{Path: "a.php", Content: &body},
		{Path: "old.php", Content: &body},
	}
	if err := s.SaveFileTree("ws-1", first); err != nil {
		t.Fatalf("save tree: %v", err)
	}

	second := []files.Entry{
		{Path: "a.php", Content: &body},
		{Path: "assets", IsFolder: true},
	}
	if err := s.SaveFileTree("ws-1", second); err != nil {
		t.Fatalf("replace tree: %v", err)
	}

	tree, err := s.FileTree("ws-1")
	if err != nil {
		t.Fatalf("load tree: %v", err)
	}
	if len(tree) != 2 {
		t.Fatalf("expected replaced tree with 2 entries, got %d", len(tree))
	}
	if tree[0].Path != "a.php" || tree[1].Path != "assets" {
		t.Errorf("unexpected tree %v", tree)
	}
	if tree[0].Content == nil || *tree[0].Content != "<?php" {
		t.Error("expected content restored from cache")
	}
	if !tree[1].IsFolder {
		t.Error("expected folder flag restored")
	}
}

func TestFileTreeIsolatedPerWorkspace(t *testing.T) {
	s := newTestStore(t)

	if err := s.SaveFileTree("ws-1", []files.Entry{{Path: "one.php"}}); err != nil {
		t.Fatalf("save ws-1: %v", err)
	}
	if err := s.SaveFileTree("ws-2", []files.Entry{{Path: "two.php"}}); err != nil {
		t.Fatalf("save ws-2: %v", err)
	}

	tree, err := s.FileTree("ws-2")
	if err != nil {
		t.Fatalf("load ws-2: %v", err)
	}
	if len(tree) != 1 || tree[0].Path != "two.php" {
		t.Errorf("expected only ws-2 entries, got %v", tree)
	}
}

func TestDeleteWorkspaceState(t *testing.T) {
	s := newTestStore(t)

	if err := s.SaveFileTree("ws-1", []files.Entry{{Path: "a.php"}}); err != nil {
		t.Fatalf("save tree: %v", err)
	}
	if err := s.SavePanelLayout("ws-1", "{}"); err != nil {
		t.Fatalf("save layout: %v", err)
	}

	if err := s.DeleteWorkspaceState("ws-1"); err != nil {
		t.Fatalf("delete state: %v", err)
	}

	tree, _ := s.FileTree("ws-1")
	if len(tree) != 0 {
		t.Error("expected file tree removed")
	}
	if _, err := s.PanelLayout("ws-1"); !errors.Is(err, ErrNotFound) {
		t.Error("expected layout removed")
	}
}
