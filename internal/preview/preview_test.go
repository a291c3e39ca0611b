package preview

import (
	"testing"

	"github.com/wpagent/workbench/internal/files"
)

const pluginSource = `<?php
/*
 * Plugin Name: Demo Plugin
 * Description: Example.
 */
`

func TestMainPluginFileDetection(t *testing.T) {
	m := map[string]string{
		"demo/demo.php":            pluginSource,
		"demo/includes/helper.php": "<?php function helper() {}",
		"demo/style.css":           "/* Plugin Name: not a php file */",
	}

	if got := MainPluginFile(m); got != "demo/demo.php" {
		t.Errorf("expected demo/demo.php, got %q", got)
	}
}

func TestMainPluginFilePrefersShallowest(t *testing.T) {
	m := map[string]string{
		"demo/vendor/lib/lib.php": pluginSource,
		"demo/demo.php":           pluginSource,
	}

	if got := MainPluginFile(m); got != "demo/demo.php" {
		t.Errorf("expected the root-level plugin file, got %q", got)
	}
}

func TestMainPluginFileNoneFound(t *testing.T) {
	m := map[string]string{"demo/helper.php": "<?php // nothing"}
	if got := MainPluginFile(m); got != "" {
		t.Errorf("expected no main plugin file, got %q", got)
	}
}

func TestBuildSkipsFoldersDeletingAndContentless(t *testing.T) {
	body := pluginSource
	entries := []files.Entry{
		{Path: "demo", IsFolder: true, Status: files.StatusCreated},
		{Path: "demo/demo.php", Status: files.StatusCreated, Content: &body},
		{Path: "demo/pending.php", Status: files.StatusCreated},
		{Path: "demo/old.php", Status: files.StatusDeleting, Content: &body},
	}

	p := Build(entries)
	if len(p.Files) != 1 {
		t.Fatalf("expected only the settled file with content, got %d", len(p.Files))
	}
	if p.ActivatePath != "demo/demo.php" {
		t.Errorf("expected activation path demo/demo.php, got %q", p.ActivatePath)
	}
}
