// Package preview assembles the payload handed to the hosted
// WordPress preview sandbox: a flat file map plus the path of the
// plugin file to activate. The main plugin file is found by scanning
// PHP files for the standard plugin header comment.
package preview

import (
	"regexp"
	"sort"
	"strings"

	"github.com/wpagent/workbench/internal/files"
)

// Payload is the document posted to the preview sandbox.
type Payload struct {
	// Files maps workspace-relative paths to file content.
	Files map[string]string `json:"files"`

	// ActivatePath is the main plugin file to activate, or "" when no
	// plugin header was found.
	ActivatePath string `json:"activatePath,omitempty"`
}

// pluginHeaderRe matches the WordPress plugin header comment, e.g.
//
//	/*
//	 * Plugin Name: My Plugin
//	 */
var pluginHeaderRe = regexp.MustCompile(`(?im)^[\s*#/]*Plugin Name\s*:\s*\S`)

// Build collects the settled files from the tracker into a sandbox
// payload. Folders and entries without content are skipped; entries
// still mid-delete are excluded so the sandbox never runs a file the
// agent is removing.
func Build(entries []files.Entry) Payload {
	p := Payload{Files: make(map[string]string)}
	for _, e := range entries {
		if e.IsFolder || e.Content == nil || e.Status == files.StatusDeleting {
			continue
		}
		p.Files[e.Path] = *e.Content
	}
	p.ActivatePath = MainPluginFile(p.Files)
	return p
}

// MainPluginFile returns the most likely main plugin file: a PHP file
// whose content carries the plugin header comment. Ties break toward
// the shallowest path, then lexicographic order, so my-plugin.php at
// the plugin root wins over vendored files deeper in the tree.
func MainPluginFile(fileMap map[string]string) string {
	var candidates []string
	for path, content := range fileMap {
		if !strings.HasSuffix(path, ".php") {
			continue
		}
		if pluginHeaderRe.MatchString(content) {
			candidates = append(candidates, path)
		}
	}
	if len(candidates) == 0 {
		return ""
	}
	sort.Slice(candidates, func(i, j int) bool {
		di := strings.Count(candidates[i], "/")
		dj := strings.Count(candidates[j], "/")
		if di != dj {
			return di < dj
		}
		return candidates[i] < candidates[j]
	})
	return candidates[0]
}
