package extract

import "testing"

func TestTaggedBlocks(t *testing.T) {
	prose := "Here are the files:\n" +
		"<file path=\"demo/demo.php\">\n<?php\necho 'hi';\n</file>\n" +
		"<file path=\"demo/readme.txt\">\nreadme body\n</file>\n"

	files := Files(prose)
	if len(files) != 2 {
		t.Fatalf("expected 2 files, got %d", len(files))
	}
	if files[0].Path != "demo/demo.php" {
		t.Errorf("unexpected path %q", files[0].Path)
	}
	if files[0].Content != "<?php\necho 'hi';" {
		t.Errorf("unexpected content %q", files[0].Content)
	}
}

func TestHeadingWithCodeBlock(t *testing.T) {
	prose := "I created the plugin:\n\n" +
		"### demo/demo.php\n\n" +
		"```php\n<?php\n// Plugin Name: Demo\n```\n"

	files := Files(prose)
	if len(files) != 1 {
		t.Fatalf("expected 1 file, got %d", len(files))
	}
	if files[0].Path != "demo/demo.php" {
		t.Errorf("unexpected path %q", files[0].Path)
	}
	if files[0].Content != "<?php\n// Plugin Name: Demo" {
		t.Errorf("unexpected content %q", files[0].Content)
	}
}

func TestTreeListing(t *testing.T) {
	prose := "Project structure:\n\n" +
		"my-plugin/\n" +
		"├── my-plugin.php\n" +
		"├── includes\n" +
		"│   ├── admin.php\n" +
		"│   └── api.php\n" +
		"└── readme.txt\n"

	files := Files(prose)
	if len(files) != 4 {
		t.Fatalf("expected 4 files, got %d: %v", len(files), files)
	}
	want := []string{
		"my-plugin/my-plugin.php",
		"my-plugin/includes/admin.php",
		"my-plugin/includes/api.php",
		"my-plugin/readme.txt",
	}
	for i, w := range want {
		if files[i].Path != w {
			t.Errorf("file %d: expected %q, got %q", i, w, files[i].Path)
		}
	}
}

func TestJSONFilesMap(t *testing.T) {
	prose := "```json\n{\"files\": {\"a.php\": \"<?php\", \"b.css\": \"body{}\"}}\n```"

	files := Files(prose)
	if len(files) != 2 {
		t.Fatalf("expected 2 files, got %d", len(files))
	}
	if files[0].Path != "a.php" || files[0].Content != "<?php" {
		t.Errorf("unexpected first file %+v", files[0])
	}
}

func TestBareJSONPathMap(t *testing.T) {
	prose := `{"style.css": "body{}", "note": "this is not a path because of the missing extension... actually note has none"}`

	files := Files(prose)
	if len(files) != 1 {
		t.Fatalf("expected only path-like keys, got %d: %v", len(files), files)
	}
	if files[0].Path != "style.css" {
		t.Errorf("unexpected path %q", files[0].Path)
	}
}

func TestPriorityOrderStopsAtFirstHit(t *testing.T) {
	// Tagged blocks and a heading block in the same prose: only the
	// tagged result may be returned.
	prose := "<file path=\"tagged.php\">\ntagged body\n</file>\n\n" +
		"### heading.php\n\n```php\nheading body\n```\n"

	files := Files(prose)
	if len(files) != 1 {
		t.Fatalf("expected 1 file from the winning format, got %d", len(files))
	}
	if files[0].Path != "tagged.php" {
		t.Errorf("expected tagged format to win, got %q", files[0].Path)
	}
}

func TestPlainProseYieldsNothing(t *testing.T) {
	if files := Files("I updated the plugin and everything looks good now."); files != nil {
		t.Errorf("expected no files from plain prose, got %v", files)
	}
}
