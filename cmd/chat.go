package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/wpagent/workbench/internal/config"
	"github.com/wpagent/workbench/internal/preview"
	"github.com/wpagent/workbench/internal/protocol"
	"github.com/wpagent/workbench/internal/session"
	"github.com/wpagent/workbench/internal/storage"
	"github.com/wpagent/workbench/internal/workspace"
)

const chatUsage = `Usage: workbench chat [options]

Options:
  --config <path>     Config file (default: ~/.workbench/config.toml)
  --server <url>      Agent WebSocket URL
  --api <url>         Workspace API base URL
  --token <token>     Auth token
  --workspace <id>    Workspace id to connect to
  --db <path>         Local state database path

In-chat commands:
  /files              List the workspace file tree
  /preview            Show the preview payload summary
  /reconnect          Re-dial after the retry budget is exhausted
  /clear              Clear the session
  /quit               Exit
`

func runChat(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("chat", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "Path to config file")
	serverURL := fs.String("server", "", "Agent WebSocket URL")
	apiURL := fs.String("api", "", "Workspace API base URL")
	token := fs.String("token", "", "Auth token")
	workspaceID := fs.String("workspace", "", "Workspace id")
	dbPath := fs.String("db", "", "Local state database path")
	fs.Usage = func() { fmt.Fprint(stderr, chatUsage) }
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	// CLI flags take precedence over config file values.
	if *serverURL == "" {
		*serverURL = cfg.ServerURL
	}
	if *serverURL == "" {
		*serverURL = config.DefaultServerURL
	}
	if *apiURL == "" {
		*apiURL = cfg.APIURL
	}
	if *apiURL == "" {
		*apiURL = config.DefaultAPIURL
	}
	if *token == "" {
		*token = cfg.Token
	}
	if *workspaceID == "" {
		*workspaceID = cfg.Workspace
	}
	if *dbPath == "" {
		*dbPath = cfg.Database
	}
	if *dbPath == "" {
		if p, err := config.DefaultDatabasePath(); err == nil {
			*dbPath = p
		}
	}

	if *workspaceID == "" {
		fmt.Fprintln(stderr, "Error: no workspace id; pass --workspace or set one in the config file")
		return 1
	}

	// Local state is best-effort; a broken database only costs the
	// cached tree and layout.
	var store *storage.Store
	if *dbPath != "" {
		if err := os.MkdirAll(dirOf(*dbPath), 0700); err == nil {
			if store, err = storage.Open(*dbPath); err != nil {
				fmt.Fprintf(stderr, "Warning: local state unavailable: %v\n", err)
			}
		}
	}
	if store != nil {
		defer store.Close()
	}

	sess := session.NewSession(session.Config{ServerURL: *serverURL, Token: *token})
	attachPrinters(sess, stdout)
	sess.Start()
	defer sess.Stop()

	if store != nil {
		restoreFileTree(sess, store, *workspaceID)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	err = sess.Connect(ctx, *workspaceID)
	cancel()
	if err != nil {
		fmt.Fprintf(stderr, "Error: connect: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "Connected to workspace %s\n", *workspaceID)

	mergeHistory(sess, workspace.NewClient(*apiURL, *token), *workspaceID, stderr)

	code := chatLoop(sess, stdout, stderr)

	if store != nil {
		if err := store.SaveFileTree(*workspaceID, sess.Reducer().Files().Entries()); err != nil {
			fmt.Fprintf(stderr, "Warning: failed to cache file tree: %v\n", err)
		}
	}
	return code
}

func dirOf(path string) string {
	if i := strings.LastIndexByte(path, '/'); i > 0 {
		return path[:i]
	}
	return "."
}

// restoreFileTree seeds the session's file view from the local cache
// so the tree renders before the backend re-broadcasts it.
func restoreFileTree(sess *session.Session, store *storage.Store, workspaceID string) {
	cached, err := store.FileTree(workspaceID)
	if err != nil {
		return
	}
	tracker := sess.Reducer().Files()
	for _, e := range cached {
		tracker.Apply("create", e.Path, e.IsFolder, e.Content)
	}
}

// mergeHistory folds persisted conversation history into the session.
// Failure is non-fatal; the session just starts empty.
func mergeHistory(sess *session.Session, client *workspace.Client, workspaceID string, stderr io.Writer) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	history, err := client.History(ctx, workspaceID)
	if err != nil {
		fmt.Fprintf(stderr, "Warning: history unavailable: %v\n", err)
		return
	}

	msgs := make([]session.Message, 0, len(history))
	for _, h := range history {
		msgs = append(msgs, session.Message{
			ID:        h.ID,
			Sender:    protocol.Sender(h.Role),
			Content:   h.Content,
			Thinking:  h.Thinking,
			Timestamp: time.UnixMilli(h.Timestamp),
		})
	}
	sess.Reducer().MergeHistory(msgs)
}

// attachPrinters subscribes console output to the session's bus.
func attachPrinters(sess *session.Session, stdout io.Writer) {
	bus := sess.Bus()

	bus.Subscribe(protocol.EventNewMessage, func(ev protocol.Event) {
		m := ev.(protocol.NewMessage)
		fmt.Fprintf(stdout, "\n[%s] %s\n", m.Sender, m.Content)
	})
	bus.Subscribe(protocol.EventText, func(ev protocol.Event) {
		fmt.Fprint(stdout, ev.(protocol.TextChunk).Content)
	})
	bus.Subscribe(protocol.EventStreamComplete, func(protocol.Event) {
		fmt.Fprintln(stdout)
	})
	for _, kind := range []protocol.EventType{protocol.EventError, protocol.EventAIError} {
		bus.Subscribe(kind, func(protocol.Event) {
			// The reducer sanitizes before display; read it from there.
			fmt.Fprintf(stdout, "\nError: %s\n", sess.Snapshot().LastError)
		})
	}
	bus.Subscribe(protocol.EventFileActionBroadcast, func(ev protocol.Event) {
		f := ev.(protocol.FileActionBroadcast)
		fmt.Fprintf(stdout, "\n[file] %s %s\n", f.ActionType, f.Path)
	})
	bus.Subscribe(protocol.EventToolStatusUpdate, func(ev protocol.Event) {
		u := ev.(protocol.ToolStatusUpdate)
		fmt.Fprintf(stdout, "\n[tool %s] %s\n", u.ToolID, u.Status)
	})
}

func chatLoop(sess *session.Session, stdout, stderr io.Writer) int {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Fprint(stdout, "> ")

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
		case line == "/quit":
			return 0
		case line == "/clear":
			sess.ClearSession()
			fmt.Fprintln(stdout, "Session cleared.")
		case line == "/reconnect":
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			err := sess.Reconnect(ctx)
			cancel()
			if err != nil {
				fmt.Fprintf(stderr, "Error: reconnect: %v\n", err)
			} else {
				fmt.Fprintln(stdout, "Reconnected.")
				sess.QueryAgent()
			}
		case line == "/files":
			printFiles(sess, stdout)
		case line == "/preview":
			p := preview.Build(sess.Reducer().Files().Entries())
			fmt.Fprintf(stdout, "%d files, activate: %s\n", len(p.Files), orNone(p.ActivatePath))
		case strings.HasPrefix(line, "/"):
			fmt.Fprintf(stdout, "Unknown command: %s\n", line)
		default:
			if _, err := sess.SendUserMessage(line); err != nil {
				fmt.Fprintf(stderr, "Error: %v\n", err)
			}
		}
		fmt.Fprint(stdout, "> ")
	}
	return 0
}

func printFiles(sess *session.Session, stdout io.Writer) {
	entries := sess.Reducer().Files().Entries()
	if len(entries) == 0 {
		fmt.Fprintln(stdout, "No files yet.")
		return
	}
	for _, e := range entries {
		marker := " "
		if e.IsFolder {
			marker = "/"
		}
		fmt.Fprintf(stdout, "  %s%s (%s)\n", e.Path, marker, e.Status)
	}
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
