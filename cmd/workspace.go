package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/wpagent/workbench/internal/config"
	"github.com/wpagent/workbench/internal/storage"
	"github.com/wpagent/workbench/internal/workspace"
)

// newWorkspaceClient resolves flags against the config file and
// builds an API client. Shared by all workspace subcommands.
func newWorkspaceClient(configPath, apiURL, token string) (*workspace.Client, *config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	if apiURL == "" {
		apiURL = cfg.APIURL
	}
	if apiURL == "" {
		apiURL = config.DefaultAPIURL
	}
	if token == "" {
		token = cfg.Token
	}
	return workspace.NewClient(apiURL, token), cfg, nil
}

func runWorkspaceCreate(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("workspace create", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "Path to config file")
	apiURL := fs.String("api", "", "Workspace API base URL")
	token := fs.String("token", "", "Auth token")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(stderr, "Usage: workbench workspace create <name>")
		return 1
	}

	client, _, err := newWorkspaceClient(*configPath, *apiURL, *token)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	ws, err := client.Create(ctx, fs.Arg(0))
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "Created workspace %s (%s)\n", ws.ID, ws.Name)
	return 0
}

func runWorkspaceList(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("workspace list", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "Path to config file")
	apiURL := fs.String("api", "", "Workspace API base URL")
	token := fs.String("token", "", "Auth token")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	client, _, err := newWorkspaceClient(*configPath, *apiURL, *token)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	list, err := client.List(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if len(list) == 0 {
		fmt.Fprintln(stdout, "No workspaces.")
		return 0
	}
	for _, ws := range list {
		fmt.Fprintf(stdout, "%s  %s\n", ws.ID, ws.Name)
	}
	return 0
}

func runWorkspaceHistory(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("workspace history", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "Path to config file")
	apiURL := fs.String("api", "", "Workspace API base URL")
	token := fs.String("token", "", "Auth token")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(stderr, "Usage: workbench workspace history <id>")
		return 1
	}

	client, _, err := newWorkspaceClient(*configPath, *apiURL, *token)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	history, err := client.History(ctx, fs.Arg(0))
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	for _, m := range history {
		ts := time.UnixMilli(m.Timestamp).Format(time.RFC3339)
		fmt.Fprintf(stdout, "%s [%s] %s\n", ts, m.Role, m.Content)
	}
	return 0
}

func runWorkspaceDelete(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("workspace delete", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "Path to config file")
	apiURL := fs.String("api", "", "Workspace API base URL")
	token := fs.String("token", "", "Auth token")
	dbPath := fs.String("db", "", "Local state database path")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(stderr, "Usage: workbench workspace delete <id>")
		return 1
	}
	id := fs.Arg(0)

	client, cfg, err := newWorkspaceClient(*configPath, *apiURL, *token)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := client.Delete(ctx, id); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	// Also drop the local cache for the workspace, best-effort.
	path := *dbPath
	if path == "" {
		path = cfg.Database
	}
	if path == "" {
		path, _ = config.DefaultDatabasePath()
	}
	if path != "" {
		if store, err := storage.Open(path); err == nil {
			if err := store.DeleteWorkspaceState(id); err != nil {
				fmt.Fprintf(stderr, "Warning: failed to clear local state: %v\n", err)
			}
			store.Close()
		}
	}

	fmt.Fprintf(stdout, "Deleted workspace %s\n", id)
	return 0
}
