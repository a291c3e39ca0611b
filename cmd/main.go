package main

import (
	"fmt"
	"io"
	"os"
)

// Version is set at build time via -ldflags.
// Example: go build -ldflags="-X main.Version=v0.1.0" ./cmd
var Version = "dev"

const usage = `workbench - terminal client for the WordPress agent workspace

Usage:
  workbench <command> [options]

Commands:
  chat                     Connect to a workspace and chat with the agent
  workspace create <name>  Create a new workspace
  workspace list           List workspaces
  workspace history <id>   Show persisted conversation history
  workspace delete <id>    Delete a workspace and its local state
  version                  Print the version

Run 'workbench <command> --help' for more information on a command.
`

func main() {
	os.Exit(run(os.Args, os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		fmt.Fprint(stdout, usage)
		return 0
	}

	switch args[1] {
	case "chat":
		return runChat(args[2:], stdout, stderr)
	case "workspace":
		if len(args) < 3 {
			fmt.Fprintln(stdout, "Usage: workbench workspace <create|list|history|delete>")
			return 1
		}
		switch args[2] {
		case "create":
			return runWorkspaceCreate(args[3:], stdout, stderr)
		case "list":
			return runWorkspaceList(args[3:], stdout, stderr)
		case "history":
			return runWorkspaceHistory(args[3:], stdout, stderr)
		case "delete":
			return runWorkspaceDelete(args[3:], stdout, stderr)
		default:
			fmt.Fprintf(stdout, "Unknown workspace command: %s\n", args[2])
			return 1
		}
	case "version":
		fmt.Fprintln(stdout, Version)
		return 0
	case "help", "--help", "-h":
		fmt.Fprint(stdout, usage)
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		fmt.Fprint(stdout, usage)
		return 1
	}
}
