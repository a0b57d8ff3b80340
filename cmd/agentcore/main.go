// AgentCore is a conversational HTTP API backed by a local Ollama model.
//
// It stores conversations in SQLite, rebuilds each conversation's
// context on every turn and hands it to a tool-calling agent. An
// optional AG-UI server re-exposes the same agent to agentic-UI clients.
// Configuration is loaded from a YAML file discovered automatically (see
// [config.DefaultSearchPaths]) or from defaults and the environment.
//
// Usage:
//
//	agentcore serve              Start the API server (and AG-UI if enabled)
//	agentcore agui               Start only the AG-UI server
//	agentcore init [dir]         Write an example config and system prompt
//	agentcore ask <question>     Ask the agent a single question
//	agentcore version            Print version and build information
//	agentcore -o json version    Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/nugget/agentcore-local/internal/buildinfo"
)

func main() {
	if err := run(context.Background(), os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// options are the parsed global flags and command.
type options struct {
	configPath string
	outputFmt  string
	command    string
	args       []string
	help       bool
}

// parseArgs parses flags by hand so run stays free of flag package
// globals and can be called from parallel tests.
func parseArgs(args []string) (options, error) {
	var o options
	for i := 0; i < len(args); i++ {
		a := args[i]
		switch {
		case (a == "-c" || a == "-config" || a == "--config") && i+1 < len(args):
			o.configPath = args[i+1]
			i++
		case strings.HasPrefix(a, "-config="):
			o.configPath = strings.TrimPrefix(a, "-config=")
		case strings.HasPrefix(a, "--config="):
			o.configPath = strings.TrimPrefix(a, "--config=")
		case (a == "-o" || a == "--output") && i+1 < len(args):
			o.outputFmt = args[i+1]
			i++
		case strings.HasPrefix(a, "-o="):
			o.outputFmt = strings.TrimPrefix(a, "-o=")
		case strings.HasPrefix(a, "--output="):
			o.outputFmt = strings.TrimPrefix(a, "--output=")
		case a == "-h" || a == "-help" || a == "--help":
			o.help = true
		case o.command == "" && !strings.HasPrefix(a, "-"):
			o.command = a
		case o.command != "":
			o.args = append(o.args, a)
		default:
			return o, fmt.Errorf("unknown flag: %s", a)
		}
	}

	if o.outputFmt == "" {
		o.outputFmt = "text"
	}
	if o.outputFmt != "text" && o.outputFmt != "json" {
		return o, fmt.Errorf("unknown output format: %q (expected text or json)", o.outputFmt)
	}
	return o, nil
}

// run is the real entry point. Logs go to stdout; main prints the
// returned error to stderr.
func run(ctx context.Context, stdout, stderr io.Writer, args []string) error {
	o, err := parseArgs(args)
	if err != nil {
		return err
	}
	if o.help {
		return printUsage(stdout)
	}

	switch o.command {
	case "serve":
		return runServe(ctx, stdout, stderr, o.configPath)
	case "agui":
		return runAGUI(ctx, stdout, stderr, o.configPath)
	case "init":
		dir := "."
		if len(o.args) > 0 {
			dir = o.args[0]
		}
		return runInit(stdout, dir)
	case "ask":
		if len(o.args) == 0 {
			return fmt.Errorf("usage: agentcore ask <question>")
		}
		return runAsk(ctx, stdout, stderr, o.configPath, o.args)
	case "version":
		return runVersion(stdout, o.outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", o.command)
	}
}

func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.BuildInfo()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "git_branch", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "AgentCore - conversational API for a local language model")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: agentcore [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve        Start the API server (and the AG-UI server if enabled)")
	fmt.Fprintln(w, "  agui         Start only the AG-UI server")
	fmt.Fprintln(w, "  init [dir]   Write an example config and system prompt (default: .)")
	fmt.Fprintln(w, "  ask          Ask the agent a single question")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -c, -config path  Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Environment:")
	fmt.Fprintln(w, "  OLLAMA_HOST, OLLAMA_MODEL, AGENT_PATH, AGENT_PORT, DB_PATH")
	return nil
}
