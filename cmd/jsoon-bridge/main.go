package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"runtime/debug"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/tom-gora/jsoon-bridge/internal/config"
	"github.com/tom-gora/jsoon-bridge/internal/doctor"
	"github.com/tom-gora/jsoon-bridge/internal/tui/watch"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

// envAPIKey supplies the bearer token to client commands (watch, status).
const envAPIKey = "JSOON_BRIDGE_API_KEY"

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage()
		return 1
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	switch cmd {
	case "serve":
		return runServe(args)
	case "run":
		return runRun(args)
	case "doctor":
		return runDoctor(args)
	case "status":
		return runStatus(args)
	case "history":
		return runHistory(args)
	case "sweep":
		return runSweep(args)
	case "watch":
		return runWatch(args)
	case "version", "--version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage()
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return 1
	}
}

func printUsage() {
	fmt.Print(`jsoon-bridge - HTTP and CLI bridge to the jsoon calendar worker

Usage:
  jsoon-bridge <command> [flags]

Commands:
  serve      Start the HTTP API in the foreground
  run        Run one invocation and print {data, logs} as JSON
  doctor     Validate configuration against this machine
  status     Show whether a server is running and healthy
  history    List or show recorded invocations
  sweep      Remove orphaned worker config artifacts
  watch      Live monitoring TUI for a running server
  version    Show version information
  help       Show this help message

Every command accepts -config PATH. Without it the config is discovered
from $JSOON_BRIDGE_CONFIG, ~/.config/jsoon-bridge/config.yaml,
/etc/jsoon-bridge/config.yaml or ./config.yaml, else defaults apply.

Use 'jsoon-bridge <command> -h' for command flags.
`)
}

// loadConfig resolves the configuration for a command and reports where it
// came from on stderr.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Resolve(path)
	if err != nil {
		return nil, err
	}
	if path == "" {
		if cfg.SourcePath != "" {
			fmt.Fprintf(os.Stderr, "Using discovered config: %s\n", cfg.SourcePath)
		} else {
			fmt.Fprintln(os.Stderr, "No config file found, using defaults")
		}
	}
	return cfg, nil
}

// --- version ---

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "Usage: jsoon-bridge version [-json]")
		return 1
	}

	info := currentVersionInfo()
	if *jsonOut {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render version JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	fmt.Printf("jsoon-bridge %s\n", info.Version)
	fmt.Printf("commit: %s\n", info.Commit)
	fmt.Printf("built_at: %s\n", info.BuildTime)
	return 0
}

func currentVersionInfo() versionInfo {
	info := versionInfo{
		Version:   strings.TrimSpace(version),
		Commit:    "unknown",
		BuildTime: "unknown",
	}
	if info.Version == "" {
		info.Version = "0.0.0-dev"
	}

	commit := strings.TrimSpace(gitCommit)
	if commit == "" || commit == "unknown" {
		commit = readBuildSetting("vcs.revision")
	}
	if commit != "" {
		info.Commit = shortenCommit(commit)
	}

	built := strings.TrimSpace(buildDate)
	if built == "" || built == "unknown" {
		built = readBuildSetting("vcs.time")
	}
	if t, err := time.Parse(time.RFC3339Nano, built); err == nil {
		info.BuildTime = t.UTC().Format(time.RFC3339)
	}
	return info
}

func shortenCommit(commit string) string {
	if len(commit) <= 12 {
		return commit
	}
	return commit[:12]
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, s := range info.Settings {
		if s.Key == key {
			return strings.TrimSpace(s.Value)
		}
	}
	return ""
}

// --- doctor ---

func runDoctor(args []string) int {
	var configPath, format string
	var strict, jsonOut bool

	fs := flag.NewFlagSet("doctor", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration file or directory")
	fs.BoolVar(&strict, "strict", false, "Treat warnings as errors")
	fs.StringVar(&format, "format", "human", "Output format (human, json)")
	fs.BoolVar(&jsonOut, "json", false, "Output in JSON")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if jsonOut {
		format = "json"
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config load error: %v\n", err)
		return 1
	}

	result := doctor.New(cfg).Validate()

	switch format {
	case "json":
		out, err := doctor.FormatJSON(result)
		if err != nil {
			fmt.Fprintf(os.Stderr, "JSON format error: %v\n", err)
			return 1
		}
		fmt.Println(out)
	default:
		fmt.Print(doctor.FormatHuman(result))
	}

	if !result.Valid {
		return 1
	}
	if strict && len(result.Warnings) > 0 {
		return 2
	}
	return 0
}

// --- watch ---

func runWatch(args []string) int {
	var configPath, apiURL, apiKey string

	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration (for the default API URL and key)")
	fs.StringVar(&apiURL, "api-url", "", "Bridge API URL (default: derived from api.listen)")
	fs.StringVar(&apiKey, "api-key", os.Getenv(envAPIKey), "API bearer token (or "+envAPIKey+")")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	if apiURL == "" || apiKey == "" {
		cfg, err := loadConfig(configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Config load error: %v\n", err)
			return 1
		}
		if apiURL == "" {
			apiURL = baseURL(cfg.API.Listen)
		}
		if apiKey == "" {
			apiKey = cfg.API.APIKey
		}
	}

	p := tea.NewProgram(watch.New(apiURL, apiKey))
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		return 1
	}
	return 0
}
