package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sebastianbartmann/notes-editor-sub001/internal/output"
)

// Package-level shared dependencies, initialized in cobra.OnInitialize.
var (
	ui *output.UI

	verbose bool
	dryRun  bool

	buildVersion = "dev"
	buildCommit  = "none"
	buildDate    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "notesd",
	Short: "Notes vault backend - git sync, search indexing, and agent chat",
	Long: `notesd serves a git-backed notes vault to the notes apps.
It keeps the vault in sync with its remote, keeps the search index fresh,
and runs agent chats that read and edit notes through a tool-call bridge.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	DisableAutoGenTag: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(ui.Out, "notesd %s (commit %s, built %s)\n", buildVersion, buildCommit, buildDate)
	},
}

// Execute is the main entry point called from main.go.
func Execute(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig, initDeps)

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVarP(&dryRun, "dry-run", "n", false, "Show what would happen without making changes")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.config/notesd/config.yaml)")
	rootCmd.AddCommand(versionCmd)
}

func initConfig() {
	home, err := os.UserHomeDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot find home directory: %v\n", err)
		os.Exit(1)
	}

	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(filepath.Join(home, ".config", "notesd"))
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("NOTESD")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults(filepath.Join(home, ".config", "notesd"), filepath.Join(home, "notes"))

	// Read config file if it exists (optional)
	_ = viper.ReadInConfig()
}

// setDefaults registers every config key with its default value.
func setDefaults(stateDir, notesRoot string) {
	viper.SetDefault("state_dir", stateDir)
	viper.SetDefault("db_path", filepath.Join(stateDir, "notesd.db"))
	viper.SetDefault("notes_root", notesRoot)
	viper.SetDefault("persons", []string{})
	viper.SetDefault("port", 8080)
	viper.SetDefault("api.token", "")
	viper.SetDefault("client.url", "http://localhost:8080")

	viper.SetDefault("sync.debounce", "500ms")
	viper.SetDefault("sync.min_pull_interval", "30s")

	viper.SetDefault("index.enabled", true)
	viper.SetDefault("index.command", "qmd")
	viper.SetDefault("index.debounce", "2s")
	viper.SetDefault("index.update_timeout", "15m")
	viper.SetDefault("index.embed_timeout", "45m")

	viper.SetDefault("agent.runtime", "gateway")
	viper.SetDefault("agent.gateway_url", "http://127.0.0.1:8787")
	viper.SetDefault("agent.local_decider", "anthropic")
	viper.SetDefault("agent.max_tool_calls", 40)
	viper.SetDefault("agent.max_run_duration", "2m")
	viper.SetDefault("agent.allow_fallback", true)

	viper.SetDefault("gateway.port", 8787)
	viper.SetDefault("gateway.decider", "mock")
	viper.SetDefault("gateway.cli_command", "claude")
	viper.SetDefault("gateway.tool_timeout", "20s")
	viper.SetDefault("gateway.max_tool_calls", 12)

	viper.SetDefault("anthropic.api_key", "")
	viper.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	viper.SetDefault("web.search_endpoint", "https://api.search.brave.com/res/v1/web/search")
	viper.SetDefault("web.search_api_key", "")
	viper.SetDefault("linkedin.access_token", "")
	viper.SetDefault("linkedin.base_url", "")
}

func initDeps() {
	ui = output.New()
	ui.Verbose = verbose
	ui.DryRun = dryRun

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}
