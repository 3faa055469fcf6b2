package cmd

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var configForce bool

// configDirFunc returns the config directory path, replaceable in tests.
var configDirFunc = defaultConfigDir

func defaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "notesd"), nil
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or manage configuration",
	Long: `Show or manage notesd configuration.

Running bare 'notesd config' is the same as 'notesd config show'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create config file with commented defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configInitRun()
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration with sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open config file in $EDITOR",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configEditRun()
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite existing config file")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configEditCmd)
	rootCmd.AddCommand(configCmd)
}

// configTemplate is the template for generating config.yaml with comments.
const configTemplate = `# notesd configuration
# See: notesd config show (for effective values and sources)

# State directory holding the session database and PID file
# state_dir: {{ .StateDir }}

# Git working tree of the notes vault
notes_root: "{{ .NotesRoot }}"

# Person directories accepted in the X-Notes-Person header (empty = any)
persons: [{{ .Persons }}]

# API port and optional bearer token
port: {{ .Port }}
api:
  token: ""

# Background git sync
sync:
  debounce: {{ .SyncDebounce }}
  min_pull_interval: {{ .MinPullInterval }}

# Search index maintenance
index:
  enabled: {{ .IndexEnabled }}
  command: "{{ .IndexCommand }}"

# Agent chat
agent:
  # Default runtime: gateway or local
  runtime: "{{ .AgentRuntime }}"
  gateway_url: "{{ .GatewayURL }}"
  # Decider for the in-process runtime: mock, cli or anthropic
  local_decider: "{{ .LocalDecider }}"
  max_tool_calls: {{ .MaxToolCalls }}
  max_run_duration: {{ .MaxRunDuration }}
  allow_fallback: {{ .AllowFallback }}

# Decision-runtime sidecar (notesd gateway)
gateway:
  port: {{ .GatewayPort }}
  # mock, cli or anthropic
  decider: "{{ .GatewayDecider }}"
`

type configTemplateData struct {
	StateDir        string
	NotesRoot       string
	Persons         string
	Port            int
	SyncDebounce    string
	MinPullInterval string
	IndexEnabled    bool
	IndexCommand    string
	AgentRuntime    string
	GatewayURL      string
	LocalDecider    string
	MaxToolCalls    int
	MaxRunDuration  string
	AllowFallback   bool
	GatewayPort     int
	GatewayDecider  string
}

func configFilePath() (string, error) {
	dir, err := configDirFunc()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

func configInitRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	// Check if file already exists
	if _, err := os.Stat(cfgPath); err == nil {
		if !configForce {
			return fmt.Errorf("config file already exists: %s (use --force to overwrite)", cfgPath)
		}
		ui.Warning("Overwriting existing config file")
	}

	// Build template data from current viper values
	data := configTemplateData{
		StateDir:        viper.GetString("state_dir"),
		NotesRoot:       viper.GetString("notes_root"),
		Persons:         strings.Join(viper.GetStringSlice("persons"), ", "),
		Port:            viper.GetInt("port"),
		SyncDebounce:    viper.GetDuration("sync.debounce").String(),
		MinPullInterval: viper.GetDuration("sync.min_pull_interval").String(),
		IndexEnabled:    viper.GetBool("index.enabled"),
		IndexCommand:    viper.GetString("index.command"),
		AgentRuntime:    viper.GetString("agent.runtime"),
		GatewayURL:      viper.GetString("agent.gateway_url"),
		LocalDecider:    viper.GetString("agent.local_decider"),
		MaxToolCalls:    viper.GetInt("agent.max_tool_calls"),
		MaxRunDuration:  viper.GetDuration("agent.max_run_duration").String(),
		AllowFallback:   viper.GetBool("agent.allow_fallback"),
		GatewayPort:     viper.GetInt("gateway.port"),
		GatewayDecider:  viper.GetString("gateway.decider"),
	}

	tmpl, err := template.New("config").Parse(configTemplate)
	if err != nil {
		return fmt.Errorf("template parse error: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return fmt.Errorf("template execute error: %w", err)
	}

	if dryRun {
		ui.DryRunMsg("Would create config file: %s", cfgPath)
		fmt.Fprintln(ui.Out)
		fmt.Fprint(ui.Out, buf.String())
		return nil
	}

	// Create config directory
	dir := filepath.Dir(cfgPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(cfgPath, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	ui.Success("Config file created: %s", cfgPath)
	fmt.Fprintln(ui.Out)
	fmt.Fprint(ui.Out, buf.String())
	return nil
}

// configKeyInfo describes a config key for display purposes.
type configKeyInfo struct {
	Key    string
	EnvVar string
}

var configKeys = []configKeyInfo{
	{Key: "state_dir", EnvVar: "NOTESD_STATE_DIR"},
	{Key: "db_path", EnvVar: "NOTESD_DB_PATH"},
	{Key: "notes_root", EnvVar: "NOTESD_NOTES_ROOT"},
	{Key: "persons", EnvVar: "NOTESD_PERSONS"},
	{Key: "port", EnvVar: "NOTESD_PORT"},
	{Key: "api.token", EnvVar: "NOTESD_API_TOKEN"},
	{Key: "client.url", EnvVar: "NOTESD_CLIENT_URL"},
	{Key: "sync.debounce", EnvVar: "NOTESD_SYNC_DEBOUNCE"},
	{Key: "sync.min_pull_interval", EnvVar: "NOTESD_SYNC_MIN_PULL_INTERVAL"},
	{Key: "index.enabled", EnvVar: "NOTESD_INDEX_ENABLED"},
	{Key: "index.command", EnvVar: "NOTESD_INDEX_COMMAND"},
	{Key: "index.debounce", EnvVar: "NOTESD_INDEX_DEBOUNCE"},
	{Key: "index.update_timeout", EnvVar: "NOTESD_INDEX_UPDATE_TIMEOUT"},
	{Key: "index.embed_timeout", EnvVar: "NOTESD_INDEX_EMBED_TIMEOUT"},
	{Key: "agent.runtime", EnvVar: "NOTESD_AGENT_RUNTIME"},
	{Key: "agent.gateway_url", EnvVar: "NOTESD_AGENT_GATEWAY_URL"},
	{Key: "agent.local_decider", EnvVar: "NOTESD_AGENT_LOCAL_DECIDER"},
	{Key: "agent.max_tool_calls", EnvVar: "NOTESD_AGENT_MAX_TOOL_CALLS"},
	{Key: "agent.max_run_duration", EnvVar: "NOTESD_AGENT_MAX_RUN_DURATION"},
	{Key: "agent.allow_fallback", EnvVar: "NOTESD_AGENT_ALLOW_FALLBACK"},
	{Key: "gateway.port", EnvVar: "NOTESD_GATEWAY_PORT"},
	{Key: "gateway.decider", EnvVar: "NOTESD_GATEWAY_DECIDER"},
	{Key: "gateway.cli_command", EnvVar: "NOTESD_GATEWAY_CLI_COMMAND"},
	{Key: "gateway.tool_timeout", EnvVar: "NOTESD_GATEWAY_TOOL_TIMEOUT"},
	{Key: "gateway.max_tool_calls", EnvVar: "NOTESD_GATEWAY_MAX_TOOL_CALLS"},
	{Key: "anthropic.api_key", EnvVar: "NOTESD_ANTHROPIC_API_KEY"},
	{Key: "anthropic.model", EnvVar: "NOTESD_ANTHROPIC_MODEL"},
	{Key: "web.search_endpoint", EnvVar: "NOTESD_WEB_SEARCH_ENDPOINT"},
	{Key: "web.search_api_key", EnvVar: "NOTESD_WEB_SEARCH_API_KEY"},
	{Key: "linkedin.access_token", EnvVar: "NOTESD_LINKEDIN_ACCESS_TOKEN"},
	{Key: "linkedin.base_url", EnvVar: "NOTESD_LINKEDIN_BASE_URL"},
}

func configShowRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	// Check if config file exists
	if _, err := os.Stat(cfgPath); err == nil {
		ui.Info("Config file: %s", cfgPath)
	} else {
		ui.Info("Config file: (none)")
	}
	fmt.Fprintln(ui.Out)

	// Read config file values to determine file source
	fileValues := readConfigFileValues(cfgPath)

	for _, k := range configKeys {
		val := viper.Get(k.Key)
		if isSecretKey(k.Key) && fmt.Sprint(val) != "" {
			val = "********"
		}
		source := detectSource(k.Key, k.EnvVar, fileValues)
		fmt.Fprintf(ui.Out, "  %-22s %v  %s\n", k.Key, val, source)
	}

	return nil
}

// isSecretKey reports whether key holds a credential that config show masks.
func isSecretKey(key string) bool {
	return strings.HasSuffix(key, ".api_key") || strings.HasSuffix(key, "token")
}

// readConfigFileValues reads the raw YAML file and returns a flat map of keys present in it.
func readConfigFileValues(path string) map[string]bool {
	result := make(map[string]bool)

	data, err := os.ReadFile(path)
	if err != nil {
		return result
	}

	var parsed map[string]any
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return result
	}

	// Flatten nested keys with dot notation
	flattenKeys("", parsed, result)
	return result
}

// flattenKeys recursively flattens a nested map to dot-notation keys.
func flattenKeys(prefix string, m map[string]any, result map[string]bool) {
	for key, val := range m {
		fullKey := key
		if prefix != "" {
			fullKey = prefix + "." + key
		}
		if nested, ok := val.(map[string]any); ok {
			flattenKeys(fullKey, nested, result)
		} else {
			result[fullKey] = true
		}
	}
}

// detectSource determines where a config value is coming from.
func detectSource(key, envVar string, fileValues map[string]bool) string {
	if _, ok := os.LookupEnv(envVar); ok {
		return fmt.Sprintf("(env: %s)", envVar)
	}
	if fileValues[key] {
		return "(file)"
	}
	return "(default)"
}

func configEditRun() error {
	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = os.Getenv("VISUAL")
	}
	if editor == "" {
		return fmt.Errorf("$EDITOR is not set; set it to your preferred editor (e.g. export EDITOR=vim)")
	}

	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s (run 'notesd config init' first)", cfgPath)
	}

	if dryRun {
		ui.DryRunMsg("Would open %s in %s", cfgPath, editor)
		return nil
	}

	editCmd := exec.Command(editor, cfgPath)
	editCmd.Stdin = os.Stdin
	editCmd.Stdout = os.Stdout
	editCmd.Stderr = os.Stderr
	return editCmd.Run()
}
