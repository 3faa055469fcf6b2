package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/viper"

	"github.com/sebastianbartmann/notes-editor-sub001/internal/agent"
	"github.com/sebastianbartmann/notes-editor-sub001/internal/gateway"
	"github.com/sebastianbartmann/notes-editor-sub001/internal/linkedin"
	"github.com/sebastianbartmann/notes-editor-sub001/internal/llm"
	"github.com/sebastianbartmann/notes-editor-sub001/internal/models"
	"github.com/sebastianbartmann/notes-editor-sub001/internal/store"
	"github.com/sebastianbartmann/notes-editor-sub001/internal/tools"
	"github.com/sebastianbartmann/notes-editor-sub001/internal/vault"
)

// openStore opens and migrates the session database.
func openStore(ctx context.Context) (*store.SQLiteStore, error) {
	dbPath := viper.GetString("db_path")
	if err := os.MkdirAll(viper.GetString("state_dir"), 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return s, nil
}

// newLLMClient creates an LLM client from config/env, or returns nil if no API key is configured.
func newLLMClient() *llm.Client {
	apiKey := viper.GetString("anthropic.api_key")
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return nil
	}
	return llm.NewClient(apiKey, viper.GetString("anthropic.model"))
}

// newToolbox builds the tool dependencies for vault v. Web and LinkedIn
// tools are wired only when configured.
func newToolbox(v *vault.Store) *tools.Toolbox {
	tb := &tools.Toolbox{
		Store: v,
		Web: tools.NewWeb(tools.WebConfig{
			SearchEndpoint: viper.GetString("web.search_endpoint"),
			SearchAPIKey:   viper.GetString("web.search_api_key"),
		}),
	}
	if token := viper.GetString("linkedin.access_token"); token != "" {
		tb.Social = linkedin.NewClient(token, viper.GetString("linkedin.base_url"))
	}
	return tb
}

// newDecider returns the decision runtime named kind.
func newDecider(kind string) (gateway.Decider, error) {
	switch kind {
	case "mock":
		return gateway.MockDecider{}, nil
	case "cli":
		return gateway.NewCLIDecider(viper.GetString("gateway.cli_command")), nil
	case "anthropic":
		client := newLLMClient()
		if client == nil {
			return nil, fmt.Errorf("decider %q needs anthropic.api_key or ANTHROPIC_API_KEY", kind)
		}
		return &gateway.AnthropicDecider{LLM: client}, nil
	}
	return nil, fmt.Errorf("unknown decider %q (want mock, cli or anthropic)", kind)
}

// newRuntimes returns the agent runtimes for tb. The local runtime is left
// out when its decider cannot be built.
func newRuntimes(tb *tools.Toolbox) []agent.Runtime {
	runtimes := []agent.Runtime{agent.NewGatewayRuntime(viper.GetString("agent.gateway_url"), tb)}

	d, err := newDecider(viper.GetString("agent.local_decider"))
	if err != nil {
		slog.Warn("local agent runtime disabled", "error", err)
		return runtimes
	}
	return append(runtimes, agent.NewLocalRuntime(d, tb))
}

func agentOptions() agent.Options {
	return agent.Options{
		MaxRunDuration: viper.GetDuration("agent.max_run_duration"),
		MaxToolCalls:   viper.GetInt("agent.max_tool_calls"),
		AllowFallback:  viper.GetBool("agent.allow_fallback"),
		DefaultMode:    models.RuntimeMode(viper.GetString("agent.runtime")),
	}
}
