package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sebastianbartmann/notes-editor-sub001/internal/gateway"
)

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Start the agent decision-runtime sidecar",
	Long: `Start the decision-runtime sidecar that notesd serve calls in gateway mode.

The sidecar asks its decider what to do next and hands every tool call back
to the notes server, which executes it against the vault. Deciders:

  mock       canned answers, no model needed
  cli        runs gateway.cli_command non-interactively
  anthropic  calls the Anthropic API (anthropic.api_key)`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return gatewayRun(cmd.Context())
	},
}

func init() {
	gatewayCmd.Flags().Int("port", 8787, "port to listen on")
	gatewayCmd.Flags().String("decider", "mock", "decider: mock, cli or anthropic")
	_ = viper.BindPFlag("gateway.port", gatewayCmd.Flags().Lookup("port"))
	_ = viper.BindPFlag("gateway.decider", gatewayCmd.Flags().Lookup("decider"))
	rootCmd.AddCommand(gatewayCmd)
}

func newGatewayServer() (*gateway.Server, error) {
	d, err := newDecider(viper.GetString("gateway.decider"))
	if err != nil {
		return nil, err
	}
	return gateway.NewServer(gateway.ServerConfig{
		Decider:      d,
		NotesRoot:    viper.GetString("notes_root"),
		ToolTimeout:  viper.GetDuration("gateway.tool_timeout"),
		MaxToolCalls: viper.GetInt("gateway.max_tool_calls"),
	}), nil
}

func gatewayRun(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	srv, err := newGatewayServer()
	if err != nil {
		return err
	}
	addr := fmt.Sprintf("127.0.0.1:%d", viper.GetInt("gateway.port"))
	ui.Info("Agent gateway (%s decider) listening on http://%s", viper.GetString("gateway.decider"), addr)
	return listenAndServe(ctx, addr, srv.Router())
}
