package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sebastianbartmann/notes-editor-sub001/internal/agent"
	"github.com/sebastianbartmann/notes-editor-sub001/internal/api"
	"github.com/sebastianbartmann/notes-editor-sub001/internal/background"
	"github.com/sebastianbartmann/notes-editor-sub001/internal/daemon"
	"github.com/sebastianbartmann/notes-editor-sub001/internal/git"
	"github.com/sebastianbartmann/notes-editor-sub001/internal/vault"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the notes API server",
	Long: `Start the notes API server in the foreground.

The server pulls and pushes the vault in the background, keeps the search
index up to date, and serves agent chats. It listens on port 8080 unless
--port or the port config key says otherwise.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveRun(cmd.Context())
	},
}

var serveStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the server is running",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveStatusRun()
	},
}

var serveStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveStopRun()
	},
}

func init() {
	serveCmd.AddCommand(serveStatusCmd)
	serveCmd.AddCommand(serveStopCmd)
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntP("port", "p", 8080, "port to listen on")
	_ = viper.BindPFlag("port", serveCmd.Flags().Lookup("port"))
}

func pidFile() *daemon.PIDFile {
	return daemon.NewPIDFile(filepath.Join(viper.GetString("state_dir"), "notesd-serve.pid"))
}

func serveRun(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	pf := pidFile()
	if err := pf.Acquire(); err != nil {
		return fmt.Errorf("notesd serve: %w", err)
	}
	defer func() { _ = pf.Remove() }()

	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	root := viper.GetString("notes_root")
	v := vault.NewStore(root)
	gc := git.NewClient(root)

	sm := background.NewSyncManager(v.Locker(), gc, background.SyncConfig{
		Debounce:        viper.GetDuration("sync.debounce"),
		MinPullInterval: viper.GetDuration("sync.min_pull_interval"),
	})
	var im *background.IndexManager
	if viper.GetBool("index.enabled") {
		im = background.NewIndexManager(background.NewExecRunner(viper.GetString("index.command")), background.IndexConfig{
			Root:          root,
			Persons:       viper.GetStringSlice("persons"),
			Debounce:      viper.GetDuration("index.debounce"),
			UpdateTimeout: viper.GetDuration("index.update_timeout"),
			EmbedTimeout:  viper.GetDuration("index.embed_timeout"),
		})
	}

	tb := newToolbox(v)
	tb.OnWrite = func(person, path string) {
		sm.TriggerPush(fmt.Sprintf("Agent update %s/%s", person, path))
		if im != nil {
			im.TriggerReindex("agent write")
		}
	}

	svc := agent.NewService(v, st, sm, newRuntimes(tb), agentOptions())
	srv := api.NewServer(svc, sm, im, gc, tb, api.Config{
		Persons:    viper.GetStringSlice("persons"),
		Token:      viper.GetString("api.token"),
		GatewayURL: viper.GetString("agent.gateway_url"),
	})

	sm.Start()
	defer sm.Stop()
	sm.TriggerPull()
	if im != nil {
		im.Start()
		defer im.Stop()
		im.TriggerReindex("startup")
	}

	addr := fmt.Sprintf(":%d", viper.GetInt("port"))
	ui.Info("Serving notes API at http://localhost%s (vault %s)", addr, root)
	return listenAndServe(ctx, addr, srv.Router())
}

// listenAndServe runs handler until ctx is cancelled or a shutdown signal
// arrives, then drains in-flight requests.
func listenAndServe(ctx context.Context, addr string, handler http.Handler) error {
	ctx, stop := signal.NotifyContext(ctx, shutdownSignals()...)
	defer stop()

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- httpServer.ListenAndServe() }()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down", "addr", addr)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func serveStatusRun() error {
	pid, running := pidFile().IsRunning()
	if !running {
		ui.Info("notesd serve is not running")
		return nil
	}
	ui.Success("notesd serve is running (pid %d)", pid)
	return nil
}

func serveStopRun() error {
	pf := pidFile()
	pid, running := pf.IsRunning()
	if !running {
		return fmt.Errorf("notesd serve is not running")
	}
	if dryRun {
		ui.DryRunMsg("Would stop notesd serve (pid %d)", pid)
		return nil
	}
	if err := pf.Signal(sigTERM()); err != nil {
		return fmt.Errorf("stop pid %d: %w", pid, err)
	}
	ui.Success("Sent stop signal to notesd serve (pid %d)", pid)
	return nil
}
