package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/issuetrack/internal/api"
	"github.com/joescharf/issuetrack/internal/daemon"
	"github.com/joescharf/issuetrack/internal/health"
)

const stopTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the REST API server",
	Long: `Run the issue tracker REST API in the foreground.

The server listens on port 8000 by default (--port or server.port) and
shuts down gracefully on SIGINT/SIGTERM. Use 'serve start' to run it in
the background instead.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		return serveRun(ctx)
	},
}

var serveStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the API server in the background",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveStartRun()
	},
}

var serveStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the background API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveStopRun()
	},
}

var serveStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the background API server is running",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveStatusRun()
	},
}

func init() {
	serveCmd.PersistentFlags().IntP("port", "p", 8000, "port to listen on")
	serveCmd.PersistentFlags().Bool("debug", false, "enable the /debug/database endpoint")
	_ = viper.BindPFlag("server.port", serveCmd.PersistentFlags().Lookup("port"))
	_ = viper.BindPFlag("server.debug", serveCmd.PersistentFlags().Lookup("debug"))

	serveCmd.AddCommand(serveStartCmd)
	serveCmd.AddCommand(serveStopCmd)
	serveCmd.AddCommand(serveStatusCmd)
	rootCmd.AddCommand(serveCmd)
}

// pidFile returns the PID file tracking the background server.
func pidFile() *daemon.PIDFile {
	return daemon.NewPIDFile(filepath.Join(viper.GetString("state_dir"), "issuetrack-serve.pid"))
}

// serveLogPath returns the log file the background server writes to.
func serveLogPath() string {
	return filepath.Join(viper.GetString("state_dir"), "issuetrack-serve.log")
}

func apiConfig() api.Config {
	return api.Config{
		Version:        buildVersion,
		Debug:          viper.GetBool("server.debug"),
		AllowedOrigins: viper.GetStringSlice("cors.allowed_origins"),
	}
}

// newAPIHandler wires the store, repository and optional enricher into the
// REST router.
func newAPIHandler(logger *slog.Logger) (http.Handler, error) {
	repo, err := getRepository()
	if err != nil {
		return nil, err
	}
	srv := api.NewServer(repo, health.NewChecker(dataStore), newEnricher(), logger, apiConfig())
	return srv.Router(), nil
}

func newHTTPServer(handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              net.JoinHostPort("", strconv.Itoa(viper.GetInt("server.port"))),
		Handler:           handler,
		ReadTimeout:       viper.GetDuration("server.read_timeout"),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      viper.GetDuration("server.write_timeout"),
		IdleTimeout:       60 * time.Second,
	}
}

func serveRun(ctx context.Context) error {
	logger := newLogger()

	handler, err := newAPIHandler(logger)
	if err != nil {
		return err
	}
	srv := newHTTPServer(handler)

	ctx, stop := signal.NotifyContext(ctx, shutdownSignals()...)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			"addr", srv.Addr,
			"store", dataStore.Name(),
			"version", buildVersion,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen on %s: %w", srv.Addr, err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), viper.GetDuration("server.shutdown_timeout"))
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
		return err
	}
	_ = pidFile().Release(os.Getpid())
	logger.Info("server stopped gracefully")
	return nil
}

func serveStartRun() error {
	pf := pidFile()
	if pid, running := pf.IsRunning(); running {
		return fmt.Errorf("server already running (PID %d)", pid)
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("find executable: %w", err)
	}

	args := []string{"serve", "--port", strconv.Itoa(viper.GetInt("server.port"))}
	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		args = append(args, "--config", cfgFile)
	}
	if driver := viper.GetString("store.driver"); driver != "" {
		args = append(args, "--driver", driver)
	}
	if viper.GetBool("server.debug") {
		args = append(args, "--debug")
	}

	if dryRun {
		ui.DryRunMsg("Would run %s %v in the background", exe, args)
		return nil
	}

	logPath := serveLogPath()
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer func() { _ = logFile.Close() }()

	child := exec.Command(exe, args...)
	child.Stdout = logFile
	child.Stderr = logFile
	setDaemonAttrs(child)

	if err := child.Start(); err != nil {
		return fmt.Errorf("start server: %w", err)
	}
	pid := child.Process.Pid
	if err := pf.WritePID(pid); err != nil {
		_ = child.Process.Kill()
		return fmt.Errorf("write PID file: %w", err)
	}
	_ = child.Process.Release()

	ui.Success("Server started (PID %d) on port %d", pid, viper.GetInt("server.port"))
	ui.Info("Logs: %s", logPath)
	return nil
}

func serveStopRun() error {
	pf := pidFile()
	pid, running := pf.IsRunning()
	if !running {
		if pid != 0 {
			_ = pf.Release(pid)
		}
		return fmt.Errorf("server is not running")
	}

	if dryRun {
		ui.DryRunMsg("Would stop server (PID %d)", pid)
		return nil
	}

	if err := pf.Signal(sigTERM()); err != nil {
		return fmt.Errorf("signal server: %w", err)
	}

	deadline := time.Now().Add(stopTimeout)
	for time.Now().Before(deadline) {
		if _, alive := pf.IsRunning(); !alive {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	if _, alive := pf.IsRunning(); alive {
		ui.Warning("Server did not exit within %s, killing", stopTimeout)
		if err := pf.Signal(sigKILL()); err != nil {
			return fmt.Errorf("kill server: %w", err)
		}
	}

	if err := pf.Release(pid); err != nil {
		ui.Warning("Could not remove PID file: %v", err)
	}
	ui.Success("Server stopped (PID %d)", pid)
	return nil
}

func serveStatusRun() error {
	pf := pidFile()
	pid, running := pf.IsRunning()
	if !running {
		ui.Info("Server is not running")
		return nil
	}
	ui.Success("Server is running (PID %d)", pid)
	ui.Info("Port: %d", viper.GetInt("server.port"))
	ui.Info("Logs: %s", serveLogPath())
	return nil
}
