package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/chatty/internal/api"
	"github.com/kalambet/chatty/internal/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the chatty server (foreground)",
	Long: `Start the HTTP API, the periodic task runner and the index worker.

With --mcp the intelligence tools are also served over MCP on stdin/stdout;
logs always go to stderr.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		withMCP, _ := cmd.Flags().GetBool("mcp")
		return runServer(withMCP)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running chatty server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show chatty system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().Bool("mcp", false, "also serve MCP over stdio")
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "chatty.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func setupLogging(cfg config.Config) {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()})))
}

func runServer(withMCP bool) error {
	fmt.Fprintf(os.Stderr, "chatty version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg)

	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer os.Remove(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			slog.Warn("closing resources", "error", err)
		}
	}()

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.NewAppHandler(a.appDeps()),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("chatty listening", "addr", addr, "provider", cfg.Provider.Name, "model", cfg.Provider.Model)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		return a.runner.Run(gctx)
	})

	g.Go(func() error {
		a.worker.Run(gctx)
		return nil
	})

	if withMCP {
		stdio := server.NewStdioServer(api.NewMCPServer(a.mcpDeps(), version))
		g.Go(func() error {
			slog.Info("MCP server started (stdio transport)")
			if err := stdio.Listen(gctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
			return nil
		})
	}

	return g.Wait()
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("could not load config: %w", err)
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		return fmt.Errorf("chatty is not running (no PID file): %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("could not find process %d: %w", pid, err)
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		os.Remove(pidPath)
		return fmt.Errorf("could not stop chatty (PID %d): %w", pid, err)
	}

	printSuccess("Sent stop signal to chatty (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	client := clientFor(cfg)
	client.httpClient.Timeout = 2 * time.Second

	running := false
	if resp, err := client.get(ctx, "/health"); err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		running = resp.StatusCode == http.StatusOK
		if running {
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	printStatus("Provider", "%s (%s)", cfg.Provider.Name, cfg.Provider.Model)
	for _, p := range cfg.ProviderSettings().Available() {
		if p.Configured && !p.Local {
			printStatus("  configured", "%s", p.Name)
		}
	}
	share := "sqlite"
	if cfg.Cache.RedisURL != "" {
		share = "redis"
	}
	printStatus("Share cache", "%s", share)

	if running {
		var user struct {
			Stats struct {
				TotalRecords          int `json:"total_intelligence_records"`
				ConversationsAnalyzed int `json:"conversations_analyzed"`
				LearningEvents        int `json:"learning_events"`
			} `json:"stats"`
		}
		if resp, err := client.get(ctx, "/api/intelligence/user"); err == nil && decodeJSON(resp, &user) == nil {
			printStatus("Learned records", "%d", user.Stats.TotalRecords)
			printStatus("Analyzed conversations", "%d", user.Stats.ConversationsAnalyzed)
			printStatus("Learning events", "%d", user.Stats.LearningEvents)
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
