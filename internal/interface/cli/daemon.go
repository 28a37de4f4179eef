package cli

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"sentinelfs/internal/application"
	"sentinelfs/internal/infrastructure/config"
	"sentinelfs/internal/infrastructure/logging"
	"sentinelfs/internal/interface/ipc"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run or control the sync daemon",
}

var daemonRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the sync daemon in the foreground",
	RunE: func(cmd *cobra.Command, args []string) error {
		return RunForeground(cfgFile)
	},
}

var daemonStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the sync daemon in the background",
	RunE:  runDaemonStart,
}

var daemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop a running background sync daemon",
	RunE:  runDaemonStop,
}

func init() {
	rootCmd.AddCommand(daemonCmd)
	daemonCmd.AddCommand(daemonRunCmd)
	daemonCmd.AddCommand(daemonStartCmd)
	daemonCmd.AddCommand(daemonStopCmd)
}

func loadDaemonConfig() (config.Config, error) {
	return config.Load(cfgFile)
}

// resolveDaemonLaunch picks how `daemon start` spawns the background
// process: a standalone `sentinelfsd` binary if one is on PATH,
// otherwise this same binary re-invoked as `daemon run`.
func resolveDaemonLaunch() (string, []string, error) {
	if path, err := exec.LookPath("sentinelfsd"); err == nil {
		args := []string{}
		if cfgFile != "" {
			args = append(args, "--config", cfgFile)
		}
		return path, args, nil
	}

	exePath, err := os.Executable()
	if err != nil {
		return "", nil, fmt.Errorf("resolve executable: %w", err)
	}
	args := []string{"daemon", "run"}
	if cfgFile != "" {
		args = append(args, "--config", cfgFile)
	}
	return exePath, args, nil
}

func pidFilePath(cfg config.Config) string {
	return cfg.DataDir + "/sentinelfsd.pid"
}

// RunForeground loads configuration from configPath (empty for the
// default search path), brings up a full Daemon plus its IPC server,
// and blocks until SIGINT/SIGTERM. It is the body of both `sentinelfsd`
// (cmd/sentinelfsd's entire main) and `sentinelfsctl daemon run`, so a
// single binary covers both deployment styles.
func RunForeground(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.NewConsole(cfg.LogLevel)

	d, err := application.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("construct daemon: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := d.Start(ctx); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}

	srv := ipc.NewServer(d, cfg.IPCSocketPath, logger)
	if err := srv.Start(ctx); err != nil {
		d.Stop()
		return fmt.Errorf("start ipc server: %w", err)
	}

	if err := os.WriteFile(pidFilePath(cfg), []byte(strconv.Itoa(os.Getpid())), 0600); err != nil {
		logger.Warn("could not write pid file", "error", err)
	}
	defer os.Remove(pidFilePath(cfg))

	<-ctx.Done()
	logger.Info("shutting down")
	srv.Stop()
	return d.Stop()
}

func runDaemonStart(cmd *cobra.Command, args []string) error {
	cfg, err := loadDaemonConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	client := ipc.NewClient(cfg.IPCSocketPath)
	if client.IsRunning() {
		fmt.Println("sentinelfsd is already running")
		return nil
	}

	exePath, daemonArgs, err := resolveDaemonLaunch()
	if err != nil {
		return err
	}

	proc := exec.Command(exePath, daemonArgs...)
	setSysProcAttr(proc)
	proc.Stdout = nil
	proc.Stderr = nil

	if err := proc.Start(); err != nil {
		return fmt.Errorf("spawn daemon: %w", err)
	}

	for i := 0; i < 20; i++ {
		if client.IsRunning() {
			fmt.Printf("sentinelfsd started (pid %d)\n", proc.Process.Pid)
			return nil
		}
		time.Sleep(250 * time.Millisecond)
	}

	return fmt.Errorf("daemon did not come up on %s", cfg.IPCSocketPath)
}

func runDaemonStop(cmd *cobra.Command, args []string) error {
	cfg, err := loadDaemonConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	client := ipc.NewClient(cfg.IPCSocketPath)
	if !client.IsRunning() {
		fmt.Println("sentinelfsd is not running")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := client.Shutdown(ctx)
	if err != nil {
		return fmt.Errorf("request shutdown: %w", err)
	}
	if !resp.Success {
		return fmt.Errorf("shutdown failed: %s", resp.Error)
	}
	fmt.Println("sentinelfsd stopped")
	return nil
}
