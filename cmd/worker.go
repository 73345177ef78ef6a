package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"lti-booking/internal/api/router"
	"lti-booking/internal/config"
	"lti-booking/pkg/logger"

	"github.com/spf13/cobra"
)

var workerCount int

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Consume notification jobs without serving HTTP",
	Long: `Run notification workers against the shared queue. Only the redis and
rabbitmq notification modes have a queue outside the API process; the
janitor runs here too when enabled.`,
	Run: func(cmd *cobra.Command, args []string) {
		startWorker()
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
	workerCmd.Flags().IntVarP(&workerCount, "workers", "w", 0, "Number of workers (defaults to notification.workers)")
}

func startWorker() {
	cfg := config.Get()

	switch cfg.Notification.Mode {
	case "redis", "rabbitmq":
	default:
		logger.Error("Notification mode %q has no shared queue; run the server instead", cfg.Notification.Mode)
		os.Exit(1)
	}
	if workerCount > 0 {
		cfg.Notification.Workers = workerCount
	}

	stack, err := router.BuildStack(cfg)
	if err != nil {
		logger.Fatal("Failed to build service stack: %v", err)
	}
	defer stack.Close()

	stopBackground := startBackground(cfg, stack)
	logger.Info("Notification worker running mode=%s workers=%d", cfg.Notification.Mode, cfg.Notification.Workers)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Stopping notification workers...")
	stopBackground()
	logger.Info("Worker exited")
}
