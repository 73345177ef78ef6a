package cmd

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"lti-booking/internal/api/router"
	"lti-booking/internal/config"
	"lti-booking/internal/infrastructure/database"
	"lti-booking/internal/infrastructure/scheduler"
	"lti-booking/pkg/logger"

	"github.com/spf13/cobra"
)

var (
	port        string
	seedDemo    bool
	autoMigrate bool
)

// serverCmd represents the server command
var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the HTTP server",
	Long: `Start the booking API. Depending on notification.mode the same process
also runs the notification workers (memory, redis, rabbitmq) or sends
notifications inline after each reservation.`,
	Run: func(cmd *cobra.Command, args []string) {
		startServer()
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)

	serverCmd.Flags().StringVarP(&port, "port", "p", "8080", "Port for the server to listen on")
	serverCmd.Flags().BoolVar(&seedDemo, "seed", false, "Seed demo courses and slots (memory driver only)")
	serverCmd.Flags().BoolVar(&autoMigrate, "migrate", false, "Apply pending migrations before serving (postgres driver only)")
}

func startServer() {
	cfg := config.Get()

	if port != "8080" {
		cfg.Server.Port = port
	}

	stack, err := router.BuildStack(cfg)
	if err != nil {
		logger.Fatal("Failed to build service stack: %v", err)
	}
	defer stack.Close()

	if autoMigrate && stack.DB != nil {
		if err := database.RunMigrations(context.Background(), stack.DB, cfg.Database.MigrationsDir); err != nil {
			logger.Fatal("%v", err)
		}
	}
	if seedDemo {
		if stack.Memory == nil {
			logger.Warn("--seed ignored: database driver is %s", cfg.Database.Driver)
		} else {
			stack.Memory.SeedDemo(time.Now())
			logger.Info("Seeded demo catalog")
		}
	}

	stopBackground := startBackground(cfg, stack)

	srv := &http.Server{
		Addr:           cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:        router.NewRouter(stack),
		ReadTimeout:    time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout:   time.Duration(cfg.Server.WriteTimeout) * time.Second,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
	}

	go func() {
		logger.Info("Starting server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown: %v", err)
	}

	// drain notification jobs queued by the last requests
	stopBackground()

	logger.Info("Server exited")
}

// startBackground starts the queue workers and, when enabled, the janitor.
// The returned func stops both.
func startBackground(cfg *config.Config, stack *router.Stack) func() {
	stack.Queue.StartWorkers()

	var janitor *scheduler.Janitor
	if cfg.Janitor.Enabled {
		j, err := scheduler.NewJanitor(cfg.Janitor.Schedule, stack.JanitorTasks()...)
		if err != nil {
			logger.Error("Janitor disabled: %v", err)
		} else {
			janitor = j
			janitor.Start()
		}
	}

	return func() {
		if janitor != nil {
			janitor.Stop()
		}
		stack.Queue.StopWorkers()
	}
}
