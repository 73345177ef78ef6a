package cmd

import (
	"fmt"
	"os"

	"lti-booking/internal/config"
	"lti-booking/internal/infrastructure/database"
	"lti-booking/pkg/logger"

	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Database migration management",
	Long:  "Manage database migrations for the booking store",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Run pending migrations",
	Long:  "Execute all pending database migrations",
	Run:   runMigrateUp,
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show migration status",
	Long:  "Display the status of all migrations",
	Run:   runMigrateStatus,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateStatusCmd)
}

func connectForMigrations() (*gorm.DB, string) {
	cfg := config.Get()
	if cfg.Database.Driver == "memory" {
		logger.Error("Migrations need the postgres driver, configured driver is memory")
		os.Exit(1)
	}

	db, err := database.NewConnection(database.ConfigFrom(cfg.Database))
	if err != nil {
		logger.Error("Failed to connect to database: %v", err)
		os.Exit(1)
	}
	return db, cfg.Database.MigrationsDir
}

func runMigrateUp(cmd *cobra.Command, args []string) {
	db, dir := connectForMigrations()

	if err := database.RunMigrations(cmd.Context(), db, dir); err != nil {
		logger.Error("Migration failed: %v", err)
		os.Exit(1)
	}

	fmt.Println("Migrations completed successfully!")
}

func runMigrateStatus(cmd *cobra.Command, args []string) {
	db, dir := connectForMigrations()

	changes, err := database.NewMigrator(db, dir).Status(cmd.Context())
	if err != nil {
		logger.Error("Failed to get migration status: %v", err)
		os.Exit(1)
	}

	fmt.Println("Migration Status:")
	fmt.Println("================")
	for _, change := range changes {
		status := "Pending"
		if change.AppliedAt != nil {
			status = fmt.Sprintf("Applied at %s", change.AppliedAt.Format("2006-01-02 15:04:05"))
		}
		fmt.Printf("%s - %s [%s]\n", change.Version, change.Name, status)
	}
}
