package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/zulandar/floorline/internal/config"
	"github.com/zulandar/floorline/internal/db"
	"gorm.io/gorm"
)

func newDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database management commands",
	}

	cmd.AddCommand(newDBInitCmd())
	cmd.AddCommand(newDBResetCmd())
	return cmd
}

func newDBInitCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize the Floorline database",
		Long:  "Creates the database, migrates all tables, seeds stations and status definitions.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBInit(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "floorline.yaml", "path to Floorline config file")
	return cmd
}

func runDBInit(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	fmt.Fprintf(out, "Loaded config for plant %q from %s\n", cfg.Plant, configPath)

	adminDB, err := db.ConnectAdmin(cfg.Database)
	if err != nil {
		return fmt.Errorf("connect to MySQL at %s:%d: %w", cfg.Database.Host, cfg.Database.Port, err)
	}
	fmt.Fprintf(out, "Connected to MySQL at %s:%d\n", cfg.Database.Host, cfg.Database.Port)

	if err := db.CreateDatabase(adminDB, cfg.Database.Database); err != nil {
		return err
	}
	fmt.Fprintf(out, "Database %s ready\n", cfg.Database.Database)

	gormDB, err := db.Connect(cfg.Database)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", cfg.Database.Database, err)
	}

	if err := db.AutoMigrate(gormDB); err != nil {
		return err
	}
	fmt.Fprintf(out, "Migrated %d tables\n", len(db.AllModels()))

	if err := db.SeedStations(gormDB, cfg.Stations); err != nil {
		return err
	}
	fmt.Fprintf(out, "Seeded %d stations\n", len(cfg.Stations))

	if err := db.SeedStatusDefinitions(gormDB, cfg.Statuses); err != nil {
		return err
	}
	fmt.Fprintf(out, "Seeded %d status definitions\n", len(cfg.Statuses))

	return nil
}

func newDBResetCmd() *cobra.Command {
	var (
		configPath string
		yes        bool
	)

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Drop and recreate the Floorline database",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			if !yes && !confirmReset(cmd, cfg.Database.Database) {
				fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
				return nil
			}

			adminDB, err := db.ConnectAdmin(cfg.Database)
			if err != nil {
				return fmt.Errorf("connect to MySQL: %w", err)
			}
			if err := db.DropDatabase(adminDB, cfg.Database.Database); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Dropped %s\n", cfg.Database.Database)

			return runDBInit(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "floorline.yaml", "path to Floorline config file")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip confirmation prompt")
	return cmd
}

// confirmReset asks the operator to confirm a destructive reset.
func confirmReset(cmd *cobra.Command, dbName string) bool {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "This will DROP database %q and all session history.\n", dbName)
	fmt.Fprint(out, "Type \"yes\" to confirm: ")

	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	return strings.TrimSpace(line) == "yes"
}

// connectFromConfig loads the config and opens the plant database.
func connectFromConfig(configPath string) (*config.Config, *gorm.DB, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	gormDB, err := db.Connect(cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	return cfg, gormDB, nil
}
