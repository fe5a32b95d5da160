package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/hackgods/telehealth-scheduling/internal/db"
)

func main() {
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:          "migrate",
		Short:        "Manage the scheduling database schema",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().String("dsn", os.Getenv("POSTGRES_DSN"), "Postgres connection string (defaults to POSTGRES_DSN)")
	rootCmd.PersistentFlags().String("dir", "", "Read migrations from this directory instead of the embedded set")

	rootCmd.AddCommand(upCmd())
	rootCmd.AddCommand(statusCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func upCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			migrator, closeFn, err := openMigrator(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			count, err := migrator.Up(cmd.Context())
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			migrator, closeFn, err := openMigrator(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			statuses, err := migrator.Status(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format(time.DateTime)
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
}

func openMigrator(cmd *cobra.Command) (*db.Migrator, func(), error) {
	dsn, _ := cmd.Flags().GetString("dsn")
	dir, _ := cmd.Flags().GetString("dir")
	if dsn == "" {
		return nil, nil, errors.New("POSTGRES_DSN is required (set --dsn, .env or environment)")
	}

	var source fs.FS = db.Migrations()
	if dir != "" {
		source = os.DirFS(dir)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn, db.PoolOptions{MaxConns: 2})
	if err != nil {
		return nil, nil, err
	}
	return db.NewMigrator(pool, source), pool.Close, nil
}
