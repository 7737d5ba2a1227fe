// Maintenance CLI that seeds an operator account. There is no signup surface;
// accounts are provisioned from the command line.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/tkempf/paperboy/internal/postgres"
	"golang.org/x/crypto/bcrypt"
)

func main() {
	var (
		databaseURL = flag.String("database", os.Getenv("DATABASE_URL"), "Postgres URL (or set DATABASE_URL env)")
		username    = flag.String("username", "", "Operator username")
		verbose     = flag.Bool("verbose", false, "Verbose logging")
	)
	flag.Parse()

	if *databaseURL == "" {
		log.Fatal("Database URL required (--database or DATABASE_URL env)")
	}
	if *username == "" {
		log.Fatal("Operator username required (--username)")
	}

	password := os.Getenv("OPERATOR_PASSWORD")
	if password == "" {
		log.Fatal("OPERATOR_PASSWORD env is required")
	}

	logLevel := slog.LevelInfo
	if *verbose {
		logLevel = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	slog.SetDefault(slog.New(handler))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := postgres.Connect(ctx, *databaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pool.Close()

	if err := postgres.RunMigrationsWithLock(ctx, pool); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		log.Fatalf("Failed to hash password: %v", err)
	}

	store := postgres.NewOperatorStore(pool)
	id, err := store.CreateOperator(ctx, *username, string(hash))
	if err != nil {
		log.Fatalf("Failed to create operator: %v", err)
	}

	fmt.Printf("Operator %q created with ID %s\n", *username, id)
}
