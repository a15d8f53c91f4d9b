package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orders/internal/seed"
	"github.com/vladislavdragonenkov/orders/internal/storage/postgres"
)

const defaultTimeout = 30 * time.Second

func main() {
	_ = godotenv.Load()
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	var (
		file    string
		dsn     string
		migrate bool
	)

	flag.StringVar(&file, "file", "", "path to JSON file with customers and products")
	flag.StringVar(&dsn, "dsn", "", "PostgreSQL DSN (fallback: OMS_POSTGRES_DSN)")
	flag.BoolVar(&migrate, "migrate", false, "apply schema migrations before seeding")
	flag.Parse()

	if err := run(file, dsn, migrate, os.Getenv); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(file, dsn string, migrate bool, getenv func(string) string) error {
	file = strings.TrimSpace(file)
	if file == "" {
		return fmt.Errorf("-file is required")
	}
	if strings.TrimSpace(dsn) == "" {
		dsn = strings.TrimSpace(getenv("OMS_POSTGRES_DSN"))
	}
	if dsn == "" {
		return fmt.Errorf("OMS_POSTGRES_DSN (or -dsn) is required")
	}

	data, err := seed.LoadFile(file)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	store, err := postgres.Open(ctx, dsn)
	if err != nil {
		return fmt.Errorf("open postgres store: %w", err)
	}
	defer store.Close()

	if migrate {
		if err := store.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("migrate postgres: %w", err)
		}
	}

	return seed.Apply(ctx, seed.PostgresTarget(store), data, log.WithField("component", "seed"))
}
