package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"peoplegate.org/internal/migrate"
	"peoplegate.org/internal/obs"
)

func main() {
	log.SetFlags(0)
	dsn := flag.String("dsn", os.Getenv("PEOPLEGATE_PG_DSN"), "PostgreSQL DSN")
	flag.Parse()

	if *dsn == "" {
		log.Fatal("missing DSN: provide via -dsn or PEOPLEGATE_PG_DSN")
	}
	if len(flag.Args()) == 0 {
		log.Fatal("usage: migrate [up|down|seed|status]")
	}

	logger, err := obs.NewLogger(os.Getenv("PEOPLEGATE_LOG_LEVEL"))
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	mgr := migrate.NewManager(db, migrate.Migrations(), migrate.Seeds(), migrate.WithLogger(logger))

	switch flag.Arg(0) {
	case "up":
		_, err = mgr.Up(ctx)
	case "down":
		_, err = mgr.Down(ctx)
	case "seed":
		_, err = mgr.Seed(ctx)
	case "status":
		var history []string
		history, err = mgr.Status(ctx)
		if err == nil {
			for _, item := range history {
				fmt.Println(item)
			}
		}
	default:
		log.Fatalf("unknown command %q", flag.Arg(0))
	}
	if err != nil {
		log.Fatalf("migrate %s: %v", flag.Arg(0), err)
	}
}
