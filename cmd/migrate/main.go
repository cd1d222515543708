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
	"github.com/joho/godotenv"

	"pedolone.org/internal/migrate"
)

func main() {
	_ = godotenv.Load()

	var (
		dsn           = flag.String("dsn", os.Getenv("PEDOLONE_PG_DSN"), "Postgres DSN (defaults to PEDOLONE_PG_DSN)")
		migrationsDir = flag.String("migrations", "ops/migrations/sql", "directory with .up.sql/.down.sql files")
		seedsDir      = flag.String("seeds", "ops/migrations/seeds", "directory with seed .sql files")
	)
	flag.Parse()

	if *dsn == "" {
		log.Fatal("dsn is required (flag -dsn or PEDOLONE_PG_DSN)")
	}
	cmd := flag.Arg(0)
	if cmd == "" {
		cmd = "up"
	}

	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	mgr := migrate.NewManager(db, *migrationsDir, *seedsDir)

	switch cmd {
	case "up":
		if err := mgr.Up(ctx); err != nil {
			log.Fatalf("migrate up: %v", err)
		}
		log.Println("migrations applied")
	case "down":
		if err := mgr.Down(ctx); err != nil {
			log.Fatalf("migrate down: %v", err)
		}
		log.Println("last migration rolled back")
	case "seed":
		if err := mgr.Seed(ctx); err != nil {
			log.Fatalf("seed: %v", err)
		}
		log.Println("seeds applied")
	case "status":
		applied, err := mgr.Status(ctx)
		if err != nil {
			log.Fatalf("status: %v", err)
		}
		if len(applied) == 0 {
			fmt.Println("no migrations applied")
			return
		}
		for _, name := range applied {
			fmt.Println(name)
		}
	default:
		log.Fatalf("unknown command %q (want up, down, seed or status)", cmd)
	}
}
