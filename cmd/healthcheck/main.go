package main

import (
	"context"
	"os"
	"time"

	sqliteadapter "github.com/demoforge/demoforge/internal/adapter/driven/sqlite"
)

func main() {
	os.Exit(check())
}

// check opens the database read-only and pings it. The daemon has no network
// surface, so a healthy database is the liveness signal.
func check() int {
	dbPath := os.Getenv("DEMOFORGE_DB_PATH")
	if dbPath == "" {
		dbPath = "demoforge.db"
	}

	db, err := sqliteadapter.NewDB(dbPath)
	if err != nil {
		return 1
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := db.Reader.PingContext(ctx); err != nil {
		return 1
	}
	return 0
}
