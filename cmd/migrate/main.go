// migrate applies the embedded SQL migrations to GATEKEEP_DATABASE_URL.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"gatekeep/cmd/internal/app"
	"gatekeep/cmd/internal/db"
)

func main() {
	direction := flag.String("direction", "up", "Migration direction: up or down")
	flag.Parse()

	cfg, err := app.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	if cfg.DatabaseURL == "" {
		fmt.Fprintln(os.Stderr, "GATEKEEP_DATABASE_URL is not set; create a .env or export it")
		os.Exit(1)
	}

	if err := db.Migrate(cfg.DatabaseURL, *direction); err != nil {
		if errors.Is(err, db.ErrNoChange) {
			return
		}
		fmt.Fprintln(os.Stderr, "migrate:", err)
		os.Exit(1)
	}
}
