// useradd provisions a user into the configured Postgres or Redis store.
// The password is read from the first line of stdin.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"gatekeep/cmd/identity"
	"gatekeep/cmd/internal/app"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "useradd:", err)
		os.Exit(1)
	}
}

func run() error {
	username := flag.String("username", "", "Username to create")
	flag.Parse()

	if strings.TrimSpace(*username) == "" {
		return errors.New("-username is required")
	}

	cfg, err := app.LoadConfig()
	if err != nil {
		return err
	}
	log := app.NewLogger(cfg.LogLevel, cfg.LogFormat)

	pw, err := readPassword(bufio.NewReader(os.Stdin))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	stores, err := app.OpenStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() { _ = stores.Close() }()

	if stores.Backend == app.BackendMemory {
		return errors.New("no persistent store configured (set GATEKEEP_DATABASE_URL or GATEKEEP_REDIS_URL)")
	}

	u, err := stores.Users.CreateUser(ctx, identity.CreateUserInput{
		Username: *username,
		Password: pw,
		Now:      time.Now().UTC(),
	})
	switch {
	case identity.IsConflict(err):
		return fmt.Errorf("username %q is taken", *username)
	case err != nil:
		return err
	}

	fmt.Println(u.ID)
	return nil
}

func readPassword(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil && line == "" {
		return "", errors.New("password expected on stdin")
	}
	pw := strings.TrimRight(line, "\r\n")
	if pw == "" {
		return "", errors.New("password expected on stdin")
	}
	return pw, nil
}
