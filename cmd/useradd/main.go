// Command useradd stores a user credential hashed with Argon2id.
//
//	useradd -username alice -password secret
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/Tyrowin/messenger/internal/auth"
	"github.com/Tyrowin/messenger/internal/logging"
	"github.com/Tyrowin/messenger/internal/server"
	"github.com/Tyrowin/messenger/internal/storage"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "useradd: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("useradd", flag.ContinueOnError)
	username := fs.String("username", "", "name of the user to create")
	password := fs.String("password", "", "password for the new user")
	envFile := fs.String("env", ".env", "optional environment file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *username == "" || *password == "" {
		fs.Usage()
		return errors.New("username and password are required")
	}

	cfg, err := server.LoadConfig(*envFile)
	if err != nil {
		return err
	}
	log := logging.New(cfg.LogLevel, "text", os.Stderr)

	store, err := storage.Open(cfg.Storage(), log)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = store.Close() }()

	hash, err := auth.HashPassword(*password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := store.AddUser(context.Background(), storage.User{Username: *username, PasswordHash: hash}); err != nil {
		return fmt.Errorf("add user %s: %w", *username, err)
	}

	fmt.Printf("created user %s\n", *username)
	return nil
}
