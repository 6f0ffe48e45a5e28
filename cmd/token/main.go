// Command token issues a bearer token for a configured user, for operators
// and local testing against the HTTP API.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"liftbook/internal/api"
	"liftbook/internal/config"
	"liftbook/internal/models"
)

func main() {
	userID := flag.String("user", "", "user id from the users section of the config")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	if err := run(*userID, *ttl); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(userID string, ttl time.Duration) error {
	if userID == "" {
		return fmt.Errorf("-user is required")
	}

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	user, ok := findUser(cfg.Users, userID)
	if !ok {
		return fmt.Errorf("user %s is not configured", userID)
	}

	token, err := api.NewTokenService(cfg.API.JWT).GenerateToken(user.ID, ttl)
	if err != nil {
		return fmt.Errorf("generate token: %w", err)
	}

	fmt.Printf("User:  %s (%s)\n", user.ID, user.Role)
	fmt.Printf("Valid: %s\n", ttl)
	fmt.Printf("\nAuthorization: Bearer %s\n", token)
	return nil
}

func findUser(users []models.User, id string) (models.User, bool) {
	for _, u := range users {
		if u.ID == id {
			return u, true
		}
	}
	return models.User{}, false
}
