package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/labpod/labpod/internal/model"
	"github.com/labpod/labpod/internal/repository"
)

type output struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Role   string `json:"role"`
	Tier   string `json:"tier"`
}

// Promotes an existing user to admin. Users are created by the OAuth
// exchange flow, so this runs after the operator's first login.
func main() {
	var (
		databaseURL = flag.String("database-url", os.Getenv("DATABASE_URL"), "PostgreSQL connection string")
		userID      = flag.String("user-id", "", "ID of the user to promote")
		email       = flag.String("email", "", "Email of the user to promote (alternative to -user-id)")
		tier        = flag.String("tier", "", "Also set the subscription tier (free or paid)")
		format      = flag.String("format", "plain", "Output format: plain or json")
	)
	flag.Parse()

	if *databaseURL == "" {
		fmt.Fprintln(os.Stderr, "DATABASE_URL is required")
		os.Exit(1)
	}
	if *userID == "" && *email == "" {
		fmt.Fprintln(os.Stderr, "one of -user-id or -email is required")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	repo, err := repository.New(ctx, *databaseURL)
	if err != nil {
		fmt.Fprintln(os.Stderr, "connect database:", err)
		os.Exit(1)
	}
	defer repo.Close()

	user, err := findUser(ctx, repo, *userID, *email)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}

	user.Role = model.RoleAdmin
	if *tier != "" {
		t := model.Tier(*tier)
		if !t.IsValid() {
			fmt.Fprintln(os.Stderr, "invalid tier:", *tier)
			os.Exit(1)
		}
		user.Tier = t
	}

	if err := repo.UpdateUserSettings(ctx, user); err != nil {
		fmt.Fprintln(os.Stderr, "update user:", err)
		os.Exit(1)
	}

	out := output{
		UserID: user.ID,
		Email:  user.Email,
		Role:   string(user.Role),
		Tier:   string(user.Tier),
	}

	switch strings.ToLower(*format) {
	case "plain":
		fmt.Printf("promoted %s (%s) to admin\n", out.Email, out.UserID)
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(out)
	default:
		fmt.Fprintln(os.Stderr, "invalid format; use plain or json")
		os.Exit(1)
	}
}

func findUser(ctx context.Context, repo *repository.Repository, userID, email string) (*model.User, error) {
	if userID != "" {
		user, err := repo.GetUserByID(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("lookup user %s: %w", userID, err)
		}
		return user, nil
	}

	users, err := repo.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	for _, user := range users {
		if strings.EqualFold(user.Email, email) {
			return user, nil
		}
	}
	return nil, fmt.Errorf("no user with email %s; they must log in once first", email)
}
