package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/eldtechnologies/campus/internal/crypto"
)

func main() {
	userID := flag.String("user", "", "User UUID")
	email := flag.String("email", "", "E-mail address recorded in the token")
	ttl := flag.Duration("ttl", time.Hour, "Token lifetime")
	flag.Parse()

	_ = godotenv.Load()

	if *userID == "" {
		fmt.Fprintln(os.Stderr, "Usage: token -user <user-uuid> [-email <address>] [-ttl 1h]")
		fmt.Fprintln(os.Stderr, "  Signs with JWT_SECRET from the environment or .env")
		os.Exit(1)
	}

	id, err := uuid.Parse(*userID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid user id: %v\n", err)
		os.Exit(1)
	}

	issuer, err := crypto.NewTokenIssuer(os.Getenv("JWT_SECRET"), *ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Cannot sign: %v\n", err)
		os.Exit(1)
	}

	token, claims, err := issuer.Issue(id, *email)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to sign: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Authorization: Bearer %s\n", token)
	fmt.Fprintf(os.Stderr, "expires %s\n", claims.ExpiresAt.Time.Format(time.RFC3339))
}
