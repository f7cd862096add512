package main

import (
	"encoding/hex"
	"fmt"

	"github.com/eldtechnologies/campus/internal/crypto"
)

func main() {
	secret, err := crypto.NewSecret(32)
	if err != nil {
		panic(err)
	}

	fmt.Printf("JWT_SECRET=%s\n", hex.EncodeToString(secret))
}
