package main

import (
	"context"
	"log"
	"os"

	"github.com/joho/godotenv"

	"github.com/cliplens/backend/internal/app"
)

func main() {
	// A missing .env is fine; environment overrides stay optional.
	_ = godotenv.Load()

	ctx := context.Background()
	if err := app.Run(ctx, os.Args[1:]); err != nil {
		log.Fatal(err)
	}
}
