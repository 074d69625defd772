package main

import (
	"log"

	"github.com/joho/godotenv"

	"qck/cmd/internal/app"
)

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load(".env")

	if err := app.Run(); err != nil {
		log.Fatal(err)
	}
}
