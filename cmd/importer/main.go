package main

import (
	"context"

	"github.com/charmbracelet/log"

	"kestrel/internal/app"
)

func main() {
	if err := app.RunImporter(context.Background()); err != nil {
		log.Fatal("import run failed", "error", err)
	}
}
