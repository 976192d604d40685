package main

import (
	"context"

	"github.com/charmbracelet/log"

	"kestrel/internal/app"
)

func main() {
	if err := app.RunCrawler(context.Background()); err != nil {
		log.Fatal("crawl run failed", "error", err)
	}
}
