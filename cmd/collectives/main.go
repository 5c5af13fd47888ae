package main

import (
	"context"
	"log"
	"os"

	"github.com/dalemusser/collectives/internal/app/bootstrap"
	"github.com/dalemusser/waffle/app"
	"go.uber.org/zap"
)

func main() {
	if len(os.Args) > 1 && bootstrap.IsCommand(os.Args[1]) {
		logger, err := zap.NewProduction()
		if err != nil {
			log.Fatal(err)
		}
		code := bootstrap.RunCommand(context.Background(), os.Args[1:], os.Stderr, logger)
		_ = logger.Sync()
		os.Exit(code)
	}

	if err := app.Run(context.Background(), bootstrap.Hooks); err != nil {
		log.Fatal(err)
	}
}
