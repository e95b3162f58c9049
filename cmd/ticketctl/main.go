package main

import (
	"context"
	"os"

	"github.com/robertarktes/event-ticketing/internal/app"
	"github.com/robertarktes/event-ticketing/internal/config"
	"github.com/robertarktes/event-ticketing/internal/observability"
)

func main() {
	open := func(ctx context.Context) (*app.App, error) {
		cfg, err := config.Load()
		if err != nil {
			return nil, err
		}
		return app.Build(ctx, cfg, observability.NewLogger())
	}
	if err := newRootCmd(open, config.Load).Execute(); err != nil {
		os.Exit(1)
	}
}
