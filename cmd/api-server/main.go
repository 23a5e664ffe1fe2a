package main

import (
	"context"

	"github.com/go-faster/sdk/app"
	"go.uber.org/zap"

	bookshop "github.com/xenking/bookshop/internal/app"
)

func main() {
	app.Run(func(ctx context.Context, lg *zap.Logger, m *app.Telemetry) error {
		cfg, err := bookshop.LoadConfig()
		if err != nil {
			return err
		}
		return bookshop.Run(ctx, lg, m, cfg)
	})
}
