// Command cache-applier consumes the account event topics and applies them
// to the account store and the read cache.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"auth-token-service/internal/factory"
	"auth-token-service/internal/util"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	f, err := factory.NewFactory(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	routes := f.ConsumerRoutes()
	g, gctx := errgroup.WithContext(ctx)
	for _, route := range routes {
		c := f.NewConsumer(route.Topic)
		g.Go(func() error {
			if err := c.Start(gctx, route.Handler); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("consumer %s: %w", route.Topic, err)
			}
			return nil
		})
	}

	util.Info("Cache applier started", util.Int("topics", len(routes)))

	if err := g.Wait(); err != nil {
		util.Error("Cache applier stopped", util.ErrorField(err))
		f.Close()
		os.Exit(1)
	}
	util.Info("Cache applier shutdown completed")
}
