package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zoff-tech/go-notifier/pkg/app"
	"github.com/zoff-tech/go-notifier/pkg/config"
	"github.com/zoff-tech/go-notifier/pkg/demo"
	"github.com/zoff-tech/go-notifier/schema"
)

func main() {
	var configDir string

	rootCmd := cobra.Command{
		Use:   "notifier",
		Short: "webhook event bus with a simulated order fulfillment pipeline",
	}
	rootCmd.PersistentFlags().StringVar(&configDir, "config", "./cmd/notifier", "directory holding notifier.yaml")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "run the HTTP surface, the fulfillment simulator and the broker relay",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(configDir)
		},
	}

	var speedup float64
	demoCmd := &cobra.Command{
		Use:   "demo",
		Short: "place one sandbox order and print every event until it is delivered",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDemo(configDir, speedup)
		},
	}
	demoCmd.Flags().Float64Var(&speedup, "speedup", 5, "divide the fulfillment offsets by this factor")

	rootCmd.AddCommand(serveCmd, demoCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serve(configDir string) error {
	cfg, err := config.LoadFromFile(configDir)
	if err != nil {
		return fmt.Errorf("error loading configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(context.Background()); err != nil {
			a.Logger.Error("shutdown", zap.Error(err))
		}
	}()

	return a.Serve(ctx)
}

func runDemo(configDir string, speedup float64) error {
	cfg, err := config.LoadFromFile(configDir)
	if err != nil {
		return fmt.Errorf("error loading configuration: %w", err)
	}
	if speedup > 0 {
		cfg.Fulfillment.PackedAfter = scale(cfg.Fulfillment.PackedAfter, speedup)
		cfg.Fulfillment.ShippedAfter = scale(cfg.Fulfillment.ShippedAfter, speedup)
		cfg.Fulfillment.DeliveredAfter = scale(cfg.Fulfillment.DeliveredAfter, speedup)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, app.WithLogger(zap.NewNop()))
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	relayCtx, stopRelay := context.WithCancel(ctx)
	var wg sync.WaitGroup
	a.StartRelay(relayCtx, &wg)
	defer func() {
		stopRelay()
		wg.Wait()
	}()

	delivered := make(chan struct{})
	start := time.Now()
	a.Bus.Subscribe(schema.Wildcard, func(_ context.Context, envelope schema.Payload) error {
		typ, p, ok := envelope.Unwrap()
		if !ok {
			return nil
		}
		fmt.Printf("+%-6s %-18s %v\n", time.Since(start).Round(100*time.Millisecond), typ, p)
		if update, ok := p.ShipmentUpdated(); ok && update.Status == schema.ShipmentDelivered {
			close(delivered)
		}
		return nil
	})

	hook, err := a.Facade.RegisterWebhook(ctx, schema.EnvironmentSandbox, demo.WebhookRequest{
		URL:    "https://example.com/hooks/orders",
		Events: []schema.Type{schema.TypeOrderCreated, schema.TypeShipmentUpdated},
	})
	if err != nil {
		return err
	}
	fmt.Printf("registered webhook %s for %v\n", hook.ID, hook.Events)

	order, err := a.Facade.PlaceOrder(ctx, schema.EnvironmentSandbox, demo.OrderRequest{
		Fields: map[string]any{"total": 4200, "currency": "usd"},
	})
	if err != nil {
		return err
	}
	fmt.Printf("placed order %s\n", order.ID)

	var waitErr error
	select {
	case <-delivered:
	case <-ctx.Done():
		waitErr = ctx.Err()
	}

	deliveries, err := a.Facade.Deliveries(context.Background(), schema.EnvironmentSandbox, 0)
	if err != nil {
		return err
	}
	for _, d := range deliveries {
		fmt.Printf("delivery %-18s %-8s %3d %4dms\n", d.EventType, d.Status, d.ResponseCode, d.LatencyMs)
	}
	return waitErr
}

func scale(d time.Duration, factor float64) time.Duration {
	return time.Duration(float64(d) / factor)
}
