package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/schrute_ledger/internal/cache"
	"github.com/eddiefleurent/schrute_ledger/internal/gateway"
	"github.com/eddiefleurent/schrute_ledger/internal/mock"
	"github.com/eddiefleurent/schrute_ledger/internal/service"
)

func main() {
	fmt.Println("=== Schrute Ledger - End-to-End Integration Run ===")
	fmt.Println()

	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)

	upstream := mock.NewBroker()
	feed := mock.NewFeed(upstream, 250*time.Millisecond)

	gw := gateway.New(upstream, gateway.Config{
		FailureThreshold: 5,
		RecoveryTimeout:  5 * time.Second,
		RequestTimeout:   2 * time.Second,
		QuoteTTL:         2 * time.Second,
	}, logger)

	ledger := service.New(gw, feed, cache.NewMemoryBook(), service.Config{
		ThrottleInterval: 500 * time.Millisecond,
		QueueCapacity:    256,
		SubscriberBuffer: 32,
	}, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ledger.Start(ctx)
	defer ledger.Stop()

	// Step 1: load and assemble positions from the mock book of fills.
	positions, err := ledger.Positions(ctx)
	if err != nil {
		log.Fatalf("Failed to load positions: %v", err)
	}

	fmt.Printf("Assembled %d positions:\n", len(positions))
	for _, p := range positions {
		fmt.Printf("  %s %-16s legs=%d status=%s pnl=%.2f\n",
			p.Symbol, p.Strategy, len(p.Legs), p.Status, p.TotalPnL)
	}
	fmt.Println()

	status := ledger.CircuitStatus()
	fmt.Printf("Circuit: %s (failures=%d)\n\n", status.State, status.FailureCount)

	// Step 2: watch the throttled update stream for a few seconds.
	fmt.Println("Streaming updates for 5 seconds...")
	events := ledger.Updates(ctx)
	deadline := time.After(5 * time.Second)

	var prices, snapshots int
watch:
	for {
		select {
		case <-deadline:
			break watch
		case ev, ok := <-events:
			if !ok {
				break watch
			}
			switch {
			case ev.Price != nil:
				prices++
				fmt.Printf("  price %-21s mid=%.2f\n", ev.Price.Symbol, ev.Price.Mid)
			case ev.Position != nil:
				snapshots++
			}
		}
	}

	fmt.Println()
	fmt.Printf("Received %d price updates and %d position snapshots (dropped=%d)\n",
		prices, snapshots, ledger.QueueDropped())

	if prices == 0 {
		log.Fatal("Expected at least one throttled price update")
	}

	fmt.Println("\n=== Integration run complete ===")
}
