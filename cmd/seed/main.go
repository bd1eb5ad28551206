// Package main populates a stock ledger database with demo tenants, products
// and open orders. It runs against the same configuration as the server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"github.com/utafrali/stockledger/internal/app"
	"github.com/utafrali/stockledger/internal/config"
	"github.com/utafrali/stockledger/internal/domain"
	pkgconfig "github.com/utafrali/stockledger/pkg/config"
	"github.com/utafrali/stockledger/pkg/logger"
)

type seedConfig struct {
	Tenants  int   `env:"SEED_TENANTS" envDefault:"3"`
	Products int   `env:"SEED_PRODUCTS" envDefault:"50"`
	Orders   int   `env:"SEED_ORDERS" envDefault:"20"`
	Seed     int64 `env:"SEED_RANDOM_SEED" envDefault:"42"`
}

func main() {
	var sc seedConfig
	if err := pkgconfig.Load(&sc); err != nil {
		slog.Error("failed to load seed config", slog.String("error", err.Error()))
		os.Exit(1)
	}
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}
	// Seeding never publishes or consumes events.
	cfg.KafkaEnabled = false

	log := logger.New("stockledger-seed", cfg.LogLevel)
	a, err := app.NewApp(cfg, log)
	if err != nil {
		log.Error("failed to initialize application", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	err = seed(ctx, a, sc, log)
	if shutdownErr := a.Shutdown(); shutdownErr != nil {
		err = errors.Join(err, shutdownErr)
	}
	if err != nil {
		log.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func seed(ctx context.Context, a *app.App, sc seedConfig, log *slog.Logger) error {
	if sc.Tenants <= 0 || sc.Products <= 0 {
		return fmt.Errorf("SEED_TENANTS and SEED_PRODUCTS must be positive")
	}
	rng := rand.New(rand.NewPCG(uint64(sc.Seed), 0))

	for t := range sc.Tenants {
		tenant := fmt.Sprintf("tenant-%02d", t+1)
		for p := range sc.Products {
			product := fmt.Sprintf("SKU-%05d", p+1)
			if _, err := a.Stocks.TrackProduct(ctx, tenant, product, -1); err != nil {
				return fmt.Errorf("track %s/%s: %w", tenant, product, err)
			}
			qty := decimal.NewFromInt(int64(10 + rng.IntN(200)))
			if _, err := a.Adjustments.ReceivePurchase(ctx, domain.StockReceiptCommand{
				TenantID:        tenant,
				ProductID:       product,
				Quantity:        qty,
				ReferenceNumber: fmt.Sprintf("PO-SEED-%s-%05d", tenant, p+1),
				Actor:           "seed",
			}); err != nil {
				return fmt.Errorf("receive %s/%s: %w", tenant, product, err)
			}
		}

		confirmed := 0
		for o := range sc.Orders {
			lines := make([]domain.OrderLine, 0, 3)
			for range 1 + rng.IntN(3) {
				lines = append(lines, domain.OrderLine{
					ProductID: fmt.Sprintf("SKU-%05d", 1+rng.IntN(sc.Products)),
					Quantity:  decimal.NewFromInt(int64(1 + rng.IntN(5))),
				})
			}
			_, err := a.Orders.ConfirmOrder(ctx, domain.ConfirmOrderCommand{
				TenantID: tenant,
				OrderID:  fmt.Sprintf("ORD-SEED-%05d", o+1),
				Lines:    lines,
				Actor:    "seed",
			})
			// Short stock and orders left over from an earlier run are skipped.
			if errors.Is(err, domain.ErrInsufficientStock) || errors.Is(err, domain.ErrInvalidStateTransition) {
				continue
			}
			if err != nil {
				return fmt.Errorf("confirm order %d for %s: %w", o+1, tenant, err)
			}
			confirmed++
		}

		log.Info("tenant seeded",
			slog.String("tenant_id", tenant),
			slog.Int("products", sc.Products),
			slog.Int("orders_confirmed", confirmed),
		)
	}
	return nil
}
