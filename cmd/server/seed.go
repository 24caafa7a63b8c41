package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/storefront/settlement-reconciler/internal/domain"
)

// seedOrder is one entry of the orders fixture.
type seedOrder struct {
	domain.Order
	Transactions []domain.Transaction `json:"transactions"`
}

// seed loads the orders fixture into an empty database. The orders table
// belongs to the order service; this exists for local runs.
func (a *app) seed(ctx context.Context) error {
	path := a.cfg.Seed.OrdersPath
	if path == "" {
		return nil
	}

	count, err := a.orders.Count(ctx)
	if err != nil {
		return fmt.Errorf("count orders: %w", err)
	}
	if count > 0 {
		a.logger.Info("orders present, skipping seed", zap.Int("orders", count))
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	var fixtures []seedOrder
	if err := json.Unmarshal(data, &fixtures); err != nil {
		return fmt.Errorf("unmarshal %s: %w", path, err)
	}

	var txns int
	for i := range fixtures {
		o := &fixtures[i].Order
		if err := a.orders.Insert(ctx, o); err != nil {
			return err
		}
		for _, t := range fixtures[i].Transactions {
			t.OrderID = o.ID
			if err := a.ledger.Insert(ctx, &t); err != nil {
				return err
			}
			txns++
		}
	}

	a.logger.Info("seeded orders", zap.String("path", path), zap.Int("orders", len(fixtures)), zap.Int("transactions", txns))
	return nil
}
