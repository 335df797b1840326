package repository

import (
	"context"
	"math"
	"testing"

	"algotrader/src/model"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestApplyFillBuyReaverages(t *testing.T) {
	db := newSQLiteDB(t)
	repo := NewPortfolioRepository().WithDB(db)
	ctx := context.Background()

	loss, err := repo.ApplyFill(ctx, 1, "RELIANCE", model.OrderSideBuy, 10, 2500)
	if err != nil {
		t.Fatalf("first buy: %v", err)
	}
	if loss != 0 {
		t.Errorf("buy must not realize a loss, got %v", loss)
	}

	if _, err := repo.ApplyFill(ctx, 1, "RELIANCE", model.OrderSideBuy, 10, 2600); err != nil {
		t.Fatalf("second buy: %v", err)
	}

	pos, err := repo.PositionFor(ctx, 1, "RELIANCE")
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	if pos.Quantity != 20 {
		t.Errorf("quantity = %d, want 20", pos.Quantity)
	}
	if !almostEqual(pos.AvgEntryPrice, 2550) {
		t.Errorf("avg entry = %v, want 2550", pos.AvgEntryPrice)
	}
}

func TestApplyFillSellRealizesLoss(t *testing.T) {
	db := newSQLiteDB(t)
	repo := NewPortfolioRepository().WithDB(db)
	ctx := context.Background()

	if _, err := repo.ApplyFill(ctx, 1, "TCS", model.OrderSideBuy, 10, 4000); err != nil {
		t.Fatalf("buy: %v", err)
	}

	loss, err := repo.ApplyFill(ctx, 1, "TCS", model.OrderSideSell, 4, 3900)
	if err != nil {
		t.Fatalf("sell: %v", err)
	}
	if !almostEqual(loss, 400) {
		t.Errorf("realized loss = %v, want 400", loss)
	}

	pos, err := repo.PositionFor(ctx, 1, "TCS")
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	if pos.Quantity != 6 {
		t.Errorf("quantity = %d, want 6", pos.Quantity)
	}
	if !almostEqual(pos.RealizedPnl, -400) {
		t.Errorf("realized pnl = %v, want -400", pos.RealizedPnl)
	}
}

func TestApplyFillSellAtProfit(t *testing.T) {
	db := newSQLiteDB(t)
	repo := NewPortfolioRepository().WithDB(db)
	ctx := context.Background()

	if _, err := repo.ApplyFill(ctx, 1, "SBIN", model.OrderSideBuy, 5, 800); err != nil {
		t.Fatalf("buy: %v", err)
	}

	loss, err := repo.ApplyFill(ctx, 1, "SBIN", model.OrderSideSell, 5, 850)
	if err != nil {
		t.Fatalf("sell: %v", err)
	}
	if loss != 0 {
		t.Errorf("profitable sell must report zero loss, got %v", loss)
	}

	pos, err := repo.PositionFor(ctx, 1, "SBIN")
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	if pos.Quantity != 0 {
		t.Errorf("quantity = %d, want 0", pos.Quantity)
	}
	if pos.AvgEntryPrice != 0 {
		t.Errorf("flat position must reset avg entry, got %v", pos.AvgEntryPrice)
	}
	if !almostEqual(pos.RealizedPnl, 250) {
		t.Errorf("realized pnl = %v, want 250", pos.RealizedPnl)
	}
}

func TestApplyFillOversellFloorsAtZero(t *testing.T) {
	db := newSQLiteDB(t)
	repo := NewPortfolioRepository().WithDB(db)
	ctx := context.Background()

	if _, err := repo.ApplyFill(ctx, 1, "INFY", model.OrderSideBuy, 3, 1500); err != nil {
		t.Fatalf("buy: %v", err)
	}

	// Selling more than held only realizes PnL on the held quantity.
	loss, err := repo.ApplyFill(ctx, 1, "INFY", model.OrderSideSell, 10, 1400)
	if err != nil {
		t.Fatalf("sell: %v", err)
	}
	if !almostEqual(loss, 300) {
		t.Errorf("realized loss = %v, want 300", loss)
	}

	pos, err := repo.PositionFor(ctx, 1, "INFY")
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	if pos.Quantity != 0 {
		t.Errorf("quantity = %d, want 0", pos.Quantity)
	}
}

func TestPositionForZeroValuedWhenMissing(t *testing.T) {
	db := newSQLiteDB(t)
	repo := NewPortfolioRepository().WithDB(db)

	pos, err := repo.PositionFor(context.Background(), 42, "HDFC")
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	if pos.Quantity != 0 || pos.AvgEntryPrice != 0 {
		t.Errorf("expected zero position, got %+v", pos)
	}
	if pos.UserID != 42 || pos.Symbol != "HDFC" {
		t.Errorf("zero position must carry the lookup key, got %+v", pos)
	}
}
