package service_test

import (
	"errors"
	"testing"

	"github.com/avandermeer/portfolio-analytics/internal/apperrors"
	"github.com/avandermeer/portfolio-analytics/internal/repository"
	"github.com/avandermeer/portfolio-analytics/internal/testutil"
)

// TestValuationService_OpenLot tests trade-date FX locking.
//
// WHY: The locked rate is the anchor for every later currency-attribution
// number; locking the wrong date's rate corrupts attribution forever.
func TestValuationService_OpenLot(t *testing.T) {
	t.Run("locks the trade-date rate into the lot", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		svc := testutil.NewServices(t, db)

		portfolio := testutil.CreatePortfolio(t, db, "Locking", "USD")
		sec := testutil.NewSecurity().WithCurrency("CAD").Build(t, db)

		tradeDate := testutil.Date(2024, 1, 10)
		testutil.CreateFXObservation(t, db, "CAD", "USD", tradeDate, testutil.Dec(t, "0.74"))
		testutil.CreateFXObservation(t, db, "CAD", "USD", testutil.Date(2024, 1, 11), testutil.Dec(t, "0.99"))

		lot, err := svc.Valuation.OpenLot(portfolio.ID, sec.ID, tradeDate,
			testutil.Dec(t, "100"), testutil.Dec(t, "150"))
		if err != nil {
			t.Fatalf("OpenLot() returned unexpected error: %v", err)
		}

		if !lot.TradeFX.Equal(testutil.Dec(t, "0.74")) {
			t.Errorf("Expected locked trade FX 0.74, got %s", lot.TradeFX)
		}
		if !lot.CostBasisLocal.Equal(testutil.Dec(t, "15000")) {
			t.Errorf("Expected local basis 15000, got %s", lot.CostBasisLocal)
		}
		if !lot.CostBasisBase.Equal(testutil.Dec(t, "11100")) {
			t.Errorf("Expected base basis 15000*0.74, got %s", lot.CostBasisBase)
		}
	})

	t.Run("fails when the trade date has no rate", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		svc := testutil.NewServices(t, db)

		portfolio := testutil.CreatePortfolio(t, db, "NoRate", "USD")
		sec := testutil.NewSecurity().WithCurrency("CAD").Build(t, db)

		_, err := svc.Valuation.OpenLot(portfolio.ID, sec.ID, testutil.Date(2024, 1, 10),
			testutil.Dec(t, "100"), testutil.Dec(t, "150"))
		if !errors.Is(err, apperrors.ErrRateNotFound) {
			t.Fatalf("Expected ErrRateNotFound, got %v", err)
		}
	})

	t.Run("rejects non-positive quantity", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		svc := testutil.NewServices(t, db)

		portfolio := testutil.CreatePortfolio(t, db, "Zero", "USD")
		sec := testutil.NewSecurity().Build(t, db)

		if _, err := svc.Valuation.OpenLot(portfolio.ID, sec.ID, testutil.Date(2024, 1, 10),
			testutil.Dec(t, "0"), testutil.Dec(t, "150")); err == nil {
			t.Fatal("Expected error for zero quantity, got nil")
		}
	})
}

// TestValuationService_ValueLot tests single-pack pricing.
//
// WHY: Price and FX must come from the same pack. Mixing a fresh price with a
// stale rate, or valuing against a half-built pack, produces numbers that look
// plausible and are wrong.
func TestValuationService_ValueLot(t *testing.T) {
	t.Run("values a foreign lot with the pack price and pack rate", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		svc := testutil.NewServices(t, db)

		portfolio := testutil.CreatePortfolio(t, db, "Pricing", "USD")
		sec := testutil.NewSecurity().WithCurrency("CAD").Build(t, db)
		lot := testutil.CreateLot(t, db, portfolio.ID, sec.ID,
			testutil.Date(2024, 1, 10), testutil.Dec(t, "100"), testutil.Dec(t, "150"), testutil.Dec(t, "0.74"))

		// An observation on the valuation date exists but must not be used;
		// only the pack's own rate counts.
		testutil.CreateFXObservation(t, db, "CAD", "USD", testutil.Date(2024, 3, 15), testutil.Dec(t, "0.50"))
		pack := testutil.NewPack(testutil.Date(2024, 3, 15)).
			WithPrice(sec.ID, "175").
			WithFXRate("CAD", "0.80").
			Build(t, db)

		lv, err := svc.Valuation.ValueLot(lot, pack.ID)
		if err != nil {
			t.Fatalf("ValueLot() returned unexpected error: %v", err)
		}

		if !lv.LocalValue.Equal(testutil.Dec(t, "17500")) {
			t.Errorf("Expected local value 17500, got %s", lv.LocalValue)
		}
		if !lv.BaseValue.Equal(testutil.Dec(t, "14000")) {
			t.Errorf("Expected base value 17500*0.80, got %s", lv.BaseValue)
		}
	})

	t.Run("base-currency lot needs no pack rate", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		svc := testutil.NewServices(t, db)

		portfolio := testutil.CreatePortfolio(t, db, "Domestic", "USD")
		sec := testutil.NewSecurity().Build(t, db)
		lot := testutil.CreateLot(t, db, portfolio.ID, sec.ID,
			testutil.Date(2024, 1, 10), testutil.Dec(t, "10"), testutil.Dec(t, "100"), testutil.Dec(t, "1"))

		pack := testutil.NewPack(testutil.Date(2024, 3, 15)).WithPrice(sec.ID, "120").Build(t, db)

		lv, err := svc.Valuation.ValueLot(lot, pack.ID)
		if err != nil {
			t.Fatalf("ValueLot() returned unexpected error: %v", err)
		}
		if !lv.BaseValue.Equal(testutil.Dec(t, "1200")) {
			t.Errorf("Expected base value 1200, got %s", lv.BaseValue)
		}
	})

	t.Run("refuses a pack still building", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		svc := testutil.NewServices(t, db)

		portfolio := testutil.CreatePortfolio(t, db, "Stale", "USD")
		sec := testutil.NewSecurity().Build(t, db)
		lot := testutil.CreateLot(t, db, portfolio.ID, sec.ID,
			testutil.Date(2024, 1, 10), testutil.Dec(t, "10"), testutil.Dec(t, "100"), testutil.Dec(t, "1"))

		pack := testutil.NewPack(testutil.Date(2024, 3, 15)).
			WithPrice(sec.ID, "120").
			Building().
			Build(t, db)

		_, err := svc.Valuation.ValueLot(lot, pack.ID)
		if !errors.Is(err, apperrors.ErrPackNotFresh) {
			t.Fatalf("Expected ErrPackNotFresh, got %v", err)
		}
	})

	t.Run("missing pack price is an error, never a fallback", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		svc := testutil.NewServices(t, db)

		portfolio := testutil.CreatePortfolio(t, db, "Missing", "USD")
		sec := testutil.NewSecurity().Build(t, db)
		lot := testutil.CreateLot(t, db, portfolio.ID, sec.ID,
			testutil.Date(2024, 1, 10), testutil.Dec(t, "10"), testutil.Dec(t, "100"), testutil.Dec(t, "1"))

		pack := testutil.NewPack(testutil.Date(2024, 3, 15)).Build(t, db)

		_, err := svc.Valuation.ValueLot(lot, pack.ID)
		if !errors.Is(err, apperrors.ErrPriceNotFound) {
			t.Fatalf("Expected ErrPriceNotFound, got %v", err)
		}
	})
}

// TestValuationService_ValuePortfolio tests aggregation across currencies.
func TestValuationService_ValuePortfolio(t *testing.T) {
	t.Run("sums base values across mixed currencies", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		svc := testutil.NewServices(t, db)

		portfolio := testutil.CreatePortfolio(t, db, "Mixed", "USD")
		usd := testutil.NewSecurity().Build(t, db)
		cad := testutil.NewSecurity().WithCurrency("CAD").Build(t, db)

		testutil.CreateLot(t, db, portfolio.ID, usd.ID,
			testutil.Date(2024, 1, 10), testutil.Dec(t, "10"), testutil.Dec(t, "100"), testutil.Dec(t, "1"))
		testutil.CreateLot(t, db, portfolio.ID, cad.ID,
			testutil.Date(2024, 1, 10), testutil.Dec(t, "100"), testutil.Dec(t, "150"), testutil.Dec(t, "0.74"))

		pack := testutil.NewPack(testutil.Date(2024, 3, 15)).
			WithPrice(usd.ID, "120").
			WithPrice(cad.ID, "175").
			WithFXRate("CAD", "0.80").
			Build(t, db)

		valuation, err := svc.Valuation.ValuePortfolio(portfolio.ID, pack.ID)
		if err != nil {
			t.Fatalf("ValuePortfolio() returned unexpected error: %v", err)
		}

		if len(valuation.Lots) != 2 {
			t.Fatalf("Expected 2 valued lots, got %d", len(valuation.Lots))
		}
		// 10*120 + 100*175*0.80 = 1200 + 14000.
		if !valuation.TotalBase.Equal(testutil.Dec(t, "15200")) {
			t.Errorf("Expected total 15200, got %s", valuation.TotalBase)
		}
	})

	t.Run("valuation never restates cost basis", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		svc := testutil.NewServices(t, db)

		portfolio := testutil.CreatePortfolio(t, db, "Immutable", "USD")
		sec := testutil.NewSecurity().WithCurrency("CAD").Build(t, db)
		lot := testutil.CreateLot(t, db, portfolio.ID, sec.ID,
			testutil.Date(2024, 1, 10), testutil.Dec(t, "100"), testutil.Dec(t, "150"), testutil.Dec(t, "0.74"))

		pack := testutil.NewPack(testutil.Date(2024, 3, 15)).
			WithPrice(sec.ID, "175").
			WithFXRate("CAD", "0.80").
			Build(t, db)

		if _, err := svc.Valuation.ValuePortfolio(portfolio.ID, pack.ID); err != nil {
			t.Fatalf("ValuePortfolio() returned unexpected error: %v", err)
		}

		stored, err := repository.NewLotRepository(db).GetLot(lot.ID)
		if err != nil {
			t.Fatalf("GetLot() returned unexpected error: %v", err)
		}
		if !stored.TradeFX.Equal(testutil.Dec(t, "0.74")) {
			t.Errorf("Trade FX was restated to %s", stored.TradeFX)
		}
		if !stored.CostBasisBase.Equal(lot.CostBasisBase) {
			t.Errorf("Base cost basis was restated to %s", stored.CostBasisBase)
		}
	})
}

// TestValuationService_SnapshotDailyValue tests the daily series append.
func TestValuationService_SnapshotDailyValue(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := testutil.NewServices(t, db)

	portfolio := testutil.CreatePortfolio(t, db, "Series", "USD")
	sec := testutil.NewSecurity().Build(t, db)
	testutil.CreateLot(t, db, portfolio.ID, sec.ID,
		testutil.Date(2024, 1, 10), testutil.Dec(t, "10"), testutil.Dec(t, "100"), testutil.Dec(t, "1"))

	pack := testutil.NewPack(testutil.Date(2024, 3, 15)).WithPrice(sec.ID, "120").Build(t, db)

	dv, err := svc.Valuation.SnapshotDailyValue(portfolio.ID, pack.ID, 500)
	if err != nil {
		t.Fatalf("SnapshotDailyValue() returned unexpected error: %v", err)
	}
	if dv.TotalValue != 1200 {
		t.Errorf("Expected snapshot value 1200, got %v", dv.TotalValue)
	}
	if dv.NetCashFlow != 500 {
		t.Errorf("Expected net cash flow 500, got %v", dv.NetCashFlow)
	}

	series, err := repository.NewPortfolioValueRepository(db).GetSeries(
		portfolio.ID, testutil.Date(2024, 3, 1), testutil.Date(2024, 3, 31))
	if err != nil {
		t.Fatalf("GetSeries() returned unexpected error: %v", err)
	}
	if len(series) != 1 {
		t.Fatalf("Expected 1 stored daily value, got %d", len(series))
	}
	if series[0].PackID != pack.ID {
		t.Errorf("Stored value references wrong pack: %s", series[0].PackID)
	}
}
