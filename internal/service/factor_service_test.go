package service_test

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/avandermeer/portfolio-analytics/internal/apperrors"
	"github.com/avandermeer/portfolio-analytics/internal/model"
	"github.com/avandermeer/portfolio-analytics/internal/repository"
	"github.com/avandermeer/portfolio-analytics/internal/testutil"
)

// factorValue generates a deterministic, mutually independent series per
// factor so the regression has a well-conditioned design matrix.
func factorValue(factor string, day int) float64 {
	switch factor {
	case "real_rate":
		return 0.010 * math.Sin(float64(day))
	case "inflation_surprise":
		return 0.008 * math.Cos(1.7*float64(day))
	case "credit_spread":
		return 0.005 * math.Sin(2.3*float64(day)+1)
	case "currency_index":
		return 0.004 * math.Cos(3.1*float64(day))
	default:
		return 0.003 * math.Sin(4.3*float64(day)+2)
	}
}

// TestFactorService_Analyze tests the macro factor regression.
//
// WHY: Feeding the regression returns manufactured as an exact linear
// combination of two factors is the one way to verify the solver end to end:
// the fitted betas, alpha and R-squared are all known in advance.
func TestFactorService_Analyze(t *testing.T) {
	const alpha = 0.0002

	buildReturns := func(day int) float64 {
		return alpha + 0.5*factorValue("real_rate", day) + 0.3*factorValue("inflation_surprise", day)
	}

	t.Run("recovers known betas from a synthetic series", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		svc := testutil.NewServices(t, db)

		portfolio := testutil.CreatePortfolio(t, db, "Factors", "USD")

		const days = 80
		start := testutil.Date(2024, 1, 1)
		pack := testutil.NewPack(start.AddDate(0, 0, days-1)).Build(t, db)

		value := 10000.0
		testutil.CreateDailyValue(t, db, portfolio.ID, pack.ID, start, value, 0)
		for day := 1; day < days; day++ {
			date := start.AddDate(0, 0, day)
			value *= 1 + buildReturns(day)
			testutil.CreateDailyValue(t, db, portfolio.ID, pack.ID, date, value, 0)
			for _, factor := range model.FactorNames {
				testutil.CreateFactorObservation(t, db, factor, date, factorValue(factor, day))
			}
		}

		exposure, err := svc.Factor.Analyze(context.Background(), portfolio.ID, pack.ID, 365)
		if err != nil {
			t.Fatalf("Analyze() returned unexpected error: %v", err)
		}

		if exposure.Observations != days-1 {
			t.Errorf("Expected %d aligned observations, got %d", days-1, exposure.Observations)
		}
		if math.Abs(exposure.Betas["real_rate"]-0.5) > 1e-6 {
			t.Errorf("Expected real_rate beta 0.5, got %v", exposure.Betas["real_rate"])
		}
		if math.Abs(exposure.Betas["inflation_surprise"]-0.3) > 1e-6 {
			t.Errorf("Expected inflation_surprise beta 0.3, got %v", exposure.Betas["inflation_surprise"])
		}
		for _, factor := range []string{"credit_spread", "currency_index", "equity_risk_premium"} {
			if math.Abs(exposure.Betas[factor]) > 1e-6 {
				t.Errorf("Expected zero beta for %s, got %v", factor, exposure.Betas[factor])
			}
		}
		if math.Abs(exposure.Alpha-alpha) > 1e-6 {
			t.Errorf("Expected alpha %v, got %v", alpha, exposure.Alpha)
		}
		if exposure.RSquared < 0.9999 {
			t.Errorf("Expected R-squared near 1 on a noiseless series, got %v", exposure.RSquared)
		}
		if exposure.Systematic < 0.99 {
			t.Errorf("Expected near-total systematic share, got %v", exposure.Systematic)
		}

		// The exposure must also be cached for the (portfolio, pack) pair.
		cached, err := repository.NewFactorRepository(db).GetExposure(portfolio.ID, pack.ID)
		if err != nil {
			t.Fatalf("GetExposure() returned unexpected error: %v", err)
		}
		if math.Abs(cached.Betas["real_rate"]-exposure.Betas["real_rate"]) > 1e-9 {
			t.Errorf("Cached beta differs: %v vs %v", cached.Betas["real_rate"], exposure.Betas["real_rate"])
		}
	})

	t.Run("thin series is insufficient data, not a failure", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		svc := testutil.NewServices(t, db)

		portfolio := testutil.CreatePortfolio(t, db, "Thin", "USD")

		const days = 30
		start := testutil.Date(2024, 1, 1)
		pack := testutil.NewPack(start.AddDate(0, 0, days-1)).Build(t, db)

		value := 10000.0
		testutil.CreateDailyValue(t, db, portfolio.ID, pack.ID, start, value, 0)
		for day := 1; day < days; day++ {
			date := start.AddDate(0, 0, day)
			value *= 1 + buildReturns(day)
			testutil.CreateDailyValue(t, db, portfolio.ID, pack.ID, date, value, 0)
			for _, factor := range model.FactorNames {
				testutil.CreateFactorObservation(t, db, factor, date, factorValue(factor, day))
			}
		}

		_, err := svc.Factor.Analyze(context.Background(), portfolio.ID, pack.ID, 365)
		if !errors.Is(err, apperrors.ErrInsufficientData) {
			t.Fatalf("Expected ErrInsufficientData, got %v", err)
		}
	})

	t.Run("dates missing any factor are dropped before fitting", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		svc := testutil.NewServices(t, db)

		portfolio := testutil.CreatePortfolio(t, db, "Gaps", "USD")

		const days = 80
		start := testutil.Date(2024, 1, 1)
		pack := testutil.NewPack(start.AddDate(0, 0, days-1)).Build(t, db)

		// 79 portfolio returns, but factor data stops after 50 of them: the
		// aligned sample falls below the minimum.
		value := 10000.0
		testutil.CreateDailyValue(t, db, portfolio.ID, pack.ID, start, value, 0)
		for day := 1; day < days; day++ {
			date := start.AddDate(0, 0, day)
			value *= 1 + buildReturns(day)
			testutil.CreateDailyValue(t, db, portfolio.ID, pack.ID, date, value, 0)
			if day <= 50 {
				for _, factor := range model.FactorNames {
					testutil.CreateFactorObservation(t, db, factor, date, factorValue(factor, day))
				}
			}
		}

		_, err := svc.Factor.Analyze(context.Background(), portfolio.ID, pack.ID, 365)
		if !errors.Is(err, apperrors.ErrInsufficientData) {
			t.Fatalf("Expected ErrInsufficientData after alignment, got %v", err)
		}
	})

	t.Run("portfolio with no history is insufficient data, not a panic", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		svc := testutil.NewServices(t, db)

		portfolio := testutil.CreatePortfolio(t, db, "Fresh", "USD")
		pack := testutil.NewPack(testutil.Date(2024, 3, 15)).Build(t, db)

		_, err := svc.Factor.Analyze(context.Background(), portfolio.ID, pack.ID, 365)
		if !errors.Is(err, apperrors.ErrInsufficientData) {
			t.Fatalf("Expected ErrInsufficientData for an empty series, got %v", err)
		}
	})

	t.Run("honors a cancelled context", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		svc := testutil.NewServices(t, db)

		portfolio := testutil.CreatePortfolio(t, db, "Cancelled", "USD")
		pack := testutil.NewPack(testutil.Date(2024, 3, 15)).Build(t, db)
		testutil.CreateDailyValue(t, db, portfolio.ID, pack.ID, testutil.Date(2024, 3, 14), 10000, 0)
		testutil.CreateDailyValue(t, db, portfolio.ID, pack.ID, testutil.Date(2024, 3, 15), 10050, 0)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := svc.Factor.Analyze(ctx, portfolio.ID, pack.ID, 365)
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Expected context.Canceled, got %v", err)
		}
	})
}

// TestFactorService_Prewarm tests the bounded batch run.
//
// WHY: One portfolio's thin series or failure must never abort the batch; the
// report is the only place that knowledge surfaces.
func TestFactorService_Prewarm(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := testutil.NewServices(t, db)

	rich := testutil.CreatePortfolio(t, db, "Rich", "USD")
	poor := testutil.CreatePortfolio(t, db, "Poor", "USD")
	// A portfolio with no valuation history at all must also only be skipped.
	testutil.CreatePortfolio(t, db, "Untouched", "USD")

	const days = 80
	start := testutil.Date(2024, 1, 1)
	pack := testutil.NewPack(start.AddDate(0, 0, days-1)).Build(t, db)

	returns := func(day int) float64 {
		return 0.5*factorValue("real_rate", day) + 0.3*factorValue("inflation_surprise", day)
	}

	richValue, poorValue := 10000.0, 5000.0
	testutil.CreateDailyValue(t, db, rich.ID, pack.ID, start, richValue, 0)
	for day := 1; day < days; day++ {
		date := start.AddDate(0, 0, day)
		richValue *= 1 + returns(day)
		testutil.CreateDailyValue(t, db, rich.ID, pack.ID, date, richValue, 0)
		for _, factor := range model.FactorNames {
			testutil.CreateFactorObservation(t, db, factor, date, factorValue(factor, day))
		}

		// The poor portfolio only has ten days of history.
		if day >= days-10 {
			poorValue *= 1 + returns(day)
			testutil.CreateDailyValue(t, db, poor.ID, pack.ID, date, poorValue, 0)
		}
	}

	report, err := svc.Factor.Prewarm(context.Background(), pack.ID, 365)
	if err != nil {
		t.Fatalf("Prewarm() returned unexpected error: %v", err)
	}

	if report.Computed != 1 {
		t.Errorf("Expected 1 computed exposure, got %d", report.Computed)
	}
	if report.Skipped != 2 {
		t.Errorf("Expected 2 skipped portfolios, got %d", report.Skipped)
	}
	if len(report.Failures) != 0 {
		t.Errorf("Expected no failures, got %v", report.Failures)
	}

	if _, err := repository.NewFactorRepository(db).GetExposure(rich.ID, pack.ID); err != nil {
		t.Errorf("Expected a cached exposure for the rich portfolio: %v", err)
	}
}
