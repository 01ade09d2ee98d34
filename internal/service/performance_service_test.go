package service_test

import (
	"errors"
	"math"
	"testing"

	"github.com/avandermeer/portfolio-analytics/internal/apperrors"
	"github.com/avandermeer/portfolio-analytics/internal/model"
	"github.com/avandermeer/portfolio-analytics/internal/service"
	"github.com/avandermeer/portfolio-analytics/internal/testutil"
)

func dailyValue(day int, total, flow float64) model.PortfolioDailyValue {
	return model.PortfolioDailyValue{
		Date:        testutil.Date(2024, 1, day),
		TotalValue:  total,
		NetCashFlow: flow,
	}
}

// TestPerformanceService_TimeWeightedReturn tests flow-adjusted geometric
// linking.
//
// WHY: The whole point of TWR is that deposits and withdrawals do not move the
// number. A series with a large mid-period deposit must report exactly the
// market return, and scaling every value by a constant must change nothing.
func TestPerformanceService_TimeWeightedReturn(t *testing.T) {
	svc := service.NewPerformanceService(nil, 0.02)

	t.Run("links daily returns geometrically", func(t *testing.T) {
		series := []model.PortfolioDailyValue{
			dailyValue(1, 1000, 0),
			dailyValue(2, 1100, 0),
			dailyValue(3, 990, 0),
		}

		result, err := svc.TimeWeightedReturn(series)
		if err != nil {
			t.Fatalf("TimeWeightedReturn() returned unexpected error: %v", err)
		}

		// +10% then -10% links to -1%, not 0.
		if math.Abs(result.TWR-(-0.01)) > 1e-12 {
			t.Errorf("Expected TWR -0.01, got %v", result.TWR)
		}
		if result.DailyCount != 2 {
			t.Errorf("Expected 2 linked returns, got %d", result.DailyCount)
		}
	})

	t.Run("external flows do not move the return", func(t *testing.T) {
		// Market gains 10% both days; a 5000 deposit lands on day two.
		series := []model.PortfolioDailyValue{
			dailyValue(1, 1000, 0),
			dailyValue(2, 6600, 5000),
			dailyValue(3, 7260, 0),
		}

		result, err := svc.TimeWeightedReturn(series)
		if err != nil {
			t.Fatalf("TimeWeightedReturn() returned unexpected error: %v", err)
		}
		if math.Abs(result.TWR-0.21) > 1e-9 {
			t.Errorf("Expected TWR 0.21, got %v", result.TWR)
		}
	})

	t.Run("invariant to the unit scale of the series", func(t *testing.T) {
		small := []model.PortfolioDailyValue{
			dailyValue(1, 100, 0),
			dailyValue(2, 103, 0),
			dailyValue(3, 101, 0),
			dailyValue(4, 108, 0),
		}
		big := make([]model.PortfolioDailyValue, len(small))
		for i, v := range small {
			v.TotalValue *= 1e6
			big[i] = v
		}

		a, err := svc.TimeWeightedReturn(small)
		if err != nil {
			t.Fatalf("TimeWeightedReturn() returned unexpected error: %v", err)
		}
		b, err := svc.TimeWeightedReturn(big)
		if err != nil {
			t.Fatalf("TimeWeightedReturn() returned unexpected error: %v", err)
		}

		if math.Abs(a.TWR-b.TWR) > 1e-12 {
			t.Errorf("TWR is scale dependent: %v vs %v", a.TWR, b.TWR)
		}
		if math.Abs(a.Volatility-b.Volatility) > 1e-12 {
			t.Errorf("Volatility is scale dependent: %v vs %v", a.Volatility, b.Volatility)
		}
	})

	t.Run("skips days with a non-positive denominator", func(t *testing.T) {
		// The 2000 withdrawal on day two drives the denominator negative.
		series := []model.PortfolioDailyValue{
			dailyValue(1, 1000, 0),
			dailyValue(2, 50, -2000),
			dailyValue(3, 55, 0),
		}

		result, err := svc.TimeWeightedReturn(series)
		if err != nil {
			t.Fatalf("TimeWeightedReturn() returned unexpected error: %v", err)
		}
		if result.DailyCount != 1 {
			t.Errorf("Expected 1 linked return after the skip, got %d", result.DailyCount)
		}
		if math.Abs(result.TWR-0.10) > 1e-9 {
			t.Errorf("Expected TWR 0.10 from the surviving day, got %v", result.TWR)
		}
	})

	t.Run("fewer than two points is insufficient data", func(t *testing.T) {
		_, err := svc.TimeWeightedReturn([]model.PortfolioDailyValue{dailyValue(1, 1000, 0)})
		if !errors.Is(err, apperrors.ErrInsufficientData) {
			t.Fatalf("Expected ErrInsufficientData, got %v", err)
		}
	})

	t.Run("zero volatility reports zero sharpe", func(t *testing.T) {
		series := []model.PortfolioDailyValue{
			dailyValue(1, 1000, 0),
			dailyValue(2, 1000, 0),
			dailyValue(3, 1000, 0),
		}

		result, err := svc.TimeWeightedReturn(series)
		if err != nil {
			t.Fatalf("TimeWeightedReturn() returned unexpected error: %v", err)
		}
		if result.Volatility != 0 {
			t.Errorf("Expected zero volatility, got %v", result.Volatility)
		}
		if result.Sharpe != 0 {
			t.Errorf("Sharpe must be 0 when volatility is 0, got %v", result.Sharpe)
		}
	})
}

// TestSolveIRR tests the Newton-Raphson money-weighted solver.
func TestSolveIRR(t *testing.T) {
	t.Run("converges with near-zero npv at the solution", func(t *testing.T) {
		// Invest 1000, withdraw 1100 one year later: IRR is exactly 10%.
		flows := []service.CashFlow{
			{DayOffset: 0, Amount: 1000},
			{DayOffset: 365, Amount: -1100},
		}

		result, err := service.SolveIRR(flows)
		if err != nil {
			t.Fatalf("SolveIRR() returned unexpected error: %v", err)
		}
		if !result.Converged {
			t.Fatal("Expected convergence")
		}
		if math.Abs(result.Rate-0.10) > 1e-6 {
			t.Errorf("Expected rate 0.10, got %v", result.Rate)
		}
		if math.Abs(result.NPV) >= 1e-6 {
			t.Errorf("NPV at the solution should be below tolerance, got %v", result.NPV)
		}
	})

	t.Run("handles intermediate flows", func(t *testing.T) {
		flows := []service.CashFlow{
			{DayOffset: 0, Amount: 10000},
			{DayOffset: 182, Amount: 2000},
			{DayOffset: 365, Amount: -13000},
		}

		result, err := service.SolveIRR(flows)
		if err != nil {
			t.Fatalf("SolveIRR() returned unexpected error: %v", err)
		}
		if !result.Converged {
			t.Fatal("Expected convergence")
		}
		if result.Rate <= 0 || result.Rate >= 0.20 {
			t.Errorf("Rate outside the plausible band: %v", result.Rate)
		}
	})

	t.Run("reports non-convergence with the best estimate", func(t *testing.T) {
		// All inflows: NPV is positive at every rate, there is no root.
		flows := []service.CashFlow{
			{DayOffset: 0, Amount: 1000},
			{DayOffset: 365, Amount: 1000},
		}

		result, err := service.SolveIRR(flows)
		if !errors.Is(err, apperrors.ErrConvergence) {
			t.Fatalf("Expected ErrConvergence, got %v", err)
		}
		if result.Converged {
			t.Error("Converged flag must be false on failure")
		}
		if result.Iterations == 0 {
			t.Error("Expected the iteration count of the attempt")
		}
	})

	t.Run("fewer than two flows is insufficient data", func(t *testing.T) {
		_, err := service.SolveIRR([]service.CashFlow{{DayOffset: 0, Amount: 1000}})
		if !errors.Is(err, apperrors.ErrInsufficientData) {
			t.Fatalf("Expected ErrInsufficientData, got %v", err)
		}
	})
}

// TestPerformanceService_MoneyWeightedReturn tests the series-to-flows bridge
// against a stored daily value series.
func TestPerformanceService_MoneyWeightedReturn(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := testutil.NewServices(t, db)

	portfolio := testutil.CreatePortfolio(t, db, "MWR", "USD")
	pack := testutil.NewPack(testutil.Date(2024, 1, 1)).Build(t, db)

	// 10000 grows to 11000 over a year with no flows: IRR matches TWR.
	testutil.CreateDailyValue(t, db, portfolio.ID, pack.ID, testutil.Date(2024, 1, 1), 10000, 0)
	testutil.CreateDailyValue(t, db, portfolio.ID, pack.ID, testutil.Date(2024, 6, 1), 10400, 0)
	testutil.CreateDailyValue(t, db, portfolio.ID, pack.ID, testutil.Date(2024, 12, 31), 11000, 0)

	result, err := svc.Performance.MoneyWeightedReturn(portfolio.ID,
		testutil.Date(2024, 1, 1), testutil.Date(2024, 12, 31))
	if err != nil {
		t.Fatalf("MoneyWeightedReturn() returned unexpected error: %v", err)
	}
	if !result.Converged {
		t.Fatal("Expected convergence")
	}
	if math.Abs(result.Rate-0.10) > 0.01 {
		t.Errorf("Expected rate near 0.10 over one year, got %v", result.Rate)
	}
}

// TestPerformanceService_MaxDrawdown tests peak-to-trough tracking.
func TestPerformanceService_MaxDrawdown(t *testing.T) {
	svc := service.NewPerformanceService(nil, 0.02)

	t.Run("finds the deepest decline and its recovery", func(t *testing.T) {
		series := []model.PortfolioDailyValue{
			dailyValue(1, 100, 0),
			dailyValue(2, 90, 0),
			dailyValue(3, 80, 0),
			dailyValue(4, 95, 0),
			dailyValue(5, 110, 0),
		}

		result, err := svc.MaxDrawdown(series)
		if err != nil {
			t.Fatalf("MaxDrawdown() returned unexpected error: %v", err)
		}

		if math.Abs(result.MaxDrawdown-(-0.20)) > 1e-12 {
			t.Errorf("Expected drawdown -0.20, got %v", result.MaxDrawdown)
		}
		if !result.TroughDate.Equal(testutil.Date(2024, 1, 3)) {
			t.Errorf("Expected trough on day 3, got %v", result.TroughDate)
		}
		if result.RecoveryDays != 2 {
			t.Errorf("Expected recovery 2 days after the trough, got %d", result.RecoveryDays)
		}
	})

	t.Run("unrecovered drawdown reports -1", func(t *testing.T) {
		series := []model.PortfolioDailyValue{
			dailyValue(1, 100, 0),
			dailyValue(2, 70, 0),
			dailyValue(3, 85, 0),
		}

		result, err := svc.MaxDrawdown(series)
		if err != nil {
			t.Fatalf("MaxDrawdown() returned unexpected error: %v", err)
		}
		if math.Abs(result.MaxDrawdown-(-0.30)) > 1e-12 {
			t.Errorf("Expected drawdown -0.30, got %v", result.MaxDrawdown)
		}
		if result.RecoveryDays != -1 {
			t.Errorf("Expected recovery sentinel -1, got %d", result.RecoveryDays)
		}
	})

	t.Run("monotonic series has zero drawdown", func(t *testing.T) {
		series := []model.PortfolioDailyValue{
			dailyValue(1, 100, 0),
			dailyValue(2, 105, 0),
			dailyValue(3, 112, 0),
		}

		result, err := svc.MaxDrawdown(series)
		if err != nil {
			t.Fatalf("MaxDrawdown() returned unexpected error: %v", err)
		}
		if result.MaxDrawdown != 0 {
			t.Errorf("Expected zero drawdown, got %v", result.MaxDrawdown)
		}
	})
}

// TestPerformanceService_CalculatePerformance tests the repository-backed
// entry point.
func TestPerformanceService_CalculatePerformance(t *testing.T) {
	t.Run("rejects an inverted date range", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		svc := testutil.NewServices(t, db)

		_, err := svc.Performance.CalculatePerformance("any",
			testutil.Date(2024, 6, 1), testutil.Date(2024, 1, 1))
		if !errors.Is(err, apperrors.ErrInvalidDateRange) {
			t.Fatalf("Expected ErrInvalidDateRange, got %v", err)
		}
	})

	t.Run("computes over the stored series", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		svc := testutil.NewServices(t, db)

		portfolio := testutil.CreatePortfolio(t, db, "Stored", "USD")
		pack := testutil.NewPack(testutil.Date(2024, 1, 1)).Build(t, db)

		testutil.CreateDailyValue(t, db, portfolio.ID, pack.ID, testutil.Date(2024, 1, 1), 1000, 0)
		testutil.CreateDailyValue(t, db, portfolio.ID, pack.ID, testutil.Date(2024, 1, 2), 1050, 0)
		testutil.CreateDailyValue(t, db, portfolio.ID, pack.ID, testutil.Date(2024, 1, 3), 1103, 0)

		result, err := svc.Performance.CalculatePerformance(portfolio.ID,
			testutil.Date(2024, 1, 1), testutil.Date(2024, 1, 3))
		if err != nil {
			t.Fatalf("CalculatePerformance() returned unexpected error: %v", err)
		}
		if math.Abs(result.TWR-0.103) > 1e-9 {
			t.Errorf("Expected TWR 0.103, got %v", result.TWR)
		}
		if result.Days != 2 {
			t.Errorf("Expected 2 calendar days, got %d", result.Days)
		}
	})
}
