package service

import (
	"fmt"
	"math"
	"time"

	"github.com/avandermeer/portfolio-analytics/internal/apperrors"
	"github.com/avandermeer/portfolio-analytics/internal/model"
	"github.com/avandermeer/portfolio-analytics/internal/repository"
)

const (
	tradingDaysPerYear = 252
	irrInitialGuess    = 0.10
	irrTolerance       = 1e-6
	irrMaxIterations   = 100
)

// PerformanceResult holds the time-weighted metrics for one value series.
type PerformanceResult struct {
	StartDate  time.Time
	EndDate    time.Time
	Days       int     // calendar days covered by the series
	TWR        float64 // geometric-linked period return
	Annualized float64
	Volatility float64 // annualized sample stddev of daily returns
	Sharpe     float64
	DailyCount int // daily returns actually linked (skips excluded)
}

// CashFlow is one dated external flow for the money-weighted calculation,
// keyed by day offset from the start of the period.
type CashFlow struct {
	DayOffset int
	Amount    float64
}

// IRRResult reports the money-weighted return solve. Callers must check
// Converged: when false, Rate is the solver's best last estimate, not an
// answer.
type IRRResult struct {
	Rate       float64
	Converged  bool
	Iterations int
	NPV        float64 // at the returned rate
}

// DrawdownResult reports the deepest peak-to-trough loss of a value series.
// RecoveryDays is -1 when the series ends before regaining the prior peak.
type DrawdownResult struct {
	MaxDrawdown  float64 // most negative drawdown, e.g. -0.20
	TroughDate   time.Time
	RecoveryDays int
}

// PerformanceService computes time-weighted and money-weighted returns, risk
// and drawdown metrics from portfolio daily value series.
type PerformanceService struct {
	valueRepo    *repository.PortfolioValueRepository
	riskFreeRate float64
}

// NewPerformanceService creates a new PerformanceService with the provided
// repository dependencies.
func NewPerformanceService(valueRepo *repository.PortfolioValueRepository, riskFreeRate float64) *PerformanceService {
	return &PerformanceService{
		valueRepo:    valueRepo,
		riskFreeRate: riskFreeRate,
	}
}

// CalculatePerformance loads the portfolio's daily value series for the range
// and computes time-weighted metrics over it.
func (s *PerformanceService) CalculatePerformance(portfolioID string, startDate, endDate time.Time) (PerformanceResult, error) {
	if endDate.Before(startDate) {
		return PerformanceResult{}, fmt.Errorf("%s to %s: %w",
			startDate.Format("2006-01-02"), endDate.Format("2006-01-02"), apperrors.ErrInvalidDateRange)
	}

	series, err := s.valueRepo.GetSeries(portfolioID, startDate, endDate)
	if err != nil {
		return PerformanceResult{}, err
	}

	return s.TimeWeightedReturn(series)
}

// TimeWeightedReturn geometrically links daily returns over the series.
//
// Each day's return is (V_i - V_{i-1} - CF_i) / (V_{i-1} + CF_i); days whose
// denominator is not positive are skipped rather than treated as errors, the
// only local recovery this calculator permits. The result is invariant to the
// unit scale of the series. Fewer than two observations is InsufficientData.
func (s *PerformanceService) TimeWeightedReturn(series []model.PortfolioDailyValue) (PerformanceResult, error) {
	if len(series) < 2 {
		return PerformanceResult{}, fmt.Errorf("need at least 2 daily values, have %d: %w",
			len(series), apperrors.ErrInsufficientData)
	}

	returns := dailyReturns(series)

	linked := 1.0
	for _, r := range returns {
		linked *= 1 + r
	}
	twr := linked - 1

	result := PerformanceResult{
		StartDate:  series[0].Date,
		EndDate:    series[len(series)-1].Date,
		TWR:        twr,
		DailyCount: len(returns),
	}
	result.Days = int(result.EndDate.Sub(result.StartDate).Hours() / 24)

	if result.Days > 0 {
		result.Annualized = math.Pow(1+twr, 365/float64(result.Days)) - 1
	} else {
		result.Annualized = twr
	}

	result.Volatility = annualizedVolatility(returns)
	if result.Volatility > 0 {
		result.Sharpe = (result.Annualized - s.riskFreeRate) / result.Volatility
	}

	return result, nil
}

// dailyReturns computes flow-adjusted daily returns, skipping days with a
// non-positive denominator.
func dailyReturns(series []model.PortfolioDailyValue) []float64 {
	var returns []float64
	for i := 1; i < len(series); i++ {
		denominator := series[i-1].TotalValue + series[i].NetCashFlow
		if denominator <= 0 {
			continue
		}
		returns = append(returns, (series[i].TotalValue-series[i-1].TotalValue-series[i].NetCashFlow)/denominator)
	}
	return returns
}

// annualizedVolatility is the sample standard deviation of daily returns
// scaled by sqrt(252).
func annualizedVolatility(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}

	var sum float64
	for _, r := range returns {
		sum += r
	}
	mean := sum / float64(len(returns))

	var variance float64
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns) - 1)

	return math.Sqrt(variance) * math.Sqrt(tradingDaysPerYear)
}

// MoneyWeightedReturn solves for the annual rate at which the net present
// value of the portfolio's dated flows is zero, with the terminal value
// appended as a negative flow at the final offset.
func (s *PerformanceService) MoneyWeightedReturn(portfolioID string, startDate, endDate time.Time) (IRRResult, error) {
	series, err := s.valueRepo.GetSeries(portfolioID, startDate, endDate)
	if err != nil {
		return IRRResult{}, err
	}
	if len(series) < 2 {
		return IRRResult{}, fmt.Errorf("need at least 2 daily values, have %d: %w",
			len(series), apperrors.ErrInsufficientData)
	}

	start := series[0].Date
	var flows []CashFlow

	// The opening value is the first "investment".
	flows = append(flows, CashFlow{DayOffset: 0, Amount: series[0].TotalValue})
	for _, v := range series[1:] {
		if v.NetCashFlow != 0 {
			flows = append(flows, CashFlow{
				DayOffset: int(v.Date.Sub(start).Hours() / 24),
				Amount:    v.NetCashFlow,
			})
		}
	}

	last := series[len(series)-1]
	flows = append(flows, CashFlow{
		DayOffset: int(last.Date.Sub(start).Hours() / 24),
		Amount:    -last.TotalValue,
	})

	return SolveIRR(flows)
}

// SolveIRR runs Newton-Raphson on the NPV function of the flow series.
// Iteration is explicitly bounded; on failure the result carries the best last
// estimate and Converged=false; the caller decides whether to retry with a
// different seed.
func SolveIRR(flows []CashFlow) (IRRResult, error) {
	if len(flows) < 2 {
		return IRRResult{}, fmt.Errorf("need at least 2 cash flows, have %d: %w",
			len(flows), apperrors.ErrInsufficientData)
	}

	rate := irrInitialGuess
	result := IRRResult{}

	for i := 0; i < irrMaxIterations; i++ {
		result.Iterations = i + 1

		npv, derivative := npvAndDerivative(flows, rate)
		result.Rate = rate
		result.NPV = npv

		if math.Abs(npv) < irrTolerance {
			result.Converged = true
			return result, nil
		}

		if derivative == 0 || math.IsNaN(derivative) || math.IsInf(derivative, 0) {
			break
		}

		next := rate - npv/derivative
		// A rate at or below -100% has no meaning for discounting; clamp the
		// step instead of letting the iteration blow up.
		if next <= -1 {
			next = (rate - 1) / 2
		}
		rate = next
	}

	return result, fmt.Errorf("irr after %d iterations (last estimate %.6f): %w",
		result.Iterations, result.Rate, apperrors.ErrConvergence)
}

func npvAndDerivative(flows []CashFlow, rate float64) (float64, float64) {
	var npv, derivative float64
	for _, cf := range flows {
		t := float64(cf.DayOffset) / 365.0
		discount := math.Pow(1+rate, t)
		npv += cf.Amount / discount
		derivative -= cf.Amount * t / (discount * (1 + rate))
	}
	return npv, derivative
}

// MaxDrawdown finds the deepest peak-to-trough decline in the series and how
// long the recovery to the prior peak took.
func (s *PerformanceService) MaxDrawdown(series []model.PortfolioDailyValue) (DrawdownResult, error) {
	if len(series) < 2 {
		return DrawdownResult{}, fmt.Errorf("need at least 2 daily values, have %d: %w",
			len(series), apperrors.ErrInsufficientData)
	}

	result := DrawdownResult{RecoveryDays: -1}

	runningMax := series[0].TotalValue
	peakAtTrough := runningMax
	troughIndex := -1

	for i, v := range series {
		if v.TotalValue > runningMax {
			runningMax = v.TotalValue
		}
		if runningMax <= 0 {
			continue
		}

		drawdown := (v.TotalValue - runningMax) / runningMax
		if drawdown < result.MaxDrawdown {
			result.MaxDrawdown = drawdown
			result.TroughDate = v.Date
			peakAtTrough = runningMax
			troughIndex = i
		}
	}

	if troughIndex >= 0 {
		for _, v := range series[troughIndex+1:] {
			if v.TotalValue >= peakAtTrough {
				result.RecoveryDays = int(v.Date.Sub(series[troughIndex].Date).Hours() / 24)
				break
			}
		}
	}

	return result, nil
}
