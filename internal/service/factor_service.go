package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/avandermeer/portfolio-analytics/internal/apperrors"
	"github.com/avandermeer/portfolio-analytics/internal/model"
	"github.com/avandermeer/portfolio-analytics/internal/repository"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// minFactorObservations is the smallest aligned sample the regression accepts.
const minFactorObservations = 60

// defaultLookbackDays covers roughly one trading year of calendar days.
const defaultLookbackDays = 365

// PrewarmFailure records one portfolio whose regression failed during a batch.
type PrewarmFailure struct {
	PortfolioID string
	Err         string
}

// PrewarmReport summarizes a batch regression run over many portfolios.
type PrewarmReport struct {
	PackID   string
	Computed int
	Skipped  int // thin series, expected for young portfolios
	Failures []PrewarmFailure
}

// FactorService regresses portfolio daily returns against the fixed macro
// factor set and caches the resulting exposures per pricing pack.
type FactorService struct {
	valueRepo     *repository.PortfolioValueRepository
	factorRepo    *repository.FactorRepository
	portfolioRepo *repository.PortfolioRepository
	packRepo      *repository.PricingPackRepository
	workers       int
	taskTimeout   time.Duration
}

// NewFactorService creates a new FactorService with the provided dependencies.
// workers bounds the pre-warm fan-out; taskTimeout caps each portfolio's
// regression inside a batch.
func NewFactorService(
	valueRepo *repository.PortfolioValueRepository,
	factorRepo *repository.FactorRepository,
	portfolioRepo *repository.PortfolioRepository,
	packRepo *repository.PricingPackRepository,
	workers int,
	taskTimeout time.Duration,
) *FactorService {
	if workers < 1 {
		workers = 1
	}
	return &FactorService{
		valueRepo:     valueRepo,
		factorRepo:    factorRepo,
		portfolioRepo: portfolioRepo,
		packRepo:      packRepo,
		workers:       workers,
		taskTimeout:   taskTimeout,
	}
}

// Analyze regresses the portfolio's daily returns over the lookback window
// ending at the pack's as-of date against the macro factor set, caches the
// exposure for (portfolio, pack), and returns it.
//
// Dates missing any factor observation are dropped before fitting. Fewer than
// 60 aligned observations is InsufficientData, a typed result for thin
// series, not an operational failure.
func (s *FactorService) Analyze(ctx context.Context, portfolioID, packID string, lookbackDays int) (model.FactorExposure, error) {
	if lookbackDays <= 0 {
		lookbackDays = defaultLookbackDays
	}

	pack, err := s.packRepo.GetPack(packID)
	if err != nil {
		return model.FactorExposure{}, err
	}

	endDate := pack.AsOf
	startDate := endDate.AddDate(0, 0, -lookbackDays)

	series, err := s.valueRepo.GetSeries(portfolioID, startDate, endDate)
	if err != nil {
		return model.FactorExposure{}, err
	}
	if len(series) < 2 {
		return model.FactorExposure{}, fmt.Errorf("portfolio %s: %d daily values, need at least 2: %w",
			portfolioID, len(series), apperrors.ErrInsufficientData)
	}

	portfolioReturns := make(map[time.Time]float64)
	for i := 1; i < len(series); i++ {
		denominator := series[i-1].TotalValue + series[i].NetCashFlow
		if denominator <= 0 {
			continue
		}
		r := (series[i].TotalValue - series[i-1].TotalValue - series[i].NetCashFlow) / denominator
		portfolioReturns[series[i].Date] = r
	}

	factorSeries := make(map[string]map[time.Time]float64, len(model.FactorNames))
	for _, factor := range model.FactorNames {
		observations, err := s.factorRepo.GetFactorSeries(factor, startDate, endDate)
		if err != nil {
			return model.FactorExposure{}, err
		}
		byDate := make(map[time.Time]float64, len(observations))
		for _, o := range observations {
			byDate[o.Date] = o.Return
		}
		factorSeries[factor] = byDate
	}

	if err := ctx.Err(); err != nil {
		return model.FactorExposure{}, err
	}

	// Align on the common date index: a date enters the sample only when the
	// portfolio and every factor have a return for it.
	var dates []time.Time
	for _, v := range series[1:] {
		if _, ok := portfolioReturns[v.Date]; !ok {
			continue
		}
		complete := true
		for _, factor := range model.FactorNames {
			if _, ok := factorSeries[factor][v.Date]; !ok {
				complete = false
				break
			}
		}
		if complete {
			dates = append(dates, v.Date)
		}
	}

	if len(dates) < minFactorObservations {
		return model.FactorExposure{}, fmt.Errorf("portfolio %s: %d aligned observations, need %d: %w",
			portfolioID, len(dates), minFactorObservations, apperrors.ErrInsufficientData)
	}

	y := make([]float64, len(dates))
	factors := make([][]float64, len(dates))
	for i, date := range dates {
		y[i] = portfolioReturns[date]
		row := make([]float64, len(model.FactorNames))
		for j, factor := range model.FactorNames {
			row[j] = factorSeries[factor][date]
		}
		factors[i] = row
	}

	alpha, betas, rSquared, residualVar, err := fitOLS(y, factors)
	if err != nil {
		return model.FactorExposure{}, fmt.Errorf("factor regression for portfolio %s: %w", portfolioID, err)
	}

	totalVar := stat.Variance(y, nil)
	systematic := 0.0
	if totalVar > 0 {
		systematic = (totalVar - residualVar) / totalVar
		if systematic < 0 {
			systematic = 0
		}
	}

	exposure := model.FactorExposure{
		PortfolioID:   portfolioID,
		PackID:        packID,
		Betas:         make(map[string]float64, len(model.FactorNames)),
		Alpha:         alpha,
		RSquared:      rSquared,
		Systematic:    systematic,
		Idiosyncratic: 1 - systematic,
		Observations:  len(dates),
		ComputedAt:    time.Now().UTC(),
	}
	for j, factor := range model.FactorNames {
		exposure.Betas[factor] = betas[j]
	}

	if err := s.factorRepo.SaveExposure(exposure); err != nil {
		return model.FactorExposure{}, err
	}

	return exposure, nil
}

// fitOLS fits y = alpha + X*beta by least squares over the factor columns and
// reports the intercept, betas, R-squared and sample residual variance.
func fitOLS(y []float64, factors [][]float64) (float64, []float64, float64, float64, error) {
	n := len(y)
	k := len(factors[0])

	// Design matrix with a leading intercept column.
	x := mat.NewDense(n, k+1, nil)
	for i := 0; i < n; i++ {
		x.Set(i, 0, 1)
		for j := 0; j < k; j++ {
			x.Set(i, j+1, factors[i][j])
		}
	}

	var qr mat.QR
	qr.Factorize(x)

	var coefficients mat.Dense
	if err := qr.SolveTo(&coefficients, false, mat.NewVecDense(n, y)); err != nil {
		return 0, nil, 0, 0, fmt.Errorf("singular design matrix: %w", err)
	}

	alpha := coefficients.At(0, 0)
	betas := make([]float64, k)
	for j := 0; j < k; j++ {
		betas[j] = coefficients.At(j+1, 0)
	}

	yMean := stat.Mean(y, nil)
	residuals := make([]float64, n)
	var ssRes, ssTot float64
	for i := 0; i < n; i++ {
		fitted := alpha
		for j := 0; j < k; j++ {
			fitted += betas[j] * factors[i][j]
		}
		residuals[i] = y[i] - fitted
		ssRes += residuals[i] * residuals[i]
		ssTot += (y[i] - yMean) * (y[i] - yMean)
	}

	rSquared := 0.0
	if ssTot > 0 {
		rSquared = 1 - ssRes/ssTot
	}

	return alpha, betas, rSquared, stat.Variance(residuals, nil), nil
}

// Prewarm recomputes factor exposures for every active portfolio against the
// pack, fanning out over a bounded worker pool. One portfolio's failure is
// recorded and logged, never escalated: the batch always runs to completion
// for the others.
func (s *FactorService) Prewarm(ctx context.Context, packID string, lookbackDays int) (PrewarmReport, error) {
	portfolios, err := s.portfolioRepo.GetActivePortfolios()
	if err != nil {
		return PrewarmReport{}, err
	}

	report := PrewarmReport{PackID: packID}
	var mu sync.Mutex

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(s.workers)

	for _, portfolio := range portfolios {
		portfolio := portfolio
		group.Go(func() error {
			taskCtx := groupCtx
			if s.taskTimeout > 0 {
				var cancel context.CancelFunc
				taskCtx, cancel = context.WithTimeout(groupCtx, s.taskTimeout)
				defer cancel()
			}

			_, err := s.Analyze(taskCtx, portfolio.ID, packID, lookbackDays)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				report.Computed++
			case isInsufficientData(err):
				report.Skipped++
			default:
				log.Printf("factor pre-warm: portfolio %s failed: %v", portfolio.ID, err)
				report.Failures = append(report.Failures, PrewarmFailure{
					PortfolioID: portfolio.ID,
					Err:         err.Error(),
				})
			}

			// Task errors are captured in the report, never returned: one
			// portfolio must not abort the batch for the others.
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return report, err
	}

	return report, nil
}

func isInsufficientData(err error) bool {
	return errors.Is(err, apperrors.ErrInsufficientData)
}
