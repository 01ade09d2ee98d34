package service

import (
	"fmt"
	"time"

	"github.com/avandermeer/portfolio-analytics/internal/apperrors"
	"github.com/avandermeer/portfolio-analytics/internal/model"
	"github.com/avandermeer/portfolio-analytics/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LotValuation is the priced state of one lot against one pricing pack.
type LotValuation struct {
	LotID      string
	SecurityID string
	Currency   string
	Quantity   decimal.Decimal
	Price      decimal.Decimal // security currency, from the pack
	PackFX     decimal.Decimal // currency -> base, from the same pack
	LocalValue decimal.Decimal // quantity * price
	BaseValue  decimal.Decimal // localValue * packFX
}

// PortfolioValuation aggregates lot valuations for one portfolio and pack.
type PortfolioValuation struct {
	PortfolioID string
	PackID      string
	AsOf        time.Time
	Lots        []LotValuation
	TotalBase   decimal.Decimal
}

// ValuationService prices lots and portfolios under the three FX truth rules:
// cost basis carries the trade-date rate locked at lot creation, daily
// valuation reads price and FX from a single pricing pack, and dividend income
// (handled by the corporate-action service) uses the pay-date rate. The
// service never restates a lot's cost basis with a pack rate.
type ValuationService struct {
	lotRepo      *repository.LotRepository
	securityRepo *repository.SecurityRepository
	packRepo     *repository.PricingPackRepository
	valueRepo    *repository.PortfolioValueRepository
	fxService    *FXService
	baseCurrency string
}

// NewValuationService creates a new ValuationService with the provided dependencies.
func NewValuationService(
	lotRepo *repository.LotRepository,
	securityRepo *repository.SecurityRepository,
	packRepo *repository.PricingPackRepository,
	valueRepo *repository.PortfolioValueRepository,
	fxService *FXService,
	baseCurrency string,
) *ValuationService {
	return &ValuationService{
		lotRepo:      lotRepo,
		securityRepo: securityRepo,
		packRepo:     packRepo,
		valueRepo:    valueRepo,
		fxService:    fxService,
		baseCurrency: baseCurrency,
	}
}

// OpenLot creates a lot for an acquisition, locking the trade-date FX rate.
// The locked rate and the base cost basis derived from it are immutable for
// the life of the lot.
func (s *ValuationService) OpenLot(portfolioID, securityID string, tradeDate time.Time, quantity, pricePerShare decimal.Decimal) (model.Lot, error) {
	if !quantity.IsPositive() {
		return model.Lot{}, fmt.Errorf("lot quantity must be positive, got %s", quantity.String())
	}

	sec, err := s.securityRepo.GetSecurity(securityID)
	if err != nil {
		return model.Lot{}, err
	}

	tradeFX, err := s.fxService.Rate(sec.Currency, s.baseCurrency, tradeDate)
	if err != nil {
		return model.Lot{}, fmt.Errorf("locking trade fx for %s: %w", securityID, err)
	}

	costLocal := quantity.Mul(pricePerShare)
	lot := model.Lot{
		ID:              uuid.NewString(),
		PortfolioID:     portfolioID,
		SecurityID:      securityID,
		AcquisitionDate: tradeDate,
		Quantity:        quantity,
		AverageCost:     pricePerShare,
		TradeFX:         tradeFX,
		CostBasisLocal:  costLocal,
		CostBasisBase:   costLocal.Mul(tradeFX),
	}

	if err := s.lotRepo.InsertLot(lot); err != nil {
		return model.Lot{}, err
	}

	return lot, nil
}

// ValueLot prices one lot against one fresh pack. Price and FX come from that
// pack and nowhere else.
func (s *ValuationService) ValueLot(lot model.Lot, packID string) (LotValuation, error) {
	pack, err := s.packRepo.GetPack(packID)
	if err != nil {
		return LotValuation{}, err
	}
	if pack.Status != model.PackStatusFresh {
		return LotValuation{}, fmt.Errorf("pack %s: %w", packID, apperrors.ErrPackNotFresh)
	}

	sec, err := s.securityRepo.GetSecurity(lot.SecurityID)
	if err != nil {
		return LotValuation{}, err
	}

	return s.valueLot(lot, sec, packID)
}

func (s *ValuationService) valueLot(lot model.Lot, sec model.Security, packID string) (LotValuation, error) {
	price, err := s.packRepo.GetPrice(packID, sec.ID)
	if err != nil {
		return LotValuation{}, err
	}

	packFX := decimal.NewFromInt(1)
	if sec.Currency != s.baseCurrency {
		packFX, err = s.packRepo.GetFXRate(packID, sec.Currency)
		if err != nil {
			return LotValuation{}, err
		}
	}

	localValue := lot.Quantity.Mul(price)
	return LotValuation{
		LotID:      lot.ID,
		SecurityID: sec.ID,
		Currency:   sec.Currency,
		Quantity:   lot.Quantity,
		Price:      price,
		PackFX:     packFX,
		LocalValue: localValue,
		BaseValue:  localValue.Mul(packFX),
	}, nil
}

// ValuePortfolio prices every open lot of a portfolio against one fresh pack.
func (s *ValuationService) ValuePortfolio(portfolioID, packID string) (PortfolioValuation, error) {
	pack, err := s.packRepo.GetPack(packID)
	if err != nil {
		return PortfolioValuation{}, err
	}
	if pack.Status != model.PackStatusFresh {
		return PortfolioValuation{}, fmt.Errorf("pack %s: %w", packID, apperrors.ErrPackNotFresh)
	}

	lots, err := s.lotRepo.GetOpenLotsByPortfolio(portfolioID)
	if err != nil {
		return PortfolioValuation{}, err
	}

	valuation := PortfolioValuation{
		PortfolioID: portfolioID,
		PackID:      packID,
		AsOf:        pack.AsOf,
	}

	securities := make(map[string]model.Security)
	for _, lot := range lots {
		sec, ok := securities[lot.SecurityID]
		if !ok {
			sec, err = s.securityRepo.GetSecurity(lot.SecurityID)
			if err != nil {
				return PortfolioValuation{}, err
			}
			securities[lot.SecurityID] = sec
		}

		lv, err := s.valueLot(lot, sec, packID)
		if err != nil {
			return PortfolioValuation{}, err
		}

		valuation.Lots = append(valuation.Lots, lv)
		valuation.TotalBase = valuation.TotalBase.Add(lv.BaseValue)
	}

	return valuation, nil
}

// SnapshotDailyValue values the portfolio against the pack and appends the
// result to the daily value series consumed by the performance calculator.
// Net external cash flow for the day is supplied by the caller; the valuation
// itself never infers flows.
func (s *ValuationService) SnapshotDailyValue(portfolioID, packID string, netCashFlow float64) (model.PortfolioDailyValue, error) {
	valuation, err := s.ValuePortfolio(portfolioID, packID)
	if err != nil {
		return model.PortfolioDailyValue{}, err
	}

	dv := model.PortfolioDailyValue{
		PortfolioID: portfolioID,
		Date:        valuation.AsOf,
		PackID:      packID,
		TotalValue:  valuation.TotalBase.InexactFloat64(),
		NetCashFlow: netCashFlow,
	}

	if err := s.valueRepo.InsertDailyValue(dv); err != nil {
		return model.PortfolioDailyValue{}, err
	}

	return dv, nil
}
