package service

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/avandermeer/portfolio-analytics/internal/apperrors"
	"github.com/avandermeer/portfolio-analytics/internal/model"
	"github.com/avandermeer/portfolio-analytics/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// basisTolerance is the maximum absolute drift the post-split basis check
// accepts, in currency units.
var basisTolerance = decimal.RequireFromString("0.01")

// CorporateActionService applies dividends, splits, mergers and spinoffs to
// lot state and generates the matching ledger posting description.
//
// Lot mutation is serialized per security: one action's lot loop runs under
// that security's mutex, and every lot update shares a transaction with the
// action's pending->processed flip. Processing is therefore idempotent: a
// second application of the same action finds the flip already done, rolls
// back and returns the stored posting identifiers.
type CorporateActionService struct {
	db           *sql.DB
	actionRepo   *repository.CorporateActionRepository
	lotRepo      *repository.LotRepository
	securityRepo *repository.SecurityRepository
	packRepo     *repository.PricingPackRepository
	ledgerRepo   *repository.LedgerRepository
	fxService    *FXService
	baseCurrency string

	locks sync.Map // security id -> *sync.Mutex
}

// NewCorporateActionService creates a new CorporateActionService with the
// provided dependencies.
func NewCorporateActionService(
	db *sql.DB,
	actionRepo *repository.CorporateActionRepository,
	lotRepo *repository.LotRepository,
	securityRepo *repository.SecurityRepository,
	packRepo *repository.PricingPackRepository,
	ledgerRepo *repository.LedgerRepository,
	fxService *FXService,
	baseCurrency string,
) *CorporateActionService {
	return &CorporateActionService{
		db:           db,
		actionRepo:   actionRepo,
		lotRepo:      lotRepo,
		securityRepo: securityRepo,
		packRepo:     packRepo,
		ledgerRepo:   ledgerRepo,
		fxService:    fxService,
		baseCurrency: baseCurrency,
	}
}

func (s *CorporateActionService) securityLock(securityID string) *sync.Mutex {
	mu, _ := s.locks.LoadOrStore(securityID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// ProcessDividend applies a dividend action: every lot acquired on or before
// the ex-date receives quantity * amount-per-share, converted to base currency
// with the pay-date FX rate when the amount is declared in another currency.
// The pay-date rule is a hard domain requirement: converting at the ex-date
// rate silently misstates income whenever the two rates differ.
func (s *CorporateActionService) ProcessDividend(ctx context.Context, actionID string) (model.DividendResult, error) {
	action, err := s.actionRepo.GetAction(actionID)
	if err != nil {
		return model.DividendResult{}, err
	}
	if action.Type != model.ActionDividend {
		return model.DividendResult{}, fmt.Errorf("action %s is %s: %w", actionID, action.Type, apperrors.ErrUnsupportedAction)
	}

	sec, err := s.securityRepo.GetSecurity(action.SecurityID)
	if err != nil {
		return model.DividendResult{}, err
	}

	mu := s.securityLock(action.SecurityID)
	mu.Lock()
	defer mu.Unlock()

	if action.Status == model.ActionStatusProcessed {
		return s.storedDividendResult(action)
	}

	// Pay-date rate, never ex-date. Base-currency dividends skip the lookup.
	payFX := decimal.NewFromInt(1)
	if action.AmountCurrency != s.baseCurrency {
		payFX, err = s.fxService.Rate(action.AmountCurrency, s.baseCurrency, action.PayDate)
		if err != nil {
			return model.DividendResult{}, fmt.Errorf("dividend %s pay-date fx: %w", actionID, err)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.DividendResult{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	lots, err := s.lotRepo.GetOpenLotsBySecurity(tx, action.SecurityID)
	if err != nil {
		return model.DividendResult{}, err
	}

	perShareBase := action.AmountPerShare.Mul(payFX)
	result := model.DividendResult{
		ActionID:   action.ID,
		SecurityID: action.SecurityID,
	}
	var lotIDs []string

	for _, lot := range lots {
		// A lot acquired after the ex-date receives no dividend.
		if lot.AcquisitionDate.After(action.ExDate) {
			continue
		}

		gross := lot.Quantity.Mul(perShareBase)
		withholding := gross.Mul(sec.WithholdingRate)
		entry := model.DividendLotEntry{
			LotID:        lot.ID,
			Quantity:     lot.Quantity,
			PerShareBase: perShareBase,
			Gross:        gross,
			Withholding:  withholding,
			Net:          gross.Sub(withholding),
			FXRate:       payFX,
			FXDate:       action.PayDate,
		}

		result.Entries = append(result.Entries, entry)
		result.TotalGross = result.TotalGross.Add(entry.Gross)
		result.TotalWithholding = result.TotalWithholding.Add(entry.Withholding)
		result.TotalNet = result.TotalNet.Add(entry.Net)
		lotIDs = append(lotIDs, lot.ID)
	}

	posting := model.LedgerPosting{
		ID:            uuid.NewString(),
		ActionID:      action.ID,
		LotIDs:        lotIDs,
		ReferenceDate: action.PayDate,
		Legs: []model.PostingLeg{
			{Account: "cash", Side: model.LegDebit, Amount: result.TotalNet.Round(2)},
			{Account: "withholding_tax", Side: model.LegDebit, Amount: result.TotalWithholding.Round(2)},
			{Account: "dividend_income", Side: model.LegCredit, Amount: result.TotalNet.Round(2).Add(result.TotalWithholding.Round(2))},
		},
	}
	if err := s.ledgerRepo.InsertPostingTx(tx, posting); err != nil {
		return model.DividendResult{}, err
	}
	result.PostingID = posting.ID

	flipped, err := s.actionRepo.MarkProcessedTx(tx, action.ID)
	if err != nil {
		return model.DividendResult{}, err
	}
	if !flipped {
		// Lost the race to a concurrent processor; its committed result stands.
		return s.storedDividendResult(action)
	}

	if err := tx.Commit(); err != nil {
		return model.DividendResult{}, fmt.Errorf("failed to commit dividend: %w", err)
	}

	return result, nil
}

// storedDividendResult rebuilds the identifying part of an already-committed
// dividend application so reprocessing stays a no-op for callers.
func (s *CorporateActionService) storedDividendResult(action model.CorporateAction) (model.DividendResult, error) {
	posting, err := s.ledgerRepo.GetPostingByAction(action.ID)
	if err != nil {
		return model.DividendResult{}, fmt.Errorf("action %s processed but posting missing: %w", action.ID, err)
	}

	result := model.DividendResult{
		ActionID:   action.ID,
		SecurityID: action.SecurityID,
		PostingID:  posting.ID,
	}
	for _, leg := range posting.Legs {
		switch leg.Account {
		case "cash":
			result.TotalNet = leg.Amount
		case "withholding_tax":
			result.TotalWithholding = leg.Amount
		case "dividend_income":
			result.TotalGross = leg.Amount
		}
	}
	return result, nil
}

// ProcessSplit applies a forward or reverse split: every lot's quantity is
// multiplied by ratioTo/ratioFrom and its average cost by ratioFrom/ratioTo.
// Total cost basis must survive unchanged; drift beyond 0.01 aborts the whole
// transaction with a BasisIntegrityError. Historical pack prices before the
// effective date are rescaled by the price multiplier so return series stay
// continuous across the event.
func (s *CorporateActionService) ProcessSplit(ctx context.Context, actionID string) (model.SplitResult, error) {
	action, err := s.actionRepo.GetAction(actionID)
	if err != nil {
		return model.SplitResult{}, err
	}
	if action.Type != model.ActionSplit && action.Type != model.ActionReverseSplit {
		return model.SplitResult{}, fmt.Errorf("action %s is %s: %w", actionID, action.Type, apperrors.ErrUnsupportedAction)
	}
	if !action.RatioFrom.IsPositive() || !action.RatioTo.IsPositive() {
		return model.SplitResult{}, fmt.Errorf("action %s has non-positive split ratio: %w", actionID, apperrors.ErrUnsupportedAction)
	}

	mu := s.securityLock(action.SecurityID)
	mu.Lock()
	defer mu.Unlock()

	splitMultiplier := action.SplitMultiplier()
	priceMultiplier := action.PriceMultiplier()

	result := model.SplitResult{
		ActionID:        action.ID,
		SecurityID:      action.SecurityID,
		SplitMultiplier: splitMultiplier,
		PriceMultiplier: priceMultiplier,
	}

	if action.Status == model.ActionStatusProcessed {
		return result, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.SplitResult{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	lots, err := s.lotRepo.GetOpenLotsBySecurity(tx, action.SecurityID)
	if err != nil {
		return model.SplitResult{}, err
	}

	var basisBefore, basisAfter decimal.Decimal
	for _, lot := range lots {
		newQty := lot.Quantity.Mul(splitMultiplier)
		newCost := lot.AverageCost.Mul(priceMultiplier)
		newBasisLocal := newQty.Mul(newCost)
		newBasisBase := newBasisLocal.Mul(lot.TradeFX)

		basisBefore = basisBefore.Add(lot.TotalCostLocal())
		basisAfter = basisAfter.Add(newBasisLocal)

		if err := s.lotRepo.UpdateLotTx(tx, lot.ID, newQty, newCost, newBasisLocal, newBasisBase); err != nil {
			return model.SplitResult{}, err
		}
		result.LotIDs = append(result.LotIDs, lot.ID)
	}

	// A split rearranges share count and per-share cost; it must never create
	// or destroy basis. Any drift is a logic defect, not a rounding concern.
	if basisBefore.Sub(basisAfter).Abs().GreaterThan(basisTolerance) {
		return model.SplitResult{}, &apperrors.BasisIntegrityError{
			SecurityID: action.SecurityID,
			ActionID:   action.ID,
			Before:     basisBefore,
			After:      basisAfter,
		}
	}
	result.TotalBasis = basisAfter

	if err := s.rescaleHistoricalPrices(tx, action.SecurityID, action.EffectiveDate, priceMultiplier); err != nil {
		return model.SplitResult{}, err
	}

	posting := model.LedgerPosting{
		ID:            uuid.NewString(),
		ActionID:      action.ID,
		LotIDs:        result.LotIDs,
		ReferenceDate: action.EffectiveDate,
		Legs: []model.PostingLeg{
			{Account: "position", Side: model.LegDebit, Amount: basisAfter.Round(2)},
			{Account: "position", Side: model.LegCredit, Amount: basisAfter.Round(2)},
		},
	}
	if err := s.ledgerRepo.InsertPostingTx(tx, posting); err != nil {
		return model.SplitResult{}, err
	}

	flipped, err := s.actionRepo.MarkProcessedTx(tx, action.ID)
	if err != nil {
		return model.SplitResult{}, err
	}
	if !flipped {
		return result, nil
	}

	if err := tx.Commit(); err != nil {
		return model.SplitResult{}, fmt.Errorf("failed to commit split: %w", err)
	}

	return result, nil
}

func (s *CorporateActionService) rescaleHistoricalPrices(tx *sql.Tx, securityID string, effectiveDate time.Time, priceMultiplier decimal.Decimal) error {
	prices, err := s.packRepo.GetPricesBeforeTx(tx, securityID, effectiveDate.Format("2006-01-02"))
	if err != nil {
		return err
	}

	for packID, close := range prices {
		if err := s.packRepo.UpdatePriceTx(tx, packID, securityID, close.Mul(priceMultiplier)); err != nil {
			return err
		}
	}

	return nil
}

// ProcessMerger applies a merger or spinoff: source lots are closed without
// realizing gain or loss, and for each a target lot opens with quantity scaled
// by the exchange ratio and the full cost basis carried over. The target lot
// keeps the source lot's acquisition date and locked trade FX, because a basis
// transfer is not a new FX event.
//
// Partial spinoffs that split basis between the survivor and the spun-off
// entity are not implemented; the allocation policy is an explicit extension
// point and such actions are rejected rather than guessed.
func (s *CorporateActionService) ProcessMerger(ctx context.Context, actionID string) (model.MergerResult, error) {
	action, err := s.actionRepo.GetAction(actionID)
	if err != nil {
		return model.MergerResult{}, err
	}
	if action.Type != model.ActionMerger && action.Type != model.ActionSpinoff {
		return model.MergerResult{}, fmt.Errorf("action %s is %s: %w", actionID, action.Type, apperrors.ErrUnsupportedAction)
	}
	if !action.ExchangeRatio.IsPositive() {
		return model.MergerResult{}, fmt.Errorf("action %s has non-positive exchange ratio: %w", actionID, apperrors.ErrUnsupportedAction)
	}

	source, err := s.securityRepo.GetSecurity(action.SecurityID)
	if err != nil {
		return model.MergerResult{}, err
	}
	target, err := s.securityRepo.GetSecurity(action.TargetSecurity)
	if err != nil {
		return model.MergerResult{}, err
	}
	if source.Currency != target.Currency {
		return model.MergerResult{}, fmt.Errorf("cross-currency lot transfer %s -> %s: %w",
			source.Currency, target.Currency, apperrors.ErrUnsupportedAction)
	}

	mu := s.securityLock(action.SecurityID)
	mu.Lock()
	defer mu.Unlock()

	result := model.MergerResult{
		ActionID:         action.ID,
		SourceSecurityID: action.SecurityID,
		TargetSecurityID: action.TargetSecurity,
	}

	if action.Status == model.ActionStatusProcessed {
		return result, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.MergerResult{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	lots, err := s.lotRepo.GetOpenLotsBySecurity(tx, action.SecurityID)
	if err != nil {
		return model.MergerResult{}, err
	}

	for _, lot := range lots {
		newQty := lot.Quantity.Mul(action.ExchangeRatio)
		if newQty.IsZero() {
			continue
		}

		// Basis transfers in full: the new average cost is whatever spreads the
		// old local basis across the new share count.
		newLot := model.Lot{
			ID:              uuid.NewString(),
			PortfolioID:     lot.PortfolioID,
			SecurityID:      action.TargetSecurity,
			AcquisitionDate: lot.AcquisitionDate,
			Quantity:        newQty,
			AverageCost:     lot.CostBasisLocal.Div(newQty),
			TradeFX:         lot.TradeFX,
			CostBasisLocal:  lot.CostBasisLocal,
			CostBasisBase:   lot.CostBasisBase,
		}
		if err := s.lotRepo.InsertLotTx(tx, newLot); err != nil {
			return model.MergerResult{}, err
		}

		zero := decimal.Zero
		if err := s.lotRepo.UpdateLotTx(tx, lot.ID, zero, zero, zero, zero); err != nil {
			return model.MergerResult{}, err
		}

		result.ClosedLotIDs = append(result.ClosedLotIDs, lot.ID)
		result.OpenedLotIDs = append(result.OpenedLotIDs, newLot.ID)
		result.BasisTransferred = result.BasisTransferred.Add(lot.CostBasisBase)
	}

	posting := model.LedgerPosting{
		ID:            uuid.NewString(),
		ActionID:      action.ID,
		LotIDs:        append(append([]string{}, result.ClosedLotIDs...), result.OpenedLotIDs...),
		ReferenceDate: action.EffectiveDate,
		Legs: []model.PostingLeg{
			{Account: "position:" + action.TargetSecurity, Side: model.LegDebit, Amount: result.BasisTransferred.Round(2)},
			{Account: "position:" + action.SecurityID, Side: model.LegCredit, Amount: result.BasisTransferred.Round(2)},
		},
	}
	if err := s.ledgerRepo.InsertPostingTx(tx, posting); err != nil {
		return model.MergerResult{}, err
	}

	flipped, err := s.actionRepo.MarkProcessedTx(tx, action.ID)
	if err != nil {
		return model.MergerResult{}, err
	}
	if !flipped {
		return result, nil
	}

	if err := tx.Commit(); err != nil {
		return model.MergerResult{}, fmt.Errorf("failed to commit merger: %w", err)
	}

	return result, nil
}

// ProcessAction dispatches an action to its processor by type.
func (s *CorporateActionService) ProcessAction(ctx context.Context, actionID string) error {
	action, err := s.actionRepo.GetAction(actionID)
	if err != nil {
		return err
	}

	switch action.Type {
	case model.ActionDividend:
		_, err = s.ProcessDividend(ctx, actionID)
	case model.ActionSplit, model.ActionReverseSplit:
		_, err = s.ProcessSplit(ctx, actionID)
	case model.ActionMerger, model.ActionSpinoff:
		_, err = s.ProcessMerger(ctx, actionID)
	default:
		err = fmt.Errorf("action type %s: %w", action.Type, apperrors.ErrUnsupportedAction)
	}

	return err
}

// ReverseAction creates and processes a new offsetting action that applies the
// inverse transform of a previously processed action. The original is never
// edited or deleted, so action history stays append-only and auditable.
func (s *CorporateActionService) ReverseAction(ctx context.Context, actionID string) (model.CorporateAction, error) {
	original, err := s.actionRepo.GetAction(actionID)
	if err != nil {
		return model.CorporateAction{}, err
	}
	if original.Status != model.ActionStatusProcessed {
		return model.CorporateAction{}, fmt.Errorf("cannot reverse action %s with status %s", actionID, original.Status)
	}

	reversal := model.CorporateAction{
		ID:             uuid.NewString(),
		SecurityID:     original.SecurityID,
		ExDate:         original.ExDate,
		PayDate:        original.PayDate,
		EffectiveDate:  original.EffectiveDate,
		ReversesAction: original.ID,
	}

	switch original.Type {
	case model.ActionDividend:
		reversal.Type = model.ActionDividend
		reversal.AmountPerShare = original.AmountPerShare.Neg()
		reversal.AmountCurrency = original.AmountCurrency
	case model.ActionSplit, model.ActionReverseSplit:
		reversal.Type = original.Type
		reversal.RatioFrom = original.RatioTo
		reversal.RatioTo = original.RatioFrom
	case model.ActionMerger, model.ActionSpinoff:
		// Reversing a lot transfer means transferring back at the inverse ratio.
		reversal.Type = original.Type
		reversal.SecurityID = original.TargetSecurity
		reversal.TargetSecurity = original.SecurityID
		reversal.ExchangeRatio = decimal.NewFromInt(1).Div(original.ExchangeRatio)
	default:
		return model.CorporateAction{}, fmt.Errorf("action type %s: %w", original.Type, apperrors.ErrUnsupportedAction)
	}

	if err := s.actionRepo.InsertAction(reversal); err != nil {
		return model.CorporateAction{}, err
	}

	if err := s.ProcessAction(ctx, reversal.ID); err != nil {
		return model.CorporateAction{}, err
	}

	return reversal, nil
}
