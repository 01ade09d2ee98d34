package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/avandermeer/portfolio-analytics/internal/apperrors"
	"github.com/avandermeer/portfolio-analytics/internal/config"
	"github.com/avandermeer/portfolio-analytics/internal/database"
	"github.com/avandermeer/portfolio-analytics/internal/repository"
	"github.com/avandermeer/portfolio-analytics/internal/service"
	"github.com/robfig/cron/v3"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Open database connection
	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	if err := database.Migrate(db); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	log.Printf("Connected to database: %s", cfg.Database.Path)

	// Create repositories
	securityRepo := repository.NewSecurityRepository(db)
	lotRepo := repository.NewLotRepository(db)
	fxRepo := repository.NewFXRepository(db)
	packRepo := repository.NewPricingPackRepository(db)
	actionRepo := repository.NewCorporateActionRepository(db)
	valueRepo := repository.NewPortfolioValueRepository(db)
	factorRepo := repository.NewFactorRepository(db)
	ledgerRepo := repository.NewLedgerRepository(db)
	portfolioRepo := repository.NewPortfolioRepository(db)

	// Create services
	fxService := service.NewFXService(fxRepo)
	actionService := service.NewCorporateActionService(
		db, actionRepo, lotRepo, securityRepo, packRepo, ledgerRepo, fxService,
		cfg.Analytics.BaseCurrency,
	)
	performanceService := service.NewPerformanceService(valueRepo, cfg.Analytics.RiskFreeRate)
	factorService := service.NewFactorService(
		valueRepo,
		factorRepo,
		portfolioRepo,
		packRepo,
		cfg.Prewarm.Workers,
		cfg.Prewarm.TaskTimeout,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	batch := &dailyBatch{
		packRepo:      packRepo,
		actionRepo:    actionRepo,
		portfolioRepo: portfolioRepo,
		actions:       actionService,
		performance:   performanceService,
		factors:       factorService,
	}

	// Run the batch after each pack publication window.
	scheduler := cron.New()
	_, err = scheduler.AddFunc(cfg.Prewarm.Schedule, func() { batch.run(ctx) })
	if err != nil {
		log.Fatalf("Failed to schedule daily batch: %v", err)
	}

	scheduler.Start()
	log.Printf("Daily batch scheduled: %s", cfg.Prewarm.Schedule)

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down...")
	cancel()
	<-scheduler.Stop().Done()
	log.Println("Exited")
}

// dailyBatch is the post-publication pipeline: apply corporate actions due by
// the pack date, re-warm factor exposures, then log trailing-year performance
// per portfolio.
type dailyBatch struct {
	packRepo      *repository.PricingPackRepository
	actionRepo    *repository.CorporateActionRepository
	portfolioRepo *repository.PortfolioRepository
	actions       *service.CorporateActionService
	performance   *service.PerformanceService
	factors       *service.FactorService
}

func (b *dailyBatch) run(ctx context.Context) {
	pack, err := b.packRepo.GetLatestFreshPack()
	if err != nil {
		if errors.Is(err, apperrors.ErrPackNotFound) {
			log.Println("Daily batch skipped: no fresh pricing pack yet")
			return
		}
		log.Printf("Daily batch failed to find pack: %v", err)
		return
	}

	actionIDs, err := b.actionRepo.GetPendingActionIDs(pack.AsOf)
	if err != nil {
		log.Printf("Daily batch failed to list pending actions: %v", err)
		return
	}
	for _, actionID := range actionIDs {
		if err := b.actions.ProcessAction(ctx, actionID); err != nil {
			log.Printf("Corporate action %s failed: %v", actionID, err)
		}
	}
	if len(actionIDs) > 0 {
		log.Printf("Processed %d corporate actions due by %s", len(actionIDs), pack.AsOf.Format("2006-01-02"))
	}

	report, err := b.factors.Prewarm(ctx, pack.ID, 0)
	if err != nil {
		log.Printf("Factor pre-warm aborted for pack %s: %v", pack.ID, err)
		return
	}
	log.Printf("Factor pre-warm for pack %s: %d computed, %d skipped, %d failed",
		pack.ID, report.Computed, report.Skipped, len(report.Failures))

	portfolios, err := b.portfolioRepo.GetActivePortfolios()
	if err != nil {
		log.Printf("Daily batch failed to list portfolios: %v", err)
		return
	}
	for _, portfolio := range portfolios {
		result, err := b.performance.CalculatePerformance(portfolio.ID, pack.AsOf.AddDate(-1, 0, 0), pack.AsOf)
		if err != nil {
			if errors.Is(err, apperrors.ErrInsufficientData) {
				continue
			}
			log.Printf("Performance for portfolio %s failed: %v", portfolio.ID, err)
			continue
		}
		log.Printf("Portfolio %s trailing year: TWR %.4f, annualized %.4f, vol %.4f, sharpe %.2f",
			portfolio.ID, result.TWR, result.Annualized, result.Volatility, result.Sharpe)
	}
}
