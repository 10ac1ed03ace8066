package scheduler

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// PriceMetricsScheduler periodically materializes the decimal token_price and
// market_cap columns from the exact price_num/price_den pairs. Query clients
// sort and filter on the decimal columns; the rational pair stays the source
// of truth.
type PriceMetricsScheduler struct {
	db        *pgxpool.Pool
	scheduler gocron.Scheduler
	logger    zerolog.Logger
}

func NewPriceMetricsScheduler(db *pgxpool.Pool, logger zerolog.Logger) (*PriceMetricsScheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}

	return &PriceMetricsScheduler{
		db:        db,
		scheduler: s,
		logger:    logger.With().Str("component", "price-metrics-scheduler").Logger(),
	}, nil
}

func (s *PriceMetricsScheduler) Start(ctx context.Context) error {
	_, err := s.scheduler.NewJob(
		gocron.DurationJob(time.Minute),
		gocron.NewTask(s.materializePrices, ctx),
		gocron.WithName("materialize-prices"),
	)
	if err != nil {
		return err
	}

	s.logger.Info().Msg("Price metrics scheduler started (runs every minute)")
	s.scheduler.Start()

	// Run immediately on startup
	go s.materializePrices(ctx)

	return nil
}

func (s *PriceMetricsScheduler) Stop() {
	s.logger.Info().Msg("Stopping price metrics scheduler")
	if err := s.scheduler.Shutdown(); err != nil {
		s.logger.Error().Err(err).Msg("Error shutting down scheduler")
	}
}

func (s *PriceMetricsScheduler) materializePrices(ctx context.Context) {
	start := time.Now()

	tag, err := s.db.Exec(ctx, `
		UPDATE exchanges
		SET token_price = price_num / price_den,
		    market_cap  = (price_num * total_supply) / price_den,
		    updated_at  = NOW()
		WHERE price_num IS NOT NULL
		  AND price_den IS NOT NULL
		  AND price_den <> 0`)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to materialize prices")
		return
	}

	s.logger.Debug().
		Int64("exchanges", tag.RowsAffected()).
		Dur("duration", time.Since(start)).
		Msg("Materialized decimal prices")
}
