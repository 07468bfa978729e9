package app

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/google/uuid"

	"github.com/mintforge/dropmarket/internal/domain"
	"github.com/mintforge/dropmarket/internal/server"
	"github.com/mintforge/dropmarket/internal/server/handler"
	"github.com/mintforge/dropmarket/internal/server/ws"
)

// ServeMode runs the HTTP API and the WebSocket hub.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	if !a.cfg.Server.Enabled {
		return errors.New("serve mode requires server.enabled")
	}
	a.logger.InfoContext(ctx, "starting serve mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps)
	a.startRateListener(ctx, g, deps)
	return g.Wait()
}

// SweepMode runs the background maintenance loops: offer expiry and, when
// archival is enabled, periodic offloading of resolved offers and completed
// phases to object storage.
func (a *App) SweepMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting sweep mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startSweepLoops(ctx, g, deps)
	a.startRateListener(ctx, g, deps)
	return g.Wait()
}

// FullMode runs the HTTP API and the maintenance loops in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps)
	}
	a.startSweepLoops(ctx, g, deps)
	a.startRateListener(ctx, g, deps)
	return g.Wait()
}

// startRateListener applies increase-rate changes announced by other
// processes. The publisher also receives its own announcement; re-applying
// the same percent is harmless.
func (a *App) startRateListener(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	g.Go(func() error {
		msgs, err := deps.SignalBus.Subscribe(ctx, "phases")
		if err != nil {
			a.logger.WarnContext(ctx, "rate listener unavailable",
				slog.String("error", err.Error()),
			)
			return nil
		}
		for {
			select {
			case <-ctx.Done():
				return nil
			case raw, ok := <-msgs:
				if !ok {
					return nil
				}
				var msg struct {
					Event   string  `json:"event"`
					Percent float64 `json:"percent"`
				}
				if err := json.Unmarshal(raw, &msg); err != nil || msg.Event != "increase_rate_set" {
					continue
				}
				if err := deps.PhaseEngine.SetIncreaseRate(msg.Percent); err != nil {
					a.logger.WarnContext(ctx, "ignoring invalid rate announcement",
						slog.Float64("percent", msg.Percent),
						slog.String("error", err.Error()),
					)
					continue
				}
				a.logger.InfoContext(ctx, "increase rate applied from announcement",
					slog.Float64("percent", msg.Percent),
				)
			}
		}
	})
}

// seedOnStart populates the catalog and the release schedule when they are
// empty. It is safe to run on every boot.
func (a *App) seedOnStart(ctx context.Context, deps *Dependencies) error {
	created, err := deps.Catalog.Seed(ctx, a.cfg.Schedule.CatalogSeed)
	if err != nil {
		return err
	}
	if created > 0 {
		a.logger.InfoContext(ctx, "catalog seeded", slog.Int("items", created))
	}

	existing, err := deps.Phases.List(ctx)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}

	phases := make([]domain.Phase, 0, a.cfg.Schedule.PhaseCount)
	for i := 1; i <= a.cfg.Schedule.PhaseCount; i++ {
		phases = append(phases, domain.Phase{
			ID:              uuid.NewString(),
			Index:           i,
			RateCents:       domain.Cents(a.cfg.Schedule.BaseRateCents),
			Capacity:        a.cfg.Schedule.PhaseCapacity,
			Duration:        a.cfg.Schedule.PhaseDuration.Duration,
			IncreasePercent: a.cfg.Schedule.IncreasePercent,
		})
	}
	if err := deps.Phases.SeedSchedule(ctx, phases); err != nil {
		return err
	}
	a.logger.InfoContext(ctx, "release schedule seeded", slog.Int("phases", len(phases)))
	return nil
}

// startHTTPServer adds the HTTP server and WebSocket hub goroutines to the
// given errgroup. The server is shut down gracefully when the context is
// cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	hub := ws.NewHub(deps.SignalBus, a.logger)
	g.Go(func() error {
		return hub.Run(ctx)
	})

	handlers := server.Handlers{
		Health:   handler.NewHealthHandler(deps.Phases, a.logger),
		Phase:    handler.NewPhaseHandler(deps.Phases, a.logger),
		Items:    handler.NewItemHandler(deps.Catalog, deps.Phases, deps.Sales, a.logger),
		Listings: handler.NewListingHandler(deps.Listings, a.logger),
		Offers:   handler.NewOfferHandler(deps.Offers, a.logger),
		Audit:    handler.NewAuditHandler(deps.AuditStore, a.logger),
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		AdminToken:  a.cfg.Server.AdminToken,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		a.logger.InfoContext(ctx, "HTTP server shutting down")
		return srv.Shutdown(shutCtx)
	})
}

// startSweepLoops adds the offer-expiry ticker and, when archival is enabled,
// the archive ticker to the given errgroup.
func (a *App) startSweepLoops(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	sweepEvery := a.cfg.Sweep.Interval.Duration
	if sweepEvery <= 0 {
		sweepEvery = time.Minute
	}

	g.Go(func() error {
		ticker := time.NewTicker(sweepEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				expired, err := deps.Offers.ExpireSweep(ctx)
				if err != nil {
					a.logger.WarnContext(ctx, "offer expiry sweep failed",
						slog.String("error", err.Error()),
					)
					continue
				}
				if expired > 0 {
					a.logger.InfoContext(ctx, "expired stale offers",
						slog.Int("count", expired),
					)
				}
			}
		}
	})

	if deps.Archiver == nil {
		return
	}

	archiveEvery := a.cfg.Archive.Interval.Duration
	if archiveEvery <= 0 {
		archiveEvery = 24 * time.Hour
	}
	retention := time.Duration(a.cfg.Archive.RetentionDays) * 24 * time.Hour

	g.Go(func() error {
		ticker := time.NewTicker(archiveEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				cutoff := time.Now().UTC().Add(-retention)
				a.runArchive(ctx, deps, cutoff)
			}
		}
	})
}

func (a *App) runArchive(ctx context.Context, deps *Dependencies, cutoff time.Time) {
	offers, err := deps.Archiver.ArchiveResolvedOffers(ctx, cutoff)
	if err != nil {
		a.logger.WarnContext(ctx, "offer archive failed",
			slog.String("error", err.Error()),
		)
	}
	phases, err := deps.Archiver.ArchiveCompletedPhases(ctx, cutoff)
	if err != nil {
		a.logger.WarnContext(ctx, "phase archive failed",
			slog.String("error", err.Error()),
		)
	}
	if offers > 0 || phases > 0 {
		a.logger.InfoContext(ctx, "archive run complete",
			slog.Int64("offers", offers),
			slog.Int64("phases", phases),
			slog.Time("cutoff", cutoff),
		)
	}
}
