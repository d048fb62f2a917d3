package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/arbiterlabs/dexarbiter/internal/domain"
	"github.com/arbiterlabs/dexarbiter/internal/feed"
	"github.com/arbiterlabs/dexarbiter/internal/server"
	"github.com/arbiterlabs/dexarbiter/internal/server/handler"
)

// TradeMode runs the full execution pipeline without the HTTP surface: price
// feed, scanner, dispatcher, gas poller, and archiver.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode")

	g, ctx := errgroup.WithContext(ctx)

	a.startPipeline(ctx, g, deps, deps.Dispatcher)
	a.startEngine(ctx, g, deps)
	a.startArchiver(ctx, g, deps)

	return g.Wait()
}

// MonitorMode detects and reports opportunities without executing them.
// Detected opportunities are persisted and notified, never traded.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	g, ctx := errgroup.WithContext(ctx)

	sink := &monitorSink{store: deps.OpportunityStore, logger: a.logger}
	a.startPipeline(ctx, g, deps, sink)
	a.startArchiver(ctx, g, deps)

	return g.Wait()
}

// FullMode runs the trade pipeline plus the HTTP + WebSocket API.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	if a.cfg.Server.Enabled && deps.TradeStore == nil {
		return fmt.Errorf("app: full mode requires postgres for the API")
	}
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	a.startPipeline(ctx, g, deps, deps.Dispatcher)
	a.startEngine(ctx, g, deps)
	a.startArchiver(ctx, g, deps)
	a.startServer(ctx, g, deps)

	return g.Wait()
}

// startPipeline launches the price feed and the opportunity scanner feeding
// the given sink.
func (a *App) startPipeline(ctx context.Context, g *errgroup.Group, deps *Dependencies, sink feed.OpportunitySink) {
	scanner := feed.NewScanner(
		deps.Detector,
		sink,
		deps.TickCache,
		deps.Notifier,
		a.cfg.Engine.TickInterval.Duration,
		a.logger,
	)
	g.Go(func() error {
		return scanner.Run(ctx)
	})

	if a.cfg.Feed.WSURL == "" {
		a.logger.WarnContext(ctx, "no feed configured, scanner will idle")
		return
	}
	wsFeed := feed.NewWSFeed(a.cfg.Feed.WSURL, a.cfg.Feed.Pairs, scanner.HandleTick, a.logger)
	g.Go(func() error {
		defer wsFeed.Close()
		return wsFeed.Run(ctx)
	})
}

// startEngine launches the dispatcher and the gas price poller.
func (a *App) startEngine(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	g.Go(func() error {
		return deps.Dispatcher.Run(ctx)
	})
	g.Go(func() error {
		return a.pollGasPrice(ctx, deps)
	})
}

func (a *App) startArchiver(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Archiver == nil {
		return
	}
	g.Go(func() error {
		return deps.Archiver.Run(ctx)
	})
}

// startServer launches the HTTP API and the WebSocket hub.
func (a *App) startServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if !a.cfg.Server.Enabled {
		return
	}

	checks := map[string]handler.HealthCheckFunc{
		"redis": deps.RedisPing,
	}
	if deps.PgPing != nil {
		checks["postgres"] = deps.PgPing
	}

	handlers := server.Handlers{
		Health:        handler.NewHealthHandler(checks),
		Status:        handler.NewStatusHandler(deps.Dispatcher, a.cfg.Mode, time.Now().UTC()),
		Trades:        handler.NewTradeHandler(deps.TradeStore, deps.Dispatcher, a.logger),
		Opportunities: handler.NewOpportunityHandler(deps.OpportunityStore, deps.Dispatcher, a.logger),
	}

	srv := server.New(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RatePerMinute,
	}, handlers, deps.Hub, deps.RateLimiter, a.logger)

	if deps.Hub != nil {
		g.Go(func() error {
			return deps.Hub.Run(ctx)
		})
	}
	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

// pollGasPrice feeds live gas prices into the advisor on roughly every block
// and derives a congestion estimate from price relative to the network
// ceiling.
func (a *App) pollGasPrice(ctx context.Context, deps *Dependencies) error {
	network := a.cfg.Engine.Network
	net := a.cfg.Networks[network]

	interval := time.Duration(net.BlockTimeMs) * time.Millisecond
	if interval <= 0 {
		interval = 12 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			price, err := deps.RPC.SuggestGasPrice(ctx)
			if err != nil {
				a.logger.WarnContext(ctx, "gas price poll failed",
					slog.String("error", err.Error()))
				continue
			}
			wei := price.Uint64()
			deps.GasAdvisor.ObservePrice(network, wei)

			if net.GasCeilingWei > 0 {
				congestion := float64(wei) / float64(net.GasCeilingWei)
				if congestion > 1 {
					congestion = 1
				}
				deps.GasAdvisor.SetCongestion(network, congestion)
			}
		}
	}
}

// monitorSink records detected opportunities without admitting them to the
// engine.
type monitorSink struct {
	store  domain.OpportunityStore
	logger *slog.Logger
}

func (s *monitorSink) Submit(opp domain.Opportunity) error {
	if s.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.store.Insert(ctx, opp); err != nil {
			s.logger.Warn("monitor: store opportunity",
				slog.String("opportunity_id", opp.ID),
				slog.String("error", err.Error()))
		}
	}
	s.logger.Info("opportunity detected",
		slog.String("pair", opp.Pair.String()),
		slog.String("buy_venue", opp.BuyVenue),
		slog.String("sell_venue", opp.SellVenue),
		slog.Float64("spread_percent", opp.SpreadPercent))
	return nil
}
