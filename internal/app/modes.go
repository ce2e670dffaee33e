package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/apexlabs-eth/flasharb/internal/crypto"
	"github.com/apexlabs-eth/flasharb/internal/server"
	"github.com/apexlabs-eth/flasharb/internal/server/handler"
	"github.com/apexlabs-eth/flasharb/internal/server/ws"
)

const (
	// archiveInterval is how often the settlement archiver runs in full mode.
	archiveInterval = 24 * time.Hour

	// archiveRetention is how long settlements stay in the primary store
	// before being exported to blob storage.
	archiveRetention = 30 * 24 * time.Hour
)

// EngineMode runs the settlement engine without the HTTP surface. Submissions
// arrive through the service API of an embedding process; events still flow to
// the signal bus. The mode blocks until the context is cancelled.
func (a *App) EngineMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "engine mode ready",
		slog.String("engine", deps.Engine.Address().Hex()),
		slog.String("facility", deps.Pool.Address().Hex()),
	)
	<-ctx.Done()
	return ctx.Err()
}

// ServerMode runs the HTTP + WebSocket API in front of the engine.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps)
	return g.Wait()
}

// FullMode runs the HTTP + WebSocket API plus the periodic settlement
// archiver.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps)

	if deps.Archiver != nil {
		g.Go(func() error {
			return a.runArchiver(ctx, deps)
		})
	}

	return g.Wait()
}

// startHTTPServer adds the HTTP server and WebSocket hub goroutines to the
// given errgroup. The server is shut down gracefully when the context is
// cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	hub := ws.NewHub(deps.Bus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		Network:   a.cfg.Network.Name,
		StartedAt: time.Now().UTC(),
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	owner := common.HexToAddress(a.cfg.Owner.Address)
	handlers := server.Handlers{
		Health:  handler.NewHealthHandler(a.logger),
		Status:  handler.NewStatusHandler(a.cfg.Mode, a.cfg.Network.Name, a.cfg.Network.ChainID, time.Now().UTC()),
		Arb:     handler.NewArbHandler(deps.Service, a.logger),
		Balance: handler.NewBalanceHandler(deps.Service, a.logger),
		Admin:   handler.NewAdminHandler(owner, deps.Access, deps.Registry, deps.Service, a.logger),
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.resolveAPIKey(ctx),
	}, handlers, hub, a.logger)

	g.Go(srv.Start)

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// resolveAPIKey loads the owner API credential. An empty return disables
// authentication on the gated routes.
func (a *App) resolveAPIKey(ctx context.Context) string {
	if a.cfg.Owner.APIKey == "" && a.cfg.Owner.EncryptedKeyPath == "" {
		a.logger.WarnContext(ctx, "no API credential configured; gated routes are open")
		return ""
	}
	key, err := crypto.LoadCredential(crypto.CredentialConfig{
		RawKey:           a.cfg.Owner.APIKey,
		EncryptedKeyPath: a.cfg.Owner.EncryptedKeyPath,
		KeyPassword:      a.cfg.Owner.KeyPassword,
	})
	if err != nil {
		a.logger.ErrorContext(ctx, "failed to load API credential; gated routes are open",
			slog.String("error", err.Error()),
		)
		return ""
	}
	return key
}

// runArchiver exports settlements older than the retention window to blob
// storage on a fixed interval.
func (a *App) runArchiver(ctx context.Context, deps *Dependencies) error {
	ticker := time.NewTicker(archiveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			cutoff := time.Now().UTC().Add(-archiveRetention)
			count, err := deps.Archiver.ArchiveSettlements(ctx, cutoff)
			if err != nil {
				a.logger.ErrorContext(ctx, "settlement archive run failed",
					slog.String("error", err.Error()),
				)
				continue
			}
			if count > 0 {
				a.logger.InfoContext(ctx, "settlement archive run complete",
					slog.Int64("archived", count),
				)
			}
		}
	}
}
