package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Zrodkin/CharityPad123-sub001/backend"
	"github.com/Zrodkin/CharityPad123-sub001/credstore"
	"github.com/Zrodkin/CharityPad123-sub001/identity"
	"github.com/Zrodkin/CharityPad123-sub001/internal/config"
	"github.com/Zrodkin/CharityPad123-sub001/ledger"
	"github.com/Zrodkin/CharityPad123-sub001/payment"
	"github.com/Zrodkin/CharityPad123-sub001/paymentsdk"
	"github.com/Zrodkin/CharityPad123-sub001/sdkbridge"
	"github.com/Zrodkin/CharityPad123-sub001/server"
	"github.com/Zrodkin/CharityPad123-sub001/session"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the kiosk daemon",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			setupLogging(cfg)
			displayAppname("CharityPad")
			return serve(cfg)
		},
	}
}

func serve(cfg *config.Config) error {
	ctx := context.Background()

	if err := os.MkdirAll(cfg.App.DataDir, 0o700); err != nil {
		return errors.Wrap(err, "[serve] create data dir")
	}

	store, err := credstore.NewSQLiteStore(filepath.Join(cfg.App.DataDir, "credentials.db"))
	if err != nil {
		return errors.Wrap(err, "[serve] open credential store")
	}
	defer store.Close()

	keys, err := ledger.NewSQLiteLedger(filepath.Join(cfg.App.DataDir, "ledger.db"))
	if err != nil {
		return errors.Wrap(err, "[serve] open idempotency ledger")
	}
	defer keys.Close()

	resolver, err := identity.NewResolver(store, cfg.Tenant.OrgID, cfg.Tenant.MultiDevice)
	if err != nil {
		return errors.Wrap(err, "[serve] identity resolver")
	}

	backendClient, err := backend.NewClient(cfg.Backend.BaseURL,
		backend.WithHTTPClient(&http.Client{Timeout: cfg.BackendTimeout()}),
		backend.WithLogger(log.Logger),
	)
	if err != nil {
		return errors.Wrap(err, "[serve] backend client")
	}

	sessions, err := session.NewManager(store, resolver, backendClient,
		session.WithPollInterval(cfg.PollInterval()),
		session.WithPollTimeout(cfg.PollTimeout()),
		session.WithRefreshWindow(cfg.RefreshWindow()),
		session.WithStatusCacheTTL(cfg.StatusCacheTTL()),
		session.WithLogger(log.Logger),
	)
	if err != nil {
		return errors.Wrap(err, "[serve] session manager")
	}

	sdk, err := paymentsdk.NewRemoteSDK("http://"+cfg.SDK.AgentAddr,
		paymentsdk.WithRemoteLogger(log.Logger),
	)
	if err != nil {
		return errors.Wrap(err, "[serve] payment sdk")
	}
	defer sdk.Close()

	bridge, err := sdkbridge.New(sdk, sessions, sdkbridge.WithLogger(log.Logger))
	if err != nil {
		return errors.Wrap(err, "[serve] sdk bridge")
	}

	processor, err := payment.NewProcessor(bridge, keys, sessions, payment.WithLogger(log.Logger))
	if err != nil {
		return errors.Wrap(err, "[serve] payment processor")
	}

	// Keep the SDK's authorization in step with the merchant session.
	unsubscribe := sessions.Subscribe(func(ev session.Event) {
		switch ev.Type {
		case session.EventSessionEstablished:
			go func() {
				actx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				if err := bridge.EnsureAuthorized(actx); err != nil {
					log.Warn().Err(err).Msg("sdk authorization after session establish failed")
				}
			}()
		case session.EventSessionInvalidated:
			go func() {
				dctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := bridge.Deauthorize(dctx); err != nil {
					log.Warn().Err(err).Msg("sdk deauthorization after session invalidation failed")
				}
			}()
		}
	})
	defer unsubscribe()

	// Revalidate the restored session and refresh a token close to expiry.
	if err := sessions.CheckAuthentication(ctx); err != nil {
		log.Warn().Err(err).Msg("startup authentication check failed")
	}
	if sessions.IsAuthenticated() {
		go func() {
			actx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := bridge.EnsureAuthorized(actx); err != nil {
				log.Warn().Err(err).Msg("startup sdk authorization failed")
			}
		}()
	}

	purgeCtx, stopPurge := context.WithCancel(ctx)
	defer stopPurge()
	go purgeLedgerDaily(purgeCtx, keys, cfg.LedgerRetention())

	srv, err := server.New(cfg.Server.Addr, sessions, processor, bridge, server.WithLogger(log.Logger))
	if err != nil {
		return errors.Wrap(err, "[serve] api server")
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case sig := <-stopSignal():
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "[serve] shutdown")
	}
	return nil
}

func stopSignal() <-chan os.Signal {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	return stop
}

// purgeLedgerDaily drops idempotency keys old enough that no retry can
// legitimately reference them.
func purgeLedgerDaily(ctx context.Context, keys ledger.Ledger, retention time.Duration) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := keys.PurgeOlderThan(ctx, retention)
			if err != nil {
				log.Warn().Err(err).Msg("ledger purge failed")
				continue
			}
			if removed > 0 {
				log.Info().Int64("removed", removed).Msg("purged idempotency keys")
			}
		}
	}
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
