// Package app wires the trust/session server runtime: config, logging,
// HTTP routes, the pairing coordinators, and the realtime gateway.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	authapi "github.com/ntd280804/mobile-service-system-sub001/cmd/internal/auth/api"
	"github.com/ntd280804/mobile-service-system-sub001/cmd/internal/auth/session"
	"github.com/ntd280804/mobile-service-system-sub001/cmd/internal/identity"
	"github.com/ntd280804/mobile-service-system-sub001/cmd/internal/metrics"
	"github.com/ntd280804/mobile-service-system-sub001/cmd/internal/pairing"
	pairingapi "github.com/ntd280804/mobile-service-system-sub001/cmd/internal/pairing/api"
	"github.com/ntd280804/mobile-service-system-sub001/cmd/internal/realtime"
	"github.com/ntd280804/mobile-service-system-sub001/cmd/internal/trust"
	trustapi "github.com/ntd280804/mobile-service-system-sub001/cmd/internal/trust/api"
)

const (
	flowWebLogin    = "web-login"
	flowWebToMobile = "web-to-mobile"
)

// App owns every long-lived component and their HTTP wiring.
type App struct {
	cfg Config
	log Logger

	m        *metrics.Metrics
	keyring  *trust.Keyring
	registry *session.Registry
	gateway  *realtime.Gateway

	webLogin    *pairing.Coordinator
	webToMobile *pairing.Coordinator

	trustAPI   *trustapi.Handler
	pairingAPI *pairingapi.Handler
	authAPI    *authapi.Handler
}

// registryMinter adapts the session registry to the pairing SessionMinter
// port. Minting runs inside the ticket store's critical section, which is
// safe because session creation never blocks on IO.
type registryMinter struct {
	reg *session.Registry
}

func (m registryMinter) Mint(id identity.Identity, platform string) (pairing.Grant, error) {
	sess, err := m.reg.Create(id, platform)
	if err != nil {
		return pairing.Grant{}, err
	}
	return pairing.Grant{SessionID: sess.ID, Token: sess.Token, ExpiresAt: sess.ExpiresAt}, nil
}

// New constructs a fully wired App instance from config and logger.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg)
	}

	var m *metrics.Metrics
	if cfg.MetricsEnabled {
		m = metrics.New()
	}

	trustCfg, err := trust.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	keyring, err := trust.NewKeyring(log, trustCfg)
	if err != nil {
		return nil, err
	}

	sessCfg, err := session.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	registry, err := session.NewRegistry(log, sessCfg, m)
	if err != nil {
		return nil, err
	}

	pairCfg, err := pairing.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	minter := registryMinter{reg: registry}
	webLogin, err := pairing.NewCoordinator(log, flowWebLogin, pairCfg, minter, m)
	if err != nil {
		return nil, err
	}
	webToMobile, err := pairing.NewCoordinator(log, flowWebToMobile, pairCfg, minter, m)
	if err != nil {
		return nil, err
	}

	hub := realtime.NewHub(log, m)
	gateway := realtime.NewGateway(log, hub, registry, m)

	// Invalidation (explicit or by TTL sweep) pushes a forced logout over
	// the hub and evicts the session's connections.
	registry.SetNotifier(hub)

	verifier, err := identity.NewMemoryVerifier()
	if err != nil {
		return nil, err
	}
	if cfg.SeedUsers != "" {
		if err := verifier.SeedFromSpec(cfg.SeedUsers); err != nil {
			return nil, err
		}
	} else {
		log.Warn("identity.no_seed_users")
	}

	trustAPI, err := trustapi.NewHandler(log, keyring)
	if err != nil {
		return nil, err
	}
	pairingAPI, err := pairingapi.NewHandler(log, webLogin, webToMobile, registry)
	if err != nil {
		return nil, err
	}
	authAPI, err := authapi.NewHandler(log, verifier, registry)
	if err != nil {
		return nil, err
	}

	return &App{
		cfg:         cfg,
		log:         log,
		m:           m,
		keyring:     keyring,
		registry:    registry,
		gateway:     gateway,
		webLogin:    webLogin,
		webToMobile: webToMobile,
		trustAPI:    trustAPI,
		pairingAPI:  pairingAPI,
		authAPI:     authAPI,
	}, nil
}

// Handler builds the complete route table behind request logging.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	registerHTTP(mux, a.m, a.gateway, a.trustAPI, a.pairingAPI, a.authAPI)
	return WithRequestLogging(mux, a.log)
}

// Run starts sweeps and the HTTP server, blocking until context
// cancellation or a fatal server error.
func (a *App) Run(ctx context.Context) error {
	go a.registry.Run(ctx)
	go a.webLogin.Run(ctx)
	go a.webToMobile.Run(ctx)

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "metrics", a.cfg.MetricsEnabled)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	a.log.Info("server.stopped")
	return nil
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
