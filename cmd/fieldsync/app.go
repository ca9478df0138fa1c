package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/agentworkforce/fieldsync/internal/bridge"
	"github.com/agentworkforce/fieldsync/internal/config"
	"github.com/agentworkforce/fieldsync/internal/docsync"
	"github.com/agentworkforce/fieldsync/internal/geo"
	"github.com/agentworkforce/fieldsync/internal/localstate"
	"github.com/agentworkforce/fieldsync/internal/logging"
	"github.com/agentworkforce/fieldsync/internal/metrics"
	"github.com/agentworkforce/fieldsync/internal/notify"
)

// app is the wired runtime shared by every command.
type app struct {
	cfg     *config.Config
	logger  *logging.Logger
	metrics *metrics.Metrics
	backend localstate.Backend
	store   *docsync.Store
	session *docsync.Session
	hub     *bridge.Hub
}

func newApp(cmd *cobra.Command) (*app, error) {
	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(config.Options{ConfigFile: configFile, Flags: cmd.Flags()})
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Logger)
	if err != nil {
		return nil, err
	}

	backend, err := localstate.BuildBackendFromDSN(cfg.Local.DSN)
	if err != nil {
		_ = logger.Close()
		return nil, fmt.Errorf("open local state %q: %w", cfg.Local.DSN, err)
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	client := docsync.NewHTTPClient(cfg.Remote.BaseURL, &http.Client{Timeout: cfg.Remote.Timeout},
		docsync.WithRetries(cfg.Remote.Retries),
		docsync.WithSaveMethod(cfg.Remote.SaveMethod),
	)
	store := docsync.NewStore(client, localstate.NewFallbackCache(backend), docsync.StoreOptions{
		Metrics: m,
		Logger:  logging.Component(logger, "store"),
	})

	hub := bridge.NewHub(logging.Component(logger, "live"))
	session := docsync.NewSession(store, docsync.SessionOptions{
		PollInterval:      cfg.Sync.PollInterval,
		HeartbeatInterval: cfg.Sync.HeartbeatInterval,
		Jitter:            cfg.Sync.Jitter,
		OnlineWindow:      cfg.Presence.OnlineWindow,
		PositionTimeout:   cfg.Presence.PositionTimeout,
		RefreshLimit:      rate.Limit(cfg.Sync.RefreshRateLimit),
		RefreshBurst:      cfg.Sync.RefreshBurst,
		Positions:         positionProvider(cfg.Presence),
		Notifier:          notify.MultiNotifier{notify.LogNotifier{Log: logging.Component(logger, "notify")}, hub},
		Policy:            relevancePolicy(cfg.Notify),
		Metrics:           m,
		Logger:            logger.SugaredLogger,
	})

	return &app{
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		backend: backend,
		store:   store,
		session: session,
		hub:     hub,
	}, nil
}

// restore loads persisted local state and applies a configured document id,
// which takes precedence over the persisted one.
func (a *app) restore(ctx context.Context) {
	a.session.Restore(ctx)
	if a.cfg.Remote.BinID != "" && docsync.ExtractBinID(a.cfg.Remote.BinID) != a.session.State().BinID() {
		a.session.SetBinID(ctx, a.cfg.Remote.BinID)
	}
}

func (a *app) close() {
	a.session.Stop()
	if err := localstate.Close(a.backend); err != nil {
		a.logger.Warnw("close local state failed", "error", err)
	}
	_ = a.logger.Close()
}

func (a *app) log(component string) *zap.SugaredLogger {
	return logging.Component(a.logger, component)
}

func positionProvider(cfg config.PresenceConfig) geo.PositionProvider {
	switch {
	case cfg.HasStaticPosition():
		return geo.StaticProvider{Position: geo.Position{Latitude: *cfg.StaticLat, Longitude: *cfg.StaticLon}}
	case cfg.GeoURL != "":
		return geo.NewHTTPProvider(cfg.GeoURL)
	default:
		return geo.NoopProvider{}
	}
}

func relevancePolicy(cfg config.NotifyConfig) notify.RelevancePolicy {
	if cfg.SupervisorAlerts {
		return notify.AssigneeOrSupervisor
	}
	return notify.AssigneeOnly
}
