package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/sonder-map/sonder/internal/api"
	"github.com/sonder-map/sonder/internal/config"
	"github.com/sonder-map/sonder/internal/dispatcher"
	"github.com/sonder-map/sonder/internal/kv"
	"github.com/sonder-map/sonder/internal/mapview"
	"github.com/sonder-map/sonder/internal/metrics"
	"github.com/sonder-map/sonder/internal/monitor"
	"github.com/sonder-map/sonder/internal/nav"
	"github.com/sonder-map/sonder/internal/notify"
	"github.com/sonder-map/sonder/internal/presenter"
	"github.com/sonder-map/sonder/internal/reconciler"
	"github.com/sonder-map/sonder/internal/render"
	"github.com/sonder-map/sonder/internal/storage"
	wsstorage "github.com/sonder-map/sonder/internal/storage/websocket"
	"github.com/sonder-map/sonder/pkg/core"
)

const commandScan = "scan"

// daemon keeps a headless map in step with the store and scans for posts
// near the user's entries.
type daemon struct {
	logger     *slog.Logger
	store      storage.Backend
	local      kv.Store
	layer      *mapview.Layer
	dispatcher *dispatcher.Dispatcher
	reconciler *reconciler.Reconciler
	notifier   *notify.Notifier
	presenter  *presenter.Presenter
	metrics    *metrics.Manager
	api        *api.Server
	monitor    *monitor.Service

	interval    time.Duration
	unsubscribe storage.Unsubscribe

	// ctx bounds scans; stop cancels it
	ctx    context.Context
	cancel context.CancelFunc
}

type daemonConfig struct {
	UserID  string
	Notify  config.NotifyConfig
	Map     config.MapConfig
	API     config.APIConfig
	Monitor config.MonitorConfig
}

func newDaemon(cfg daemonConfig, store storage.Backend, local kv.Store, logger *slog.Logger, dlog dispatcher.Logger, m *metrics.Manager) (*daemon, error) {
	d := &daemon{
		logger:   logger,
		store:    store,
		local:    local,
		layer:    mapview.NewLayer(cfg.Map.CenterLat, cfg.Map.CenterLng, cfg.Map.DefaultZoom),
		metrics:  m,
		interval: cfg.Notify.Interval,
	}
	d.ctx, d.cancel = context.WithCancel(context.Background())

	disp, err := dispatcher.New(dlog)
	if err != nil {
		return nil, fmt.Errorf("create dispatcher: %w", err)
	}
	d.dispatcher = disp

	d.reconciler = reconciler.New(d.layer,
		reconciler.WithLogger(logger),
		reconciler.WithPreview(func(e core.Entry) {
			card := render.NewEntryCard(e)
			logger.Info("Entry preview opened", "entryId", e.ID, "text", card.Text)
		}),
	)
	d.reconciler.Register(disp)

	opts := []notify.Option{notify.WithLogger(logger)}
	if cfg.Notify.RecencyDays > 0 {
		opts = append(opts, notify.WithWindow(cfg.Notify.Window()))
	}
	if cfg.Notify.RadiusMeters > 0 {
		opts = append(opts, notify.WithRadius(cfg.Notify.RadiusMeters))
	}
	if cfg.Notify.MaxCandidates > 0 {
		opts = append(opts, notify.WithMaxCandidates(cfg.Notify.MaxCandidates))
	}
	if cfg.Notify.Timeout > 0 {
		opts = append(opts, notify.WithTimeout(cfg.Notify.Timeout))
	}
	d.notifier = notify.New(store, local, cfg.UserID, opts...)
	d.presenter = presenter.New(d.notifier, local, presenter.WithSurface(d.layer), presenter.WithLogger(logger))

	// one queued scan at most; ticks during a scan are dropped
	disp.Register(commandScan, d.handleScan, dispatcher.Buffered(1), dispatcher.Logged())

	if cfg.Monitor.StatusPath != "" {
		d.monitor = monitor.NewService(monitor.Dependencies{
			Map:           d.reconciler,
			Notifications: d.notifier,
			Logger:        logger,
			StatusPath:    cfg.Monitor.StatusPath,
			Interval:      cfg.Monitor.Interval,
		})
	}

	if cfg.API.Enabled {
		registry := prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		d.api = api.New(api.Dependencies{
			Layer:     d.layer,
			Notifier:  d.notifier,
			Presenter: d.presenter,
			Stream:    wsstorage.NewHandler(store, wsstorage.WithSecret(cfg.API.Secret), wsstorage.WithLogger(logger)),
			Registry:  registry,
			Logger:    logger,
		})
	}
	return d, nil
}

func (d *daemon) handleScan(dispatcher.Event) (any, error) {
	start := time.Now()
	list, err := d.notifier.Scan(d.ctx)
	if d.metrics != nil {
		d.metrics.RecordScan(metrics.ScanResult{
			Owner:         d.notifier.Owner(),
			Notifications: len(list),
			Unread:        d.notifier.UnreadCount(),
			Duration:      time.Since(start),
			Err:           err,
			At:            start,
		})
		d.metrics.RecordMap(d.reconciler.Count(), d.reconciler.OccupiedCells(), start)
	}
	if err != nil {
		return nil, err
	}
	return len(list), nil
}

// start subscribes to the store, flies to any pending destination and
// requests the first scan. Scans run until ctx is done or stop is called.
func (d *daemon) start(ctx context.Context) error {
	d.cancel()
	d.ctx, d.cancel = context.WithCancel(ctx)

	unsubscribe, err := d.store.Subscribe(ctx, func(c core.Change) {
		if _, err := d.dispatcher.Dispatch(dispatcher.ChangeEvent(c)); err != nil {
			d.logger.Warn("Change not applied", "type", c.Type, "id", c.ID, "error", err)
		}
	}, d.reconciler.HandleStreamError)
	if err != nil {
		d.reconciler.HandleStreamError(err)
		return fmt.Errorf("subscribe to entries: %w", err)
	}
	d.unsubscribe = unsubscribe

	if nav.FlyToPending(d.layer, d.local) {
		cam := d.layer.Camera()
		d.logger.Info("Flew to pending destination", "lat", cam.Lat, "lng", cam.Lng)
	}
	d.requestScan()

	if d.monitor != nil {
		if err := d.monitor.Start(); err != nil {
			d.logger.Warn("Status monitor not started", "error", err)
		}
	}
	return nil
}

func (d *daemon) requestScan() {
	if _, err := d.dispatcher.Dispatch(dispatcher.Trigger(commandScan)); err != nil {
		d.logger.Debug("Scan request dropped", "error", err)
	}
}

// run serves the API and schedules scans until ctx is done.
func (d *daemon) run(ctx context.Context, addr string) error {
	if err := d.start(ctx); err != nil {
		return err
	}

	errCh := make(chan error, 1)
	if d.api != nil {
		go func() { errCh <- d.api.ListenAndServe(addr) }()
	}

	interval := d.interval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errCh:
			if err != nil {
				return fmt.Errorf("http api: %w", err)
			}
			return nil
		case <-ticker.C:
			d.requestScan()
		}
	}
}

// stop shuts down the API, aborts a running scan and drains queued work.
func (d *daemon) stop() {
	d.cancel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if d.api != nil {
		if err := d.api.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			d.logger.Warn("HTTP API shutdown failed", "error", err)
		}
	}
	if d.monitor != nil {
		d.monitor.Stop()
	}
	if d.unsubscribe != nil {
		d.unsubscribe()
	}
	d.dispatcher.Close()
	if d.metrics != nil {
		if err := d.metrics.Close(); err != nil {
			d.logger.Warn("Failed to close metrics", "error", err)
		}
	}
}
