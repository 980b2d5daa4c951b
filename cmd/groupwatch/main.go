package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rickgao/groupshare/internal/auth"
	"github.com/rickgao/groupshare/internal/config"
	"github.com/rickgao/groupshare/internal/connection"
	"github.com/rickgao/groupshare/internal/model"
	"github.com/rickgao/groupshare/internal/realtime"
	"github.com/rickgao/groupshare/internal/stomp"
	"github.com/rickgao/groupshare/internal/version"
)

func main() {
	configPath := flag.String("config", "", "path to config file (optional)")
	wsURL := flag.String("url", "", "WebSocket URL (overrides service.ws_url)")
	groupID := flag.String("group", "", "group ID to join (required)")
	userID := flag.String("user", "", "user ID to publish locations as")
	lat := flag.Float64("lat", 0, "latitude to publish")
	lng := flag.Float64("lng", 0, "longitude to publish")
	interval := flag.Duration("interval", 0, "publish a location every interval (0 = listen only)")
	verbose := flag.Bool("verbose", false, "enable debug logging and frame tracing")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	cfg, err := loadConfig(*configPath, *wsURL, *verbose)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	if *groupID == "" {
		logger.Error("-group is required")
		os.Exit(2)
	}

	// Validated before connecting.
	update, err := locationFromFlags(*userID, *lat, *lng, *interval)
	if err != nil {
		logger.Error("invalid location flags", "error", err)
		os.Exit(2)
	}

	logger.Info("starting groupwatch",
		"version", version.Version,
		"commit", version.Commit,
		"url", cfg.Service.WSURL,
		"group_id", *groupID,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	tokens := auth.NewCachingProvider(tokenSource(cfg.Auth),
		auth.WithRefreshSkew(cfg.Auth.RefreshSkew),
		auth.WithLogger(logger),
	)

	mgr, err := realtime.NewManager(*groupID, tokens, newDialer(cfg, logger),
		realtime.WithLogger(logger),
		realtime.WithRetry(cfg.Session.MaxAttempts, cfg.Session.RetryDelay),
		realtime.WithAuthFailureMarker(cfg.Session.AuthMarker()),
	)
	if err != nil {
		logger.Error("failed to create manager", "error", err)
		os.Exit(1)
	}

	mgr.SetLocationCallback(func(u model.LocationUpdate) {
		logger.Info("location",
			"user_id", u.UserID,
			"lat", u.Latitude,
			"lng", u.Longitude,
			"status", u.Status,
		)
	})
	mgr.SetFavoritePlaceEditedCallback(func(p model.FavoritePlacePatch) {
		attrs := []any{"id", p.ID}
		if p.PlaceName != nil {
			attrs = append(attrs, "name", *p.PlaceName)
		}
		for k, v := range p.Extra {
			attrs = append(attrs, k, string(v))
		}
		logger.Info("favorite place edited", attrs...)
	})
	mgr.SetFavoritePlaceDeletedCallback(func(r model.FavoritePlaceRef) {
		logger.Info("favorite place deleted", "id", r.ID)
	})

	if err := mgr.Connect(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		logger.Error("failed to connect", "error", err, "auth", realtime.IsAuthError(err))
		os.Exit(1)
	}
	defer mgr.Disconnect()

	mgr.SubscribeToFavoritePlaces(func(p model.FavoritePlace) {
		logger.Info("favorite place added",
			"id", p.ID,
			"name", p.PlaceName,
			"lat", p.Latitude,
			"lng", p.Longitude,
			"radius_m", p.Radius,
		)
	})

	g, gctx := errgroup.WithContext(ctx)

	// Session watcher
	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case <-mgr.Done():
			cause := mgr.Err()
			if cause == nil {
				cause = realtime.ErrClosed
			}
			return fmt.Errorf("session ended: %w", cause)
		}
	})

	// Location publisher
	if *interval > 0 {
		g.Go(func() error {
			return publish(gctx, mgr, update, *interval, logger)
		})
	}

	logger.Info("groupwatch running", "publish_interval", *interval)

	if err := g.Wait(); err != nil {
		logger.Error("groupwatch stopped", "error", err)
		mgr.Disconnect()
		os.Exit(1)
	}

	logger.Info("groupwatch stopped")
}

// loadConfig reads the config file, or starts from defaults when none is
// given, then applies flag overrides.
func loadConfig(path, wsURL string, verbose bool) (*config.Config, error) {
	var cfg *config.Config
	if path != "" {
		loaded, err := config.LoadWithDefaults(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		cfg = config.Default()
	}

	if wsURL != "" {
		cfg.Service.WSURL = wsURL
	}
	if verbose {
		cfg.Log.Level = "debug"
		cfg.Session.Debug = true
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	level, _ := config.ParseLevel(cfg.Level)
	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

// tokenSource picks the first configured token source.
func tokenSource(cfg config.AuthConfig) auth.Provider {
	switch {
	case cfg.Token != "":
		return auth.Static(cfg.Token)
	case cfg.TokenEnv != "":
		return auth.EnvProvider{Name: cfg.TokenEnv}
	default:
		return auth.FileProvider{Path: cfg.TokenFile}
	}
}

func newDialer(cfg *config.Config, logger *slog.Logger) realtime.Dialer {
	connCfg := connection.DefaultClientConfig()
	connCfg.URL = cfg.Service.WSURL
	connCfg.HandshakeTimeout = cfg.Transport.HandshakeTimeout
	connCfg.PingInterval = max(cfg.Transport.PingInterval, 0)
	connCfg.PingTimeout = cfg.Transport.PingTimeout
	connCfg.WriteTimeout = cfg.Transport.WriteTimeout
	connCfg.BufferSize = cfg.Transport.BufferSize

	stompCfg := stomp.DefaultConfig()
	stompCfg.HeartbeatOutgoing = max(cfg.Session.HeartbeatOutgoing, 0)
	stompCfg.HeartbeatIncoming = max(cfg.Session.HeartbeatIncoming, 0)
	stompCfg.HandshakeTimeout = cfg.Session.HandshakeTimeout
	stompCfg.DisconnectTimeout = cfg.Session.DisconnectTimeout
	stompCfg.Debug = cfg.Session.Debug

	return realtime.WebSocketDialer(connCfg, stompCfg, logger)
}

// locationFromFlags builds the update to publish. It is only validated when
// publishing is enabled.
func locationFromFlags(userID string, lat, lng float64, interval time.Duration) (model.LocationUpdate, error) {
	update := model.LocationUpdate{
		UserID:    userID,
		Latitude:  lat,
		Longitude: lng,
		Status:    model.StatusActive,
	}
	if interval <= 0 {
		return update, nil
	}
	if err := update.Validate(); err != nil {
		return model.LocationUpdate{}, err
	}
	return update, nil
}

// publish sends update every interval until ctx ends. Failed sends are
// logged and retried on the next tick.
func publish(ctx context.Context, mgr *realtime.Manager, update model.LocationUpdate, interval time.Duration, logger *slog.Logger) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	sent, failed := 0, 0
	for {
		select {
		case <-ctx.Done():
			logger.Info("publisher stopped", "sent", sent, "failed", failed)
			return nil
		case <-ticker.C:
			if mgr.SendLocation(update) {
				sent++
			} else {
				failed++
				logger.Warn("location not sent", "failed", failed)
			}
		}
	}
}
