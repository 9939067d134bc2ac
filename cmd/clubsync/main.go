// Command clubsync runs the club synchronization engine: it resolves the
// session, keeps local copies of the club's read-mostly resources fresh,
// applies optimistic writes, listens on the push channel for privileged
// roles and serves a loopback status API.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/everhouse/clubsync/internal/api"
	"github.com/everhouse/clubsync/internal/cache"
	"github.com/everhouse/clubsync/internal/config"
	"github.com/everhouse/clubsync/internal/derive"
	"github.com/everhouse/clubsync/internal/logging"
	"github.com/everhouse/clubsync/internal/model"
	"github.com/everhouse/clubsync/internal/mutate"
	"github.com/everhouse/clubsync/internal/realtime"
	"github.com/everhouse/clubsync/internal/session"
	"github.com/everhouse/clubsync/internal/status"
	"github.com/everhouse/clubsync/internal/store"
	"github.com/everhouse/clubsync/internal/syncer"
	"github.com/everhouse/clubsync/internal/version"
)

// Version information - injected at build time via ldflags.
var (
	buildVersion = ""
	buildCommit  = ""
	buildTime    = ""
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	envFile := flag.String("env", ".env", "environment file to load")
	flag.Parse()

	buildInfo := version.Info{
		Version:   buildVersion,
		GitCommit: buildCommit,
		BuildTime: buildTime,
	}
	if *showVersion {
		fmt.Println("clubsync", buildInfo.String())
		return
	}

	if err := godotenv.Load(*envFile); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "loading %s: %v\n", *envFile, err)
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if err := run(cfg, buildInfo); err != nil {
		slog.Error("engine stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, buildInfo version.Info) error {
	db, err := store.NewDB(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() { _ = db.Close() }()

	if err := store.Migrate(db); err != nil {
		return fmt.Errorf("migrating database: %w", err)
	}
	st := store.New(db)

	logger := buildLogger(cfg, st)
	slog.SetDefault(logger)
	logger.Info("clubsync starting",
		"version", buildInfo.String(),
		"env", cfg.Env,
		"api_url", cfg.APIBaseURL,
	)

	byteCache, err := cache.New(cache.FactoryConfig{
		RedisURL:        cfg.RedisURL,
		Prefix:          cfg.CachePrefix,
		DefaultTTL:      time.Duration(cfg.CacheTTL) * time.Second,
		MaxSize:         cfg.CacheMaxSize,
		CleanupInterval: time.Minute,
	})
	if err != nil {
		return fmt.Errorf("creating cache: %w", err)
	}
	defer func() { _ = byteCache.Close() }()

	client := api.NewClient(api.Options{
		BaseURL:        cfg.APIBaseURL,
		RequestTimeout: cfg.RequestTimeout,
		UserAgent:      "clubsync/" + buildInfo.String(),
		Logger:         logger,
	})

	var bypass *model.MemberProfile
	if cfg.DevMemberEmail != "" && cfg.IsDevelopment() {
		bypass = &model.MemberProfile{
			ID:    "dev",
			Email: cfg.DevMemberEmail,
			Role:  model.RoleAdmin,
		}
	}
	resolver := session.NewResolver(client, st, logger, bypass)

	eng := syncer.New(syncer.Options{
		API:            client,
		Store:          st,
		Cache:          byteCache,
		Logger:         logger,
		SyncInterval:   cfg.SyncInterval,
		ThrottleWindow: cfg.ThrottleWindow,
		RetryBaseDelay: cfg.RetryBaseDelay,
		RetryCeiling:   cfg.RetryCeiling,
		CacheTTL:       time.Duration(cfg.CacheTTL) * time.Second,
	})

	// Derived state and the collections behind the write paths.
	badge := &derive.PendingBadge{}
	dismissed := derive.NewDismissedSet(client, st, byteCache, logger)
	announcements := wireAnnouncements(client, eng, logger)
	cafeMenu := wireCafeMenu(client, eng, logger)
	events := wireEvents(client, eng, logger)
	renderer := derive.NewRenderer()
	clubTZ, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return fmt.Errorf("loading timezone: %w", err)
	}

	eng.Subscribe(model.ResourceNotifications, func(data []byte) {
		var counts model.NotificationCounts
		if err := json.Unmarshal(data, &counts); err != nil {
			logger.Warn("bad notification counts payload", "error", err)
			return
		}
		badge.Set(counts)
	})

	// Push channel: refetch on events, gated on the session role.
	registry := realtime.NewRegistry(logger)
	router := realtime.NewRouter(registry, func(key string) {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.RequestTimeout+time.Second)
		defer cancel()
		eng.Invalidate(ctx, key)
		if _, err := eng.FetchAndCache(ctx, key); err != nil {
			logger.Warn("event-triggered refresh failed", "key", key, "error", err)
		}
	}, cfg.DebounceWindow, cfg.RefreshCooldown, logger)
	defer router.Close()

	pushURL, err := cfg.WebSocketURL()
	if err != nil {
		return err
	}
	conn := realtime.NewConn(realtime.ConnOptions{
		URL:     pushURL,
		Session: resolver,
		Handler: router.Handle,
		Logger:  logger,
	})
	defer conn.Close()
	resolver.OnChange(conn.Evaluate)

	statusSrv := status.New(status.Options{
		Addr:          cfg.StatusAddr(),
		Session:       resolver,
		Syncer:        eng,
		Cache:         byteCache,
		Build:         buildInfo,
		Logger:        logger,
		Announcements: announcements,
		CafeMenu:      cafeMenu,
		Events:        events,
		Bookings:      client,
		Dismiss:       dismissed.Dismiss,
		Badge:         badge,
		ActiveAnnouncements: func() []derive.RenderedAnnouncement {
			day := model.CivilDateOf(time.Now().In(clubTZ))
			active := derive.ActiveAnnouncements(announcements.Collection().Items(), day)
			return derive.RenderAll(renderer, derive.UnseenAnnouncements(active, dismissed))
		},
	})
	statusErr := make(chan error, 1)
	go func() { statusErr <- statusSrv.Start() }()

	// One-shot session resolution unblocks everything downstream.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	resolver.Resolve(ctx)
	if id := resolver.Identity(); id != nil {
		dismissed.Load(ctx, id.Email)
	}

	if err := eng.Start(); err != nil {
		return err
	}

	if n, err := st.PruneEventLog(ctx, time.Now().AddDate(0, 0, -30)); err != nil {
		logger.Warn("event log prune failed", "error", err)
	} else if n > 0 {
		logger.Info("event log pruned", "deleted", n)
	}

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-statusErr:
		if err != nil {
			return fmt.Errorf("status server: %w", err)
		}
	}

	eng.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := statusSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("status server shutdown", "error", err)
	}
	logger.Info("clubsync stopped")
	return nil
}

// feedCollection keeps a collection replaced from every fresh sync
// payload for its resource key.
func feedCollection[T mutate.Resource](eng *syncer.Syncer, key string, logger *slog.Logger) *mutate.Collection[T] {
	col := mutate.NewCollection[T]()
	eng.Subscribe(key, func(data []byte) {
		var items []T
		if err := json.Unmarshal(data, &items); err != nil {
			logger.Warn("bad resource payload", "key", key, "error", err)
			return
		}
		col.Replace(items)
	})
	return col
}

// wireAnnouncements binds the announcement coordinator to the server's
// write endpoints and keeps its collection fed from sync refreshes.
func wireAnnouncements(client *api.Client, eng *syncer.Syncer, logger *slog.Logger) *mutate.Coordinator[model.Announcement] {
	return mutate.NewCoordinator(mutate.Options[model.Announcement]{
		Collection: feedCollection[model.Announcement](eng, model.ResourceAnnouncements, logger),
		Logger:     logger,
		WithID: func(a model.Announcement, id string) model.Announcement {
			a.ID = id
			return a
		},
		Remote: mutate.RemoteOps[model.Announcement]{
			Create: func(ctx context.Context, a model.Announcement) (model.Announcement, error) {
				out, err := client.CreateAnnouncement(ctx, &a)
				if err != nil {
					return model.Announcement{}, err
				}
				return *out, nil
			},
			Update: func(ctx context.Context, a model.Announcement) (model.Announcement, error) {
				out, err := client.UpdateAnnouncement(ctx, &a)
				if err != nil {
					return model.Announcement{}, err
				}
				return *out, nil
			},
			Delete: client.DeleteAnnouncement,
		},
	})
}

// wireCafeMenu does the same for the café menu. Creates route through the
// client, which derives a slug from the item name when none is given.
func wireCafeMenu(client *api.Client, eng *syncer.Syncer, logger *slog.Logger) *mutate.Coordinator[model.CafeItem] {
	return mutate.NewCoordinator(mutate.Options[model.CafeItem]{
		Collection: feedCollection[model.CafeItem](eng, model.ResourceCafeMenu, logger),
		Logger:     logger,
		WithID: func(item model.CafeItem, id string) model.CafeItem {
			item.ID = id
			return item
		},
		Remote: mutate.RemoteOps[model.CafeItem]{
			Create: func(ctx context.Context, item model.CafeItem) (model.CafeItem, error) {
				out, err := client.CreateCafeItem(ctx, &item)
				if err != nil {
					return model.CafeItem{}, err
				}
				return *out, nil
			},
			Update: func(ctx context.Context, item model.CafeItem) (model.CafeItem, error) {
				out, err := client.UpdateCafeItem(ctx, &item)
				if err != nil {
					return model.CafeItem{}, err
				}
				return *out, nil
			},
			Delete: client.DeleteCafeItem,
		},
	})
}

// wireEvents does the same for club events.
func wireEvents(client *api.Client, eng *syncer.Syncer, logger *slog.Logger) *mutate.Coordinator[model.ClubEvent] {
	return mutate.NewCoordinator(mutate.Options[model.ClubEvent]{
		Collection: feedCollection[model.ClubEvent](eng, model.ResourceEvents, logger),
		Logger:     logger,
		WithID: func(ev model.ClubEvent, id string) model.ClubEvent {
			ev.ID = id
			return ev
		},
		Remote: mutate.RemoteOps[model.ClubEvent]{
			Create: func(ctx context.Context, ev model.ClubEvent) (model.ClubEvent, error) {
				out, err := client.CreateClubEvent(ctx, &ev)
				if err != nil {
					return model.ClubEvent{}, err
				}
				return *out, nil
			},
			Update: func(ctx context.Context, ev model.ClubEvent) (model.ClubEvent, error) {
				out, err := client.UpdateClubEvent(ctx, &ev)
				if err != nil {
					return model.ClubEvent{}, err
				}
				return *out, nil
			},
			Delete: client.DeleteClubEvent,
		},
	})
}

func buildLogger(cfg *config.Config, st *store.Store) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var inner slog.Handler
	if cfg.IsDevelopment() {
		inner = slog.NewTextHandler(os.Stderr, opts)
	} else {
		inner = slog.NewJSONHandler(os.Stderr, opts)
	}
	return slog.New(logging.NewEventLogHandler(inner, st))
}
