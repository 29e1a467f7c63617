package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"golang.org/x/sync/errgroup"

	"github.com/thrillee/aegis-smpp/internal/auth"
	"github.com/thrillee/aegis-smpp/internal/config"
	"github.com/thrillee/aegis-smpp/internal/dlr"
	"github.com/thrillee/aegis-smpp/internal/httpserver"
	"github.com/thrillee/aegis-smpp/internal/logging"
	"github.com/thrillee/aegis-smpp/internal/mno"
	"github.com/thrillee/aegis-smpp/internal/notification"
	"github.com/thrillee/aegis-smpp/internal/reassembly"
	"github.com/thrillee/aegis-smpp/internal/session"
	"github.com/thrillee/aegis-smpp/internal/smppserver"
	"github.com/thrillee/aegis-smpp/internal/sms"
	"github.com/thrillee/aegis-smpp/internal/sp"
	"github.com/thrillee/aegis-smpp/internal/stats"
	"github.com/thrillee/aegis-smpp/internal/workers"
)

const shutdownTimeout = 20 * time.Second

func main() {
	if len(os.Args) == 3 && os.Args[1] == "hash-password" {
		hash, err := auth.HashPassword(os.Args[2])
		if err != nil {
			log.Fatalf("Failed to hash password: %v", err)
		}
		fmt.Println(hash)
		return
	}

	appCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		// slog is not configured yet
		log.Fatalf("Failed to load configuration: %v", err)
	}

	level := cfg.Level()
	logger := logging.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     level,
		AddSource: level <= slog.LevelDebug,
	}))
	slog.SetDefault(logger)
	slog.Info("Logging initialized", slog.String("level", level.String()))

	if err := run(appCtx, cfg, logger); err != nil {
		slog.Error("Gateway stopped with error", slog.Any("error", err))
		os.Exit(1)
	}
	slog.Info("Application gracefully stopped")
}

type stores struct {
	dlr        dlr.Store
	origins    dlr.Store
	reassembly reassembly.Store
	queue      sms.Queue
	close      func()
}

// openStores connects to Redis when configured and falls back to
// in-process stores otherwise.
func openStores(ctx context.Context, cfg config.RedisConfig, queueName string, logger *slog.Logger) (*stores, error) {
	if cfg.Addr == "" {
		slog.Warn("REDIS_ADDR not set, using in-process stores; state is lost on restart")
		return &stores{
			dlr:        dlr.NewMemoryStore(cfg.DLRTTL),
			origins:    dlr.NewMemoryStore(cfg.DLRTTL),
			reassembly: reassembly.NewMemoryStore(cfg.ConcatTTL),
			queue:      sms.NewMemoryQueue(),
			close:      func() {},
		}, nil
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	slog.Info("Redis connection established", slog.String("addr", cfg.Addr))
	return &stores{
		dlr:        dlr.NewRedisStore(client, cfg.DLRTTL, logger),
		origins:    dlr.NewRedisStore(client, cfg.DLRTTL, logger),
		reassembly: reassembly.NewRedisStore(client, cfg.ConcatTTL),
		queue:      sms.NewRedisQueue(client, queueName, logger),
		close:      func() { client.Close() },
	}, nil
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	st, err := openStores(ctx, cfg.RedisConfig, cfg.QueueConfig.Name, logger)
	if err != nil {
		return err
	}
	defer st.close()

	metrics := stats.NewPrometheus()
	timers := cfg.SessionConfig.Timers()

	creds, _ := cfg.ServerConfig.Credentials()
	authenticator := smppserver.StaticAuthenticator(creds)

	// The server routes into the gateway and the gateway delivers through
	// the server.
	var gateway *sp.Gateway
	server, err := smppserver.NewServer(smppserver.Config{
		Addr:           cfg.ServerConfig.Addr,
		SystemID:       cfg.ServerConfig.SystemID,
		MaxConnections: cfg.ServerConfig.MaxConnections,
		Session:        timers,
	}, smppserver.Options{
		Router: smppserver.RouterFunc(func(ctx context.Context, sub smppserver.Submission) error {
			return gateway.Route(ctx, sub)
		}),
		Authenticator: authenticator,
		Reassembly:    st.reassembly,
		Stats:         metrics.ForSession("server"),
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	mnoCfg := cfg.MNOClientConfig
	gateway = sp.NewGateway(sp.Config{
		ConnectorID: mnoCfg.ID,
		MessageTTL:  cfg.QueueConfig.MessageTTL,
		MOSystemID:  cfg.ServerConfig.MOSystemID,
	}, st.queue, st.origins, server, logger)

	carriers := mno.NewManager(logger)
	if mnoCfg.Enabled {
		bindType, _ := session.ParseBindType(mnoCfg.BindType)
		breakerCfg := mnoCfg.Breaker()
		breakerCfg.Logger = logger
		connector, err := mno.NewSMPPConnector(mno.SMPPConnectorConfig{
			ID:             mnoCfg.ID,
			Addr:           mnoCfg.Addr(),
			BindType:       bindType,
			Bind:           mnoCfg.Bind(),
			Session:        timers,
			LongMessage:    cfg.LongMessageConfig.Options(),
			ConnectTimeout: mnoCfg.ConnectTimeout,
			ReconnectDelay: mnoCfg.ReconnectDelay,
		}, mno.ConnectorOptions{
			DLRStore:   st.dlr,
			Reassembly: st.reassembly,
			OnInbound:  gateway.HandleInbound,
			Stats:      metrics.ForSession(mnoCfg.ID),
			Breaker:    mno.NewCircuitBreaker(breakerCfg),
			Logger:     logger,
		})
		if err != nil {
			return err
		}
		if err := carriers.Add(connector); err != nil {
			return err
		}
	} else {
		slog.Warn("Carrier connector disabled; queued messages will fail", slog.String("connector_id", mnoCfg.ID))
	}

	dispatcher := sms.NewDispatcher(st.queue, carriers, cfg.QueueConfig.Options(), gateway.OnResult, logger)
	loops := workers.NewManager(logger, dispatcher.Loops()...)
	if cfg.NotifyConfig.Recipient != "" {
		watcher := notification.NewConnectorWatcher(carriers, notification.NewLogNotifier(logger), cfg.NotifyConfig.Recipient, logger)
		loops.Add(watcher.Loop(cfg.NotifyConfig.Interval))
	}

	api := httpserver.NewServer(cfg.HttpConfig.Server(), httpserver.Options{
		Submitter:   gateway,
		Credentials: authenticator,
		Connectors:  carriers,
		Metrics:     metrics.Handler(),
		Logger:      logger,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return carriers.Run(gctx) })
	g.Go(func() error { return loops.Run(gctx) })
	if cfg.ServerConfig.Enabled {
		g.Go(func() error { return server.ListenAndServe(gctx) })
	}
	if cfg.HttpConfig.Addr != "" {
		g.Go(api.ListenAndServe)
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return api.Shutdown(shutdownCtx)
		})
	}

	slog.Info("Gateway started",
		slog.Bool("server", cfg.ServerConfig.Enabled),
		slog.Bool("carrier", mnoCfg.Enabled),
		slog.String("http_addr", cfg.HttpConfig.Addr),
	)
	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
