package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/PaulBabatuyi/recircle-chat/internal/data"
	"github.com/PaulBabatuyi/recircle-chat/internal/db"
	"github.com/PaulBabatuyi/recircle-chat/internal/middleware"
	"github.com/PaulBabatuyi/recircle-chat/internal/realtime"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// A missing .env is fine; the environment may already be set.
	_ = godotenv.Load()

	if err := run(); err != nil {
		slog.Error("server.exit", "err", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	log := newLogger(os.Stdout, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Stores: MongoDB when configured, in-process otherwise.
	var (
		users data.UserStore
		convs data.ConversationStore
		ready func(context.Context) error
	)
	if cfg.MongoURI != "" {
		dbClient, err := db.New(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return err
		}
		defer func() {
			_ = dbClient.Close(context.Background())
		}()
		if err := dbClient.CreateIndexes(ctx); err != nil {
			return fmt.Errorf("create indexes: %w", err)
		}
		usersStore := data.NewUsersStore(dbClient.UsersCollection())
		users = usersStore
		convs = data.NewConversationsStore(dbClient.ConversationsCollection(), usersStore)
		ready = dbClient.Ping
		log.Info("store.mongo", "database", cfg.MongoDatabase)
	} else {
		memUsers := data.NewMemoryUsers()
		users = memUsers
		convs = data.NewMemoryConversations(memUsers)
		log.Warn("store.memory", "reason", "MONGODB_URI not set; data is lost on restart")
	}

	jwtMgr := cfg.jwtManager()

	// Credential endpoints get a small burst to allow a couple of quick
	// retries; channel events get their own budget.
	var authLimiter, eventLimiter middleware.Limiter
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		authLimiter = middleware.NewRedisLimiter(rdb, "recircle:rl:auth:", cfg.RateLimitRPM, time.Minute, log)
		eventLimiter = middleware.NewRedisLimiter(rdb, "recircle:rl:events:", cfg.EventRateRPM, time.Minute, log)
		log.Info("ratelimit.redis", "addr", cfg.RedisAddr)
	} else {
		authStore := middleware.NewLimiterStore(cfg.RateLimitRPM, 3, time.Minute)
		defer authStore.Stop()
		eventStore := middleware.NewLimiterStore(cfg.EventRateRPM, 0, time.Minute)
		defer eventStore.Stop()
		authLimiter, eventLimiter = authStore, eventStore
	}

	hub := realtime.NewHub(log)
	defer hub.Close()

	var relay realtime.Relay = realtime.NewLocalRelay(hub)
	if cfg.NATSURL != "" {
		natsRelay, err := realtime.NewNATSRelay(realtime.DefaultNATSConfig(cfg.NATSURL), hub, log)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer natsRelay.Close()
		relay = natsRelay
		log.Info("relay.nats", "url", cfg.NATSURL)
	}

	channel := realtime.NewChannel(realtime.ChannelConfig{
		Store:   convs,
		Users:   users,
		Relay:   relay,
		Limiter: eventLimiter,
		Log:     log,
		Timeout: cfg.StoreTimeout,
	})
	ws := realtime.NewWSGateway(log, hub, channel, jwtMgr, realtime.WSConfig{
		OriginPatterns: cfg.WSOriginPatterns,
		SendQueue:      cfg.WSSendQueue,
		Heartbeat:      cfg.WSHeartbeat,
	})

	srv := newServer(log, users, convs, jwtMgr, hub, channel, ws, authLimiter)
	srv.ready = ready
	srv.sendQueue = cfg.WSSendQueue

	grpcServer, err := srv.newGRPCServer(cfg)
	if err != nil {
		return err
	}
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ErrorLog:          slog.NewLogLogger(log.Handler(), slog.LevelWarn),
	}

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.GRPCAddr, err)
	}

	errCh := make(chan error, 2)
	go func() {
		log.Info("grpc.listen", "addr", cfg.GRPCAddr)
		if err := grpcServer.Serve(lis); err != nil {
			errCh <- fmt.Errorf("grpc: %w", err)
		}
	}()
	go func() {
		log.Info("http.listen", "addr", cfg.HTTPAddr, "tls", cfg.TLSCert != "")
		var err error
		if cfg.TLSCert != "" && cfg.TLSKey != "" {
			err = httpServer.ListenAndServeTLS(cfg.TLSCert, cfg.TLSKey)
		} else {
			err = httpServer.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("server.shutdown")
	case err := <-errCh:
		log.Error("server.fail", "err", err)
		stop()
		shutdown(log, hub, httpServer, grpcServer)
		return err
	}
	shutdown(log, hub, httpServer, grpcServer)
	return nil
}

// newGRPCServer builds the gRPC server with TLS when configured and the
// rate limit -> auth interceptor chain.
func (s *Server) newGRPCServer(cfg Config) (*grpc.Server, error) {
	var opts []grpc.ServerOption
	if cfg.TLSCert != "" && cfg.TLSKey != "" {
		creds, err := credentials.NewServerTLSFromFile(cfg.TLSCert, cfg.TLSKey)
		if err != nil {
			return nil, fmt.Errorf("failed to load TLS certs: %w", err)
		}
		opts = append(opts, grpc.Creds(creds))
	}
	opts = append(opts,
		grpc.ChainUnaryInterceptor(
			middleware.RateLimitUnaryInterceptor(s.limiter, publicMethods, nil),
			s.authUnaryInterceptor(),
		),
		grpc.ChainStreamInterceptor(s.authStreamInterceptor()),
	)

	g := grpc.NewServer(opts...)
	registerService(g, s)
	return g, nil
}

// shutdown closes the hub first so open sockets and event streams hang up,
// then stops accepting work and waits for in-flight requests.
func shutdown(log *slog.Logger, hub *realtime.Hub, httpServer *http.Server, grpcServer *grpc.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	hub.Close()

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Warn("http.shutdown.fail", "err", err)
	}

	done := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		grpcServer.Stop()
	}
}
