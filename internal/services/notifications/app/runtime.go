// Package server assembles the notification runtime: persistence, the event
// pipeline, live push, and the HTTP and health listeners.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/louisbranch/taskhub/internal/platform/authn"
	"github.com/louisbranch/taskhub/internal/platform/id"
	"github.com/louisbranch/taskhub/internal/platform/logging"
	"github.com/louisbranch/taskhub/internal/platform/timeouts"
	"github.com/louisbranch/taskhub/internal/services/notifications/api/httpapi"
	"github.com/louisbranch/taskhub/internal/services/notifications/api/ws"
	"github.com/louisbranch/taskhub/internal/services/notifications/dispatch"
	"github.com/louisbranch/taskhub/internal/services/notifications/domain"
	"github.com/louisbranch/taskhub/internal/services/notifications/events"
	"github.com/louisbranch/taskhub/internal/services/notifications/metrics"
	"github.com/louisbranch/taskhub/internal/services/notifications/registry"
	"github.com/louisbranch/taskhub/internal/services/notifications/relay/redisrelay"
	"github.com/louisbranch/taskhub/internal/services/notifications/storage"
	notificationsmongo "github.com/louisbranch/taskhub/internal/services/notifications/storage/mongo"
	"github.com/louisbranch/taskhub/internal/services/notifications/storage/sqlite"
	"github.com/louisbranch/taskhub/internal/services/notifications/sweep"
	"github.com/louisbranch/taskhub/internal/services/notifications/translate"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
)

// Store backends accepted by RuntimeConfig.StoreKind.
const (
	StoreSQLite = "sqlite"
	StoreMongo  = "mongo"
)

const (
	defaultDBPath        = "data/notifications.db"
	defaultMongoDatabase = "taskhub"
	defaultEventBuffer   = 256
	mongoConnectAttempts = 5
	mongoConnectInterval = 2 * time.Second
	healthServiceName    = "notifications.runtime"
)

// RuntimeConfig controls notification runtime startup.
type RuntimeConfig struct {
	HTTPAddr   string
	HealthAddr string

	StoreKind     string
	DBPath        string
	MongoURI      string
	MongoDatabase string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	JWTSecret      string
	JWTIssuer      string
	InternalSecret string
	AllowedOrigins []string

	SweepInterval     time.Duration
	EventBuffer       int
	HeartbeatInterval time.Duration
	IdleTimeout       time.Duration

	Logger  logrus.FieldLogger
	Metrics *metrics.Metrics
}

// Server is a fully wired notification runtime bound to its listeners.
type Server struct {
	log      logrus.FieldLogger
	service  *domain.Service
	registry *registry.Registry
	bus      *events.Bus
	dispatch *dispatch.Dispatcher
	handler  events.Handler
	relay    *redisrelay.Relay
	sweeper  *sweep.Sweeper
	push     *ws.Server

	httpServer     *http.Server
	httpListener   net.Listener
	healthListener net.Listener
	grpcServer     *grpc.Server
	healthServer   *health.Server

	closers []func() error
}

// New opens dependencies and binds listeners. Serve runs the server.
func New(ctx context.Context, cfg RuntimeConfig) (srv *Server, err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	log := cfg.Logger
	if log == nil {
		log = logging.Discard()
	}
	if strings.TrimSpace(cfg.HTTPAddr) == "" {
		return nil, fmt.Errorf("http address is required")
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = defaultEventBuffer
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = sweep.DefaultInterval
	}

	verifier, err := authn.NewVerifier(cfg.JWTSecret, cfg.JWTIssuer)
	if err != nil {
		return nil, fmt.Errorf("configure token verifier: %w", err)
	}

	srv = &Server{log: log}
	defer func() {
		if err != nil {
			srv.close()
		}
	}()

	backend, err := srv.openBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}

	m := cfg.Metrics
	if m == nil {
		m = metrics.New()
	}
	srv.registry = registry.New(registry.WithChangeHook(m.SetRegistrySize))
	srv.service = domain.NewService(newDomainStoreAdapter(backend.store), nil, nil)
	srv.dispatch = dispatch.New(srv.registry, log, m)

	var deliverer dispatch.Deliverer = srv.dispatch
	if strings.TrimSpace(cfg.RedisAddr) != "" {
		broker, err := redisrelay.NewRedisBroker(redisrelay.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return nil, fmt.Errorf("connect redis relay: %w", err)
		}
		srv.closers = append(srv.closers, broker.Close)
		instance, err := id.NewID()
		if err != nil {
			return nil, fmt.Errorf("allocate relay instance id: %w", err)
		}
		srv.relay = redisrelay.New(broker, srv.dispatch, instance, log)
		deliverer = srv.relay
	}

	translator := translate.New(srv.service, deliverer, backend.users, log, m)
	srv.bus = events.NewBus(cfg.EventBuffer, log)
	if backend.overdue != nil {
		srv.sweeper = sweep.New(backend.overdue, translator, cfg.SweepInterval, log, m)
	}
	srv.push = ws.NewServer(srv.registry, verifier, log, ws.Options{
		HeartbeatInterval: cfg.HeartbeatInterval,
		IdleTimeout:       cfg.IdleTimeout,
	})

	handler := httpapi.NewHandler(httpapi.Options{
		Service:        srv.service,
		Verifier:       verifier,
		Events:         srv.bus,
		InternalSecret: cfg.InternalSecret,
		Push:           srv.push.Handler(),
		Metrics:        m,
		Log:            log,
		AllowedOrigins: cfg.AllowedOrigins,
	})
	srv.handler = translator

	srv.httpListener, err = net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listen on http address %s: %w", cfg.HTTPAddr, err)
	}
	srv.httpServer = &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: timeouts.ReadHeader,
	}

	if strings.TrimSpace(cfg.HealthAddr) != "" {
		srv.healthListener, err = net.Listen("tcp", cfg.HealthAddr)
		if err != nil {
			_ = srv.httpListener.Close()
			return nil, fmt.Errorf("listen on health address %s: %w", cfg.HealthAddr, err)
		}
		srv.grpcServer = grpc.NewServer()
		srv.healthServer = health.NewServer()
		grpc_health_v1.RegisterHealthServer(srv.grpcServer, srv.healthServer)
		srv.healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
		srv.healthServer.SetServingStatus(healthServiceName, grpc_health_v1.HealthCheckResponse_SERVING)
	}
	return srv, nil
}

type backend struct {
	store   storage.NotificationStore
	users   translate.UserDirectory
	overdue sweep.OverdueTaskSource
}

func (s *Server) openBackend(ctx context.Context, cfg RuntimeConfig) (backend, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.StoreKind)) {
	case "", StoreSQLite:
		path := strings.TrimSpace(cfg.DBPath)
		if path == "" {
			path = defaultDBPath
		}
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return backend{}, fmt.Errorf("create notifications storage dir: %w", err)
			}
		}
		store, err := sqlite.Open(path)
		if err != nil {
			return backend{}, fmt.Errorf("open notifications sqlite store: %w", err)
		}
		s.closers = append(s.closers, store.Close)
		return backend{store: store}, nil
	case StoreMongo:
		client, err := notificationsmongo.Connect(ctx, cfg.MongoURI, mongoConnectAttempts, mongoConnectInterval, s.log)
		if err != nil {
			return backend{}, err
		}
		s.closers = append(s.closers, func() error {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), timeouts.Shutdown)
			defer cancel()
			return client.Disconnect(shutdownCtx)
		})
		dbName := strings.TrimSpace(cfg.MongoDatabase)
		if dbName == "" {
			dbName = defaultMongoDatabase
		}
		db := client.Database(dbName)
		store, err := notificationsmongo.NewStore(ctx, db)
		if err != nil {
			return backend{}, fmt.Errorf("open notifications mongo store: %w", err)
		}
		return backend{
			store:   store,
			users:   notificationsmongo.NewDirectory(db),
			overdue: notificationsmongo.NewOverdueTasks(db),
		}, nil
	default:
		return backend{}, fmt.Errorf("unsupported store kind %q", cfg.StoreKind)
	}
}

// Addr returns the bound HTTP address.
func (s *Server) Addr() string {
	if s == nil || s.httpListener == nil {
		return ""
	}
	return s.httpListener.Addr().String()
}

// HealthAddr returns the bound gRPC health address, if any.
func (s *Server) HealthAddr() string {
	if s == nil || s.healthListener == nil {
		return ""
	}
	return s.healthListener.Addr().String()
}

// Service exposes the notification use-cases.
func (s *Server) Service() *domain.Service { return s.service }

// Events exposes the in-process event bus for same-process task emitters.
func (s *Server) Events() *events.Bus { return s.bus }

// Serve runs every component until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	if s == nil || s.httpServer == nil {
		return errors.New("server is not configured")
	}
	defer s.close()

	// The bus drains on its own context so events accepted before shutdown
	// still reach the translator.
	busCtx, cancelBus := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelBus()

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return s.bus.Run(busCtx, s.handler)
	})
	group.Go(func() error {
		<-groupCtx.Done()
		s.bus.Close()
		return nil
	})
	group.Go(func() error {
		return s.push.RunHeartbeat(groupCtx)
	})
	if s.sweeper != nil {
		group.Go(func() error {
			return s.sweeper.Run(groupCtx)
		})
	}
	if s.relay != nil {
		group.Go(func() error {
			return s.relay.Run(groupCtx)
		})
	}
	if s.grpcServer != nil {
		group.Go(func() error {
			return s.grpcServer.Serve(s.healthListener)
		})
		group.Go(func() error {
			<-groupCtx.Done()
			s.healthServer.Shutdown()
			s.grpcServer.GracefulStop()
			return nil
		})
	}
	group.Go(func() error {
		if err := s.httpServer.Serve(s.httpListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeouts.Shutdown)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.log.WithError(err).Warn("http shutdown")
		}
		// Hijacked websocket connections outlive Shutdown.
		for _, session := range s.registry.All() {
			s.registry.Unregister(session)
			_ = session.Close()
		}
		return nil
	})

	s.log.WithField("addr", s.Addr()).Info("notifications server listening")
	err := group.Wait()
	s.dispatch.Wait()
	return err
}

func (s *Server) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			s.log.WithError(err).Warn("close notifications dependency")
		}
	}
	s.closers = nil
}
