// Package app wires the session core runtime and gRPC lifecycle: the
// broadcaster, room registry, connection supervisor, recovery
// coordinator and persistence gateway, plus the health endpoint the
// deployment probes.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"path/filepath"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/louisbranch/roundtable/internal/platform/config"
	"github.com/louisbranch/roundtable/internal/platform/timeouts"
	"github.com/louisbranch/roundtable/internal/storage"
	"github.com/louisbranch/roundtable/internal/storage/sqlite"
	"github.com/louisbranch/roundtable/internal/table/broadcast"
	"github.com/louisbranch/roundtable/internal/table/connection"
	"github.com/louisbranch/roundtable/internal/table/event"
	"github.com/louisbranch/roundtable/internal/table/recovery"
	"github.com/louisbranch/roundtable/internal/table/registry"
	"github.com/louisbranch/roundtable/internal/table/room"
	"github.com/louisbranch/roundtable/internal/table/rules"
	"github.com/louisbranch/roundtable/internal/telemetry"
)

type serverEnv struct {
	DBPath          string `env:"ROUNDTABLE_DB_PATH"`
	RoomCapacity    int    `env:"ROUNDTABLE_ROOM_CAPACITY"`
	BoardWidth      int    `env:"ROUNDTABLE_BOARD_WIDTH" envDefault:"30"`
	BoardHeight     int    `env:"ROUNDTABLE_BOARD_HEIGHT" envDefault:"30"`
	MaxMoveDistance int    `env:"ROUNDTABLE_MAX_MOVE_DISTANCE" envDefault:"6"`
}

func loadServerEnv() serverEnv {
	var cfg serverEnv
	_ = config.ParseEnv(&cfg)
	if strings.TrimSpace(cfg.DBPath) == "" {
		cfg.DBPath = filepath.Join("data", "roundtable.db")
	}
	return cfg
}

// Server hosts the session core and its gRPC health endpoint.
type Server struct {
	listener   net.Listener
	grpcServer *grpc.Server
	health     *health.Server

	store       *sqlite.Store
	broadcaster *broadcast.Broadcaster
	registry    *registry.Registry
	supervisor  *connection.Supervisor
	coordinator *recovery.Coordinator
	emitter     *telemetry.Emitter
}

// New creates a configured server listening on the provided port.
func New(port int) (*Server, error) {
	return NewWithAddr(fmt.Sprintf(":%d", port))
}

// NewWithAddr creates a configured server for the provided address.
func NewWithAddr(addr string) (*Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	srvEnv := loadServerEnv()
	store, err := sqlite.Open(srvEnv.DBPath)
	if err != nil {
		_ = listener.Close()
		return nil, err
	}

	gateway := storage.NewGateway(storage.DefaultPolicy(), store)
	broadcaster := broadcast.New(broadcast.Config{})
	reg := registry.New(registry.Config{
		Capacity: srvEnv.RoomCapacity,
		Rules: rules.GridRules{
			BoardWidth:      srvEnv.BoardWidth,
			BoardHeight:     srvEnv.BoardHeight,
			MaxMoveDistance: srvEnv.MaxMoveDistance,
		},
		Broadcaster: broadcaster,
		Persister:   gateway,
	})
	supervisor := connection.New(connection.Config{
		Rooms:       reg,
		Broadcaster: broadcaster,
	})
	coordinator := recovery.New(recovery.Config{
		Rooms:       reg,
		Broadcaster: broadcaster,
		Snapshots:   gateway,
	})
	emitter := telemetry.NewEmitter(store)

	// Every completed turn refreshes the rollback ring, so recovery can
	// restore the most recent consistent state without a storage round trip.
	reg.Events().Subscribe(func(evt event.Event) {
		if evt.Type != event.TypeTurnCompleted {
			return
		}
		if payload, ok := evt.Payload.(room.TurnPayload); ok {
			coordinator.RecordSnapshot(evt.RoomKey, payload.State)
		}
	})
	reg.Events().Subscribe(func(evt event.Event) {
		if evt.Type == event.TypeRoomRemoved {
			coordinator.CleanupInteraction(evt.RoomKey)
		}
	})
	reg.Events().Subscribe(emitter.Observe())
	coordinator.Events().Subscribe(emitter.Observe())

	grpcServer := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)

	return &Server{
		listener:    listener,
		grpcServer:  grpcServer,
		health:      healthServer,
		store:       store,
		broadcaster: broadcaster,
		registry:    reg,
		supervisor:  supervisor,
		coordinator: coordinator,
		emitter:     emitter,
	}, nil
}

// Addr returns the listener address for the server.
func (s *Server) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Registry exposes the room registry to the transport layer.
func (s *Server) Registry() *registry.Registry { return s.registry }

// Supervisor exposes the connection supervisor to the transport layer.
func (s *Server) Supervisor() *connection.Supervisor { return s.supervisor }

// Coordinator exposes the recovery coordinator to the transport layer.
func (s *Server) Coordinator() *recovery.Coordinator { return s.coordinator }

// Broadcaster exposes the event broadcaster to the transport layer.
func (s *Server) Broadcaster() *broadcast.Broadcaster { return s.broadcaster }

// Run creates and serves a server until context cancellation.
func Run(ctx context.Context, port int) error {
	server, err := New(port)
	if err != nil {
		return err
	}
	return server.Serve(ctx)
}

// Serve starts the background sweeps and the gRPC server until context
// cancellation.
func (s *Server) Serve(ctx context.Context) error {
	if s == nil {
		return errors.New("server is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	defer s.Close()

	s.registry.Start(ctx, timeouts.SweepInterval)
	s.broadcaster.Start(ctx, timeouts.SubscriptionSweep)

	log.Printf("roundtable server listening at %v", s.listener.Addr())
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.grpcServer.Serve(s.listener)
	}()

	select {
	case <-ctx.Done():
		if s.health != nil {
			s.health.Shutdown()
		}
		s.grpcServer.GracefulStop()
		err := <-serveErr
		if err == nil || errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return fmt.Errorf("serve gRPC: %w", err)
	case err := <-serveErr:
		if err == nil || errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return fmt.Errorf("serve gRPC: %w", err)
	}
}

// Close tears the runtime down in dependency order: timers first, then
// the rooms, then fan-out, then storage.
func (s *Server) Close() {
	if s == nil {
		return
	}
	if s.supervisor != nil {
		s.supervisor.Cleanup()
	}
	if s.coordinator != nil {
		s.coordinator.Shutdown()
	}
	if s.registry != nil {
		s.registry.Close()
	}
	if s.broadcaster != nil {
		s.broadcaster.Close()
	}
	if s.store != nil {
		_ = s.store.Close()
	}
}
