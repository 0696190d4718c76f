package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/pixperk/solo/pkg/rpc"
	"github.com/pixperk/solo/pkg/types"
	"google.golang.org/grpc"
)

const (
	DefaultHost     = "127.0.0.1"
	DefaultBasePort = 46139
	DefaultMaxPorts = 16
)

type ListenerConfig struct {
	Host     string //interface to bind, loopback by default
	BasePort int    //first port tried
	MaxPorts int    //ports tried before giving up
}

func (c ListenerConfig) withDefaults() ListenerConfig {
	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.BasePort <= 0 {
		c.BasePort = DefaultBasePort
	}
	if c.MaxPorts <= 0 {
		c.MaxPorts = DefaultMaxPorts
	}
	return c
}

// request endpoint of this process, bound to the first free port in range
type Listener struct {
	grpcServer *grpc.Server
	lis        net.Listener
	port       int
	logger     hclog.Logger
}

// Bind walks the port range and binds the first free port, registering both
// endpoints on it. Exhausting the range is fatal for coordination and is
// reported as types.ErrBindExhausted.
func Bind(cfg ListenerConfig, srv *Server, logger hclog.Logger) (*Listener, error) {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	var lastErr error
	for i := 0; i < cfg.MaxPorts; i++ {
		port := cfg.BasePort + i
		lis, err := net.Listen("tcp", net.JoinHostPort(cfg.Host, strconv.Itoa(port)))
		if err != nil {
			logger.Trace("port unavailable", "port", port, "error", err)
			lastErr = err
			continue
		}

		grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(logUnary(logger)))
		rpc.RegisterCoordinatorServer(grpcServer, srv)
		rpc.RegisterCompanionServer(grpcServer, srv)

		logger.Info("listener bound", "port", port)
		return &Listener{
			grpcServer: grpcServer,
			lis:        lis,
			port:       port,
			logger:     logger,
		}, nil
	}

	return nil, fmt.Errorf("%w: %s ports %d-%d: %v",
		types.ErrBindExhausted, cfg.Host, cfg.BasePort, cfg.BasePort+cfg.MaxPorts-1, lastErr)
}

func (l *Listener) Port() int {
	return l.port
}

// serves peer calls until Stop; returns nil on a clean stop
func (l *Listener) Serve() error {
	if err := l.grpcServer.Serve(l.lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("listener on port %d: %w", l.port, err)
	}
	return nil
}

// drains in-flight calls, forcing the stop after timeout
func (l *Listener) Stop(timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		l.grpcServer.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		l.logger.Warn("graceful stop timed out, forcing", "port", l.port)
		l.grpcServer.Stop()
	}
}

func logUnary(logger hclog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		if err != nil {
			logger.Debug("rpc failed", "method", info.FullMethod, "duration", time.Since(start), "error", err)
		} else {
			logger.Trace("rpc", "method", info.FullMethod, "duration", time.Since(start))
		}
		return resp, err
	}
}
