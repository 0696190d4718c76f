package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/pixperk/solo/pkg/metrics"
	"github.com/pixperk/solo/pkg/rpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

const (
	DefaultHost            = "127.0.0.1"
	DefaultLivenessTimeout = 1 * time.Second
	DefaultCallTimeout     = 9 * time.Second
)

type Config struct {
	Host            string        //peer interface, loopback by default
	LivenessTimeout time.Duration //bound on the isAlive check in Dial
	CallTimeout     time.Duration //bound on every other call
	Logger          hclog.Logger
}

// turns a port into a verified, live peer handle
type Dialer struct {
	cfg    Config
	logger hclog.Logger
}

func NewDialer(cfg Config) *Dialer {
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	if cfg.LivenessTimeout <= 0 {
		cfg.LivenessTimeout = DefaultLivenessTimeout
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Dialer{
		cfg:    cfg,
		logger: logger,
	}
}

// Dial opens a channel to the port and checks liveness within the liveness
// timeout. A refused connection, a silent listener or a peer that is not
// alive all yield false; none of them is an error for the caller.
func (d *Dialer) Dial(ctx context.Context, port int) (*Peer, bool) {
	start := time.Now()
	addr := net.JoinHostPort(d.cfg.Host, strconv.Itoa(port))

	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		d.logger.Debug("failed to create channel", "port", port, "error", err)
		metrics.DialDuration.WithLabelValues("error").Observe(time.Since(start).Seconds())
		return nil, false
	}

	info, limited, err := d.checkLiveness(ctx, conn)
	if err != nil {
		d.logger.Trace("no live peer", "port", port, "error", err)
		metrics.DialDuration.WithLabelValues("unreachable").Observe(time.Since(start).Seconds())
		_ = conn.Close()
		return nil, false
	}

	metrics.DialDuration.WithLabelValues("alive").Observe(time.Since(start).Seconds())
	d.logger.Trace("peer alive", "port", port, "peer_pid", info.PID, "limited", limited)

	return &Peer{
		port:        port,
		conn:        conn,
		coordinator: rpc.NewCoordinatorClient(conn),
		companion:   rpc.NewCompanionClient(conn),
		limited:     limited,
		pid:         info.PID,
		instanceID:  info.InstanceID,
		callTimeout: d.cfg.CallTimeout,
	}, true
}

var errNotAlive = errors.New("peer reported not alive")

// primary endpoint first, companion endpoint when the peer only speaks that
func (d *Dialer) checkLiveness(ctx context.Context, conn *grpc.ClientConn) (*rpc.IsAliveResponse, bool, error) {
	lctx, cancel := context.WithTimeout(ctx, d.cfg.LivenessTimeout)
	defer cancel()

	limited := false
	resp, err := rpc.NewCoordinatorClient(conn).IsAlive(lctx, &rpc.IsAliveRequest{})
	if status.Code(err) == codes.Unimplemented {
		limited = true
		resp, err = rpc.NewCompanionClient(conn).IsAlive(lctx, &rpc.IsAliveRequest{})
	}
	if err != nil {
		return nil, false, err
	}
	if !resp.Alive {
		return nil, false, errNotAlive
	}
	return resp, limited, nil
}

// IsTimeout reports whether err is a bounded wait running out rather than
// the peer refusing or failing the call.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return status.Code(err) == codes.DeadlineExceeded
}

func callError(op string, port int, err error) error {
	return fmt.Errorf("%s on port %d: %w", op, port, err)
}
