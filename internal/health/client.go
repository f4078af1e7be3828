package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
)

var (
	errClientShutdown = errors.New("health client connection shut down")
	errStalled        = errors.New("health client connection stalled")
	errWatchEnded     = errors.New("health watch stream ended")
)

// ClientConfig holds configuration for a health Client.
type ClientConfig struct {
	Address          string
	ConnectTimeout   time.Duration
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
}

// DefaultClientConfig returns defaults for probing a local server.
func DefaultClientConfig(addr string) ClientConfig {
	if addr == "" {
		addr = "localhost:9090"
	}
	return ClientConfig{
		Address:          addr,
		ConnectTimeout:   5 * time.Second,
		KeepaliveTime:    2 * time.Minute,
		KeepaliveTimeout: 10 * time.Second,
	}
}

// Client queries a grpc.health.v1 server, such as the one Server runs.
type Client struct {
	conn   *grpc.ClientConn
	client grpc_health_v1.HealthClient
	addr   string
	logger *slog.Logger
}

// Dial connects to cfg.Address and waits, bounded by ctx and cfg.ConnectTimeout,
// until the connection is ready.
func Dial(ctx context.Context, cfg ClientConfig, logger *slog.Logger, opts ...grpc.DialOption) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:    cfg.KeepaliveTime,
			Timeout: cfg.KeepaliveTimeout,
		}),
	}, opts...)

	conn, err := grpc.NewClient(cfg.Address, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to health server at %s: %w", cfg.Address, err)
	}

	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := waitForReady(connectCtx, conn); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			logger.Warn("failed to close gRPC connection after readiness failure", "error", closeErr)
		}
		return nil, fmt.Errorf("health server at %s not ready: %w", cfg.Address, err)
	}

	return &Client{
		conn:   conn,
		client: grpc_health_v1.NewHealthClient(conn),
		addr:   cfg.Address,
		logger: logger,
	}, nil
}

func waitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Idle:
			conn.Connect()
		case connectivity.Shutdown:
			return errClientShutdown
		}

		if conn.WaitForStateChange(ctx, state) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w in state %s", err, state)
		}
		return fmt.Errorf("%w in state %s", errStalled, state)
	}
}

// Check returns the serving status of service ("" for the whole server).
func (c *Client) Check(ctx context.Context, service string) (grpc_health_v1.HealthCheckResponse_ServingStatus, error) {
	resp, err := c.client.Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: service})
	if err != nil {
		return grpc_health_v1.HealthCheckResponse_UNKNOWN, fmt.Errorf("health check failed: %w", err)
	}
	return resp.GetStatus(), nil
}

// WaitServing blocks until service reports SERVING or ctx ends.
func (c *Client) WaitServing(ctx context.Context, service string) error {
	stream, err := c.client.Watch(ctx, &grpc_health_v1.HealthCheckRequest{Service: service})
	if err != nil {
		return fmt.Errorf("health watch failed: %w", err)
	}
	for {
		resp, err := stream.Recv()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: %w", errWatchEnded, err)
		}
		c.logger.Debug("Health status update", "addr", c.addr, "service", service, "status", resp.GetStatus().String())
		if resp.GetStatus() == grpc_health_v1.HealthCheckResponse_SERVING {
			return nil
		}
	}
}

// Close closes the gRPC connection.
func (c *Client) Close() {
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			c.logger.Warn("failed to close gRPC connection", "error", err)
		}
	}
}
