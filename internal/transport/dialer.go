package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"hostrun/config"
	"hostrun/tunnel"
	"hostrun/util"
)

// TCPDialer establishes plain TCP connections.
type TCPDialer struct {
	Timeout time.Duration
}

// Dial connects to address over TCP.
func (d *TCPDialer) Dial(ctx context.Context, network, address string) (net.Conn, error) {
	dialer := net.Dialer{Timeout: d.Timeout}
	return dialer.DialContext(ctx, network, address)
}

// Close is a no-op for stateless TCP dialers.
func (d *TCPDialer) Close() error { return nil }

// SSHDialer routes connections through an SSH gateway.  The gateway is
// connected lazily on the first Dial call and torn down on Close.
type SSHDialer struct {
	client    *tunnel.SSHClient
	config    *tunnel.SSHConfig
	logger    *util.Logger
	mu        sync.Mutex
	connected bool
}

// NewSSHDialer creates a dialer that forwards connections through an
// SSH gateway.  The gateway is not contacted until the first Dial.
func NewSSHDialer(cfg *tunnel.SSHConfig, logger *util.Logger) *SSHDialer {
	return &SSHDialer{
		client: tunnel.NewSSHClient(cfg, logger),
		config: cfg,
		logger: logger,
	}
}

func (d *SSHDialer) connect(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.connected {
		return nil
	}

	d.logger.Verbose("establishing SSH gateway %s@%s:%d",
		d.config.User, d.config.Host, d.config.Port)

	if err := d.client.Connect(ctx); err != nil {
		return fmt.Errorf("gateway: %w", err)
	}

	d.connected = true
	d.logger.Verbose("SSH gateway established")
	return nil
}

// Dial connects to address through the gateway, lazily establishing
// it on the first call.
func (d *SSHDialer) Dial(ctx context.Context, network, address string) (net.Conn, error) {
	if err := d.connect(ctx); err != nil {
		return nil, err
	}
	return d.client.Dial(ctx, network, address)
}

// Close tears down the gateway connection.
func (d *SSHDialer) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.connected {
		d.connected = false
		return d.client.Close()
	}
	return nil
}

// NewDialer returns the dialer params ask for: through the gateway
// when one is set, direct TCP otherwise.
func NewDialer(params Params, logger *util.Logger) (Dialer, error) {
	timeout := params.Duration(ParamTimeout, config.DefaultConnTimeout)

	spec := params.String(ParamGateway, "")
	if spec == "" {
		return &TCPDialer{Timeout: timeout}, nil
	}

	user, gwHost, port, err := config.ParseTunnelSpec(spec)
	if err != nil {
		return nil, fmt.Errorf("gateway: %w", err)
	}
	return NewSSHDialer(&tunnel.SSHConfig{
		User:          user,
		Host:          gwHost,
		Port:          port,
		KeyPath:       params.String(ParamGatewayKey, ""),
		StrictHostKey: params.Bool(ParamStrictHostKey),
		KnownHosts:    params.String(ParamKnownHosts, ""),
		ConnTimeout:   timeout,
	}, logger), nil
}
