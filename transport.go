package mqttc

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"sync"
	"time"
)

// Transport moves bytes between a Client and its broker. The Engine owns the
// transport of a connected client. It never issues two writes at once, but a
// Read may run while a Write is blocked.
type Transport interface {
	// Connect opens the connection to broker.
	Connect(ctx context.Context, broker string) error

	// Write sends all of p or fails.
	Write(p []byte) error

	// Read copies available bytes into p without blocking. It returns
	// 0, nil when the peer closed the connection in an orderly way and
	// ErrWouldBlock when no data is available yet.
	Read(p []byte) (int, error)

	// Disconnect closes the connection. It may be called while a Write is
	// in progress and must make that Write return.
	Disconnect() error
}

// Dialer establishes the network connection behind a ConnTransport.
type Dialer interface {
	// Dial connects to the address with the given context.
	Dial(ctx context.Context, address string) (net.Conn, error)
}

// TCPDialer connects to MQTT brokers over TCP.
type TCPDialer struct {
	// Timeout is the maximum time to wait for a connection.
	// Zero means no timeout.
	Timeout time.Duration
}

// Dial connects to the address.
func (d *TCPDialer) Dial(ctx context.Context, address string) (net.Conn, error) {
	dialer := net.Dialer{Timeout: d.Timeout}
	return dialer.DialContext(ctx, "tcp", address)
}

// TLSDialer connects to MQTT brokers over TLS.
type TLSDialer struct {
	// Config is the TLS configuration.
	Config *tls.Config

	// Timeout is the maximum time to wait for a connection.
	// Zero means no timeout.
	Timeout time.Duration
}

// Dial connects to the address.
func (d *TLSDialer) Dial(ctx context.Context, address string) (net.Conn, error) {
	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: d.Timeout},
		Config:    d.Config,
	}
	return dialer.DialContext(ctx, "tcp", address)
}

// URLDialer selects the network from the scheme of a broker URL:
// tcp/mqtt, tls/ssl/mqtts, ws, wss and quic. Missing ports default to the
// IANA MQTT ports for the scheme.
type URLDialer struct {
	// TLSConfig is used by tls, wss and quic brokers.
	TLSConfig *tls.Config

	// Proxy routes tcp and tls connections through an HTTP CONNECT or
	// SOCKS5 proxy when set.
	Proxy *ProxyConfig

	// Timeout bounds TCP connection establishment. Zero means no timeout.
	Timeout time.Duration
}

// Dial connects to the broker URL.
func (d *URLDialer) Dial(ctx context.Context, address string) (net.Conn, error) {
	u, err := url.Parse(address)
	if err != nil {
		return nil, fmt.Errorf("invalid broker address: %w", err)
	}

	host := u.Host
	if u.Port() == "" {
		host = net.JoinHostPort(u.Hostname(), defaultPort(u.Scheme))
	}

	proxyURL, err := d.Proxy.resolve(address)
	if err != nil {
		return nil, err
	}

	var proxyDialer *ProxyDialer
	if proxyURL != "" {
		proxyDialer, err = NewProxyDialer(proxyURL, d.Proxy.Username, d.Proxy.Password)
		if err != nil {
			return nil, err
		}
	}

	switch u.Scheme {
	case "tcp", "mqtt":
		if proxyDialer != nil {
			return proxyDialer.DialContext(ctx, "tcp", host)
		}
		return (&TCPDialer{Timeout: d.Timeout}).Dial(ctx, host)

	case "tls", "ssl", "mqtts":
		tlsConfig := d.TLSConfig
		if tlsConfig == nil {
			tlsConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		if proxyDialer == nil {
			return (&TLSDialer{Config: tlsConfig, Timeout: d.Timeout}).Dial(ctx, host)
		}

		conn, err := proxyDialer.DialContext(ctx, "tcp", host)
		if err != nil {
			return nil, err
		}
		if tlsConfig.ServerName == "" {
			tlsConfig = tlsConfig.Clone()
			tlsConfig.ServerName = u.Hostname()
		}
		tlsConn := tls.Client(conn, tlsConfig)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, fmt.Errorf("TLS handshake failed: %w", err)
		}
		return tlsConn, nil

	case "ws", "wss":
		wsDialer := NewWSDialer()
		if d.TLSConfig != nil {
			wsDialer.Dialer.TLSClientConfig = d.TLSConfig
		}
		return wsDialer.Dial(ctx, address)

	case "quic":
		return NewQUICDialer(d.TLSConfig).Dial(ctx, host)

	default:
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
}

func defaultPort(scheme string) string {
	switch scheme {
	case "tls", "ssl", "mqtts", "quic":
		return "8883"
	case "ws":
		return "80"
	case "wss":
		return "443"
	default:
		return "1883"
	}
}

const (
	defaultReadBufferSize = 4096
	readChunkSize         = 1024
)

// ConnTransport adapts a blocking net.Conn from a Dialer to the non-blocking
// Transport contract. A reader goroutine buffers inbound bytes up to
// ReadBufferSize; Read drains that buffer and never waits.
type ConnTransport struct {
	// Dialer opens the connection. Required.
	Dialer Dialer

	// ReadBufferSize bounds the bytes buffered ahead of Read.
	ReadBufferSize int

	mu      sync.Mutex
	space   *sync.Cond
	conn    net.Conn
	pending []byte
	readErr error
	closed  bool
	ready   chan struct{}
	done    chan struct{}
}

// NewConnTransport creates a transport that dials with d.
func NewConnTransport(d Dialer) *ConnTransport {
	return &ConnTransport{Dialer: d, ReadBufferSize: defaultReadBufferSize}
}

// Connect dials broker and starts buffering inbound bytes.
func (t *ConnTransport) Connect(ctx context.Context, broker string) error {
	if t.Dialer == nil {
		return errors.New("mqttc: transport has no dialer")
	}

	conn, err := t.Dialer.Dial(ctx, broker)
	if err != nil {
		return err
	}

	t.mu.Lock()
	if t.space == nil {
		t.space = sync.NewCond(&t.mu)
	}
	t.conn = conn
	t.pending = t.pending[:0]
	t.readErr = nil
	t.closed = false
	t.ready = make(chan struct{}, 1)
	t.done = make(chan struct{})
	t.mu.Unlock()

	go t.readLoop(conn, t.ready, t.done)

	return nil
}

func (t *ConnTransport) readLoop(conn net.Conn, ready, done chan struct{}) {
	defer close(done)

	limit := t.ReadBufferSize
	if limit <= 0 {
		limit = defaultReadBufferSize
	}
	buf := make([]byte, readChunkSize)

	for {
		n, err := conn.Read(buf)

		t.mu.Lock()
		if t.closed {
			t.mu.Unlock()
			return
		}

		t.pending = append(t.pending, buf[:n]...)
		if err != nil {
			t.readErr = err
		}

		for err == nil && len(t.pending) >= limit && !t.closed {
			t.space.Wait()
		}
		t.mu.Unlock()

		select {
		case ready <- struct{}{}:
		default:
		}

		if err != nil {
			return
		}
	}
}

// Readable returns a channel that receives a value whenever new bytes or a
// connection error become available to Read.
func (t *ConnTransport) Readable() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.ready
}

// Write sends all of p.
func (t *ConnTransport) Write(p []byte) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()

	if conn == nil {
		return net.ErrClosed
	}

	for len(p) > 0 {
		n, err := conn.Write(p)
		if err != nil {
			return err
		}
		p = p[n:]
	}

	return nil
}

// Read copies buffered bytes into p.
func (t *ConnTransport) Read(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.pending) > 0 {
		n := copy(p, t.pending)
		t.pending = t.pending[:copy(t.pending, t.pending[n:])]
		t.space.Signal()

		// Keep the channel armed while data remains.
		if len(t.pending) > 0 {
			select {
			case t.ready <- struct{}{}:
			default:
			}
		}
		return n, nil
	}

	switch {
	case t.readErr == nil && t.conn != nil:
		return 0, ErrWouldBlock
	case t.readErr == nil || errors.Is(t.readErr, io.EOF):
		return 0, nil
	default:
		return 0, t.readErr
	}
}

// Disconnect closes the connection and waits for the reader to stop.
func (t *ConnTransport) Disconnect() error {
	t.mu.Lock()
	conn := t.conn
	done := t.done
	t.conn = nil
	t.closed = true
	if t.space != nil {
		t.space.Broadcast()
	}
	t.mu.Unlock()

	if conn == nil {
		return nil
	}

	err := conn.Close()
	<-done

	return err
}
