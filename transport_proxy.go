package mqttc

import (
	"bufio"
	"context"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"

	"golang.org/x/net/proxy"
)

// ProxyConfig routes broker connections through a proxy.
type ProxyConfig struct {
	// URL is the proxy URL: http://host:port or socks5://host:port.
	// When empty and FromEnvironment is set, the URL is taken from
	// HTTP_PROXY/HTTPS_PROXY honoring NO_PROXY.
	URL string `yaml:"url"`

	// Username for proxy authentication (optional).
	Username string `yaml:"username"`

	// Password for proxy authentication (optional).
	Password string `yaml:"password"`

	// FromEnvironment enables the proxy environment variables.
	FromEnvironment bool `yaml:"from_environment"`
}

// resolve returns the proxy URL to use for broker, or "" for a direct
// connection.
func (c *ProxyConfig) resolve(broker string) (string, error) {
	if c == nil {
		return "", nil
	}
	if c.URL != "" || !c.FromEnvironment {
		return c.URL, nil
	}

	u, err := ProxyFromEnvironment(broker)
	if err != nil || u == nil {
		return "", err
	}
	return u.String(), nil
}

// ProxyDialer dials through HTTP CONNECT or SOCKS5 proxies.
type ProxyDialer struct {
	proxyURL *url.URL
	username string
	password string
	forward  net.Dialer
}

// NewProxyDialer creates a proxy dialer for proxyURL.
// Supported schemes: http, https (HTTP CONNECT), socks5, socks5h.
func NewProxyDialer(proxyURL, username, password string) (*ProxyDialer, error) {
	u, err := url.Parse(proxyURL)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy URL: %w", err)
	}

	if username == "" && u.User != nil {
		username = u.User.Username()
		password, _ = u.User.Password()
	}

	return &ProxyDialer{
		proxyURL: u,
		username: username,
		password: password,
	}, nil
}

// DialContext connects to addr through the proxy.
func (d *ProxyDialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	switch d.proxyURL.Scheme {
	case "http", "https":
		return d.dialHTTPConnect(ctx, addr)
	case "socks5", "socks5h":
		return d.dialSOCKS5(ctx, network, addr)
	default:
		return nil, fmt.Errorf("unsupported proxy scheme: %s", d.proxyURL.Scheme)
	}
}

func (d *ProxyDialer) proxyAddr(defaultPort string) string {
	if d.proxyURL.Port() != "" {
		return d.proxyURL.Host
	}
	return net.JoinHostPort(d.proxyURL.Hostname(), defaultPort)
}

func (d *ProxyDialer) dialHTTPConnect(ctx context.Context, targetAddr string) (net.Conn, error) {
	port := "8080"
	if d.proxyURL.Scheme == "https" {
		port = "443"
	}

	conn, err := d.forward.DialContext(ctx, "tcp", d.proxyAddr(port))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to proxy: %w", err)
	}

	req := &http.Request{
		Method: http.MethodConnect,
		URL:    &url.URL{Opaque: targetAddr},
		Host:   targetAddr,
		Header: make(http.Header),
	}

	if d.username != "" {
		creds := base64.StdEncoding.EncodeToString([]byte(d.username + ":" + d.password))
		req.Header.Set("Proxy-Authorization", "Basic "+creds)
	}

	if err := req.Write(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to send CONNECT request: %w", err)
	}

	// The broker speaks first only after CONNECT, so nothing past the
	// response headers can be buffered here.
	resp, err := http.ReadResponse(bufio.NewReader(conn), req)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to read CONNECT response: %w", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		conn.Close()
		return nil, fmt.Errorf("proxy CONNECT failed: %s", resp.Status)
	}

	return conn, nil
}

func (d *ProxyDialer) dialSOCKS5(ctx context.Context, network, targetAddr string) (net.Conn, error) {
	var auth *proxy.Auth
	if d.username != "" {
		auth = &proxy.Auth{
			User:     d.username,
			Password: d.password,
		}
	}

	dialer, err := proxy.SOCKS5("tcp", d.proxyAddr("1080"), auth, &d.forward)
	if err != nil {
		return nil, fmt.Errorf("failed to create SOCKS5 dialer: %w", err)
	}

	var conn net.Conn
	if cd, ok := dialer.(proxy.ContextDialer); ok {
		conn, err = cd.DialContext(ctx, network, targetAddr)
	} else {
		conn, err = dialer.Dial(network, targetAddr)
	}
	if err != nil {
		return nil, fmt.Errorf("SOCKS5 dial failed: %w", err)
	}

	return conn, nil
}

// ProxyFromEnvironment returns the proxy URL for a broker address based on
// HTTP_PROXY, HTTPS_PROXY and NO_PROXY. Returns nil if no proxy applies.
func ProxyFromEnvironment(broker string) (*url.URL, error) {
	u, err := url.Parse(broker)
	if err != nil {
		return nil, nil
	}

	if bypassProxy(u.Hostname(), lookupEnv("NO_PROXY")) {
		return nil, nil
	}

	var proxyEnv string
	switch u.Scheme {
	case "tls", "ssl", "mqtts", "wss":
		proxyEnv = lookupEnv("HTTPS_PROXY")
	}
	if proxyEnv == "" {
		proxyEnv = lookupEnv("HTTP_PROXY")
	}
	if proxyEnv == "" {
		return nil, nil
	}

	return url.Parse(proxyEnv)
}

// lookupEnv reads an upper case variable, falling back to lower case.
func lookupEnv(name string) string {
	if v, ok := os.LookupEnv(name); ok && v != "" {
		return v
	}
	return os.Getenv(strings.ToLower(name))
}

func bypassProxy(host, noProxy string) bool {
	for pattern := range strings.SplitSeq(noProxy, ",") {
		pattern = strings.TrimSpace(pattern)
		switch {
		case pattern == "":
			continue
		case pattern == "*":
			return true
		case strings.HasPrefix(pattern, "."):
			if strings.HasSuffix(host, pattern) || host == pattern[1:] {
				return true
			}
		case host == pattern || strings.HasSuffix(host, "."+pattern):
			return true
		}
	}
	return false
}
