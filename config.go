package mqttc

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the file configuration of an application built on the Engine
// and the Helper. Load it with LoadConfig.
type Config struct {
	Engine  EngineConfig  `yaml:"engine"`
	Broker  BrokerConfig  `yaml:"broker"`
	Auth    AuthConfig    `yaml:"auth"`
	Will    *WillConfig   `yaml:"will"`
	Proxy   ProxyConfig   `yaml:"proxy"`
	Helper  HelperConfig  `yaml:"helper"`
	Logging LoggingConfig `yaml:"logging"`
}

// EngineConfig sizes the engine.
type EngineConfig struct {
	MaxClients    int    `yaml:"max_clients"`
	MaxPacketSize int    `yaml:"max_packet_size"`
	KeepAlive     uint16 `yaml:"keep_alive"` // seconds, 0 disables
}

// BrokerConfig describes the broker connection.
type BrokerConfig struct {
	URL            string    `yaml:"url"`
	ClientID       string    `yaml:"client_id"`
	Protocol       string    `yaml:"protocol"` // "3.1" or "3.1.1"
	CleanSession   *bool     `yaml:"clean_session"`
	ConnectTimeout int       `yaml:"connect_timeout"` // seconds
	TLS            TLSConfig `yaml:"tls"`
}

// TLSConfig holds file based TLS settings.
type TLSConfig struct {
	CAFile             string `yaml:"ca_file"`
	CertFile           string `yaml:"cert_file"`
	KeyFile            string `yaml:"key_file"`
	ServerName         string `yaml:"server_name"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
}

// AuthConfig holds broker credentials.
type AuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// WillConfig describes the last will.
type WillConfig struct {
	Topic   string `yaml:"topic"`
	Message string `yaml:"message"`
	QoS     byte   `yaml:"qos"`
	Retain  bool   `yaml:"retain"`
}

// HelperConfig configures the Helper.
type HelperConfig struct {
	// PublishRate limits outbound publishes per second. Zero disables.
	PublishRate float64 `yaml:"publish_rate"`

	// PublishBurst is the rate limiter bucket size.
	PublishBurst int `yaml:"publish_burst"`

	// MaxPayload is the largest inbound payload passed to OnPublish.
	// Zero means no limit besides the packet size.
	MaxPayload int `yaml:"max_payload"`
}

// LoggingConfig selects the log level and format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
}

// Environment variables overriding the file configuration.
const (
	EnvBroker   = "MQTTC_BROKER"
	EnvClientID = "MQTTC_CLIENT_ID"
	EnvUsername = "MQTTC_USERNAME"
	EnvPassword = "MQTTC_PASSWORD"
	EnvLogLevel = "MQTTC_LOG_LEVEL"
)

// LoadConfig reads the YAML file at path, applies environment overrides and
// validates the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return ParseConfig(data)
}

// ParseConfig is LoadConfig for YAML already in memory.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a Config with the engine defaults.
func DefaultConfig() *Config {
	return &Config{
		Engine: EngineConfig{
			MaxClients:    DefaultMaxClients,
			MaxPacketSize: DefaultMaxPacketSize,
		},
		Broker: BrokerConfig{
			URL:            "tcp://localhost:1883",
			Protocol:       "3.1.1",
			ConnectTimeout: 10,
		},
		Helper: HelperConfig{
			PublishBurst: 1,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(EnvBroker); v != "" {
		cfg.Broker.URL = v
	}
	if v := os.Getenv(EnvClientID); v != "" {
		cfg.Broker.ClientID = v
	}
	if v := os.Getenv(EnvUsername); v != "" {
		cfg.Auth.Username = v
	}
	if v := os.Getenv(EnvPassword); v != "" {
		cfg.Auth.Password = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	var errs []string

	if c.Broker.URL == "" {
		errs = append(errs, "broker.url is required")
	}
	if c.Broker.ClientID == "" {
		errs = append(errs, "broker.client_id is required")
	}
	if _, err := c.ProtocolVersion(); err != nil {
		errs = append(errs, err.Error())
	}
	if c.Engine.MaxClients < 1 {
		errs = append(errs, "engine.max_clients must be at least 1")
	}
	if c.Engine.MaxPacketSize < MinPacketSize {
		errs = append(errs, fmt.Sprintf("engine.max_packet_size must be at least %d", MinPacketSize))
	}
	if c.Will != nil {
		if c.Will.Topic == "" {
			errs = append(errs, "will.topic is required")
		}
		if !QoS(c.Will.QoS).Valid() {
			errs = append(errs, "will.qos must be 0, 1, or 2")
		}
	}
	if c.Auth.Password != "" && c.Auth.Username == "" {
		errs = append(errs, "auth.password requires auth.username")
	}
	if (c.Broker.TLS.CertFile == "") != (c.Broker.TLS.KeyFile == "") {
		errs = append(errs, "broker.tls.cert_file and broker.tls.key_file must be set together")
	}
	if c.Helper.PublishRate < 0 {
		errs = append(errs, "helper.publish_rate must not be negative")
	}
	if c.Helper.MaxPayload < 0 {
		errs = append(errs, "helper.max_payload must not be negative")
	}
	if _, err := ParseLogLevel(c.Logging.Level); err != nil {
		errs = append(errs, "logging.level: "+err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// ProtocolVersion returns the configured protocol version.
func (c *Config) ProtocolVersion() (ProtocolVersion, error) {
	switch c.Broker.Protocol {
	case "3.1.1", "":
		return ProtocolV311, nil
	case "3.1":
		return ProtocolV31, nil
	default:
		return 0, fmt.Errorf("broker.protocol %q is not 3.1 or 3.1.1", c.Broker.Protocol)
	}
}

// EngineOptions returns the engine options described by the configuration.
func (c *Config) EngineOptions() []Option {
	return []Option{
		WithMaxClients(c.Engine.MaxClients),
		WithMaxPacketSize(c.Engine.MaxPacketSize),
		WithKeepAlive(c.Engine.KeepAlive),
	}
}

// ConnectTimeout returns the transport connect timeout.
func (c *Config) ConnectTimeout() time.Duration {
	return time.Duration(c.Broker.ConnectTimeout) * time.Second
}

// NewLogger creates the logrus backed logger described by the configuration.
func (c *Config) NewLogger() Logger {
	level, _ := ParseLogLevel(c.Logging.Level)
	return NewLogrusLogger(os.Stderr, level, c.Logging.Format)
}

// ApplyTo copies the connection settings into c. Call it after
// Engine.ClientInit.
func (c *Config) ApplyTo(client *Client) error {
	version, err := c.ProtocolVersion()
	if err != nil {
		return err
	}

	client.ClientID = c.Broker.ClientID
	client.Broker = c.Broker.URL
	client.ProtocolVersion = version
	if c.Broker.CleanSession != nil {
		client.CleanSession = *c.Broker.CleanSession
	}

	if c.Auth.Username != "" {
		client.Auth = &Auth{Username: c.Auth.Username}
		if c.Auth.Password != "" {
			client.Auth.Password = []byte(c.Auth.Password)
		}
	}

	if w := c.Will; w != nil {
		client.Will = &Will{
			Topic:   w.Topic,
			Message: []byte(w.Message),
			QoS:     QoS(w.QoS),
			Retain:  w.Retain,
		}
	}

	return nil
}

// NewTransport creates the transport for the configured broker URL.
func (c *Config) NewTransport() (*ConnTransport, error) {
	tlsConfig, err := c.Broker.TLS.Build()
	if err != nil {
		return nil, err
	}

	dialer := &URLDialer{
		TLSConfig: tlsConfig,
		Timeout:   c.ConnectTimeout(),
	}
	if c.Proxy.URL != "" || c.Proxy.FromEnvironment {
		proxy := c.Proxy
		dialer.Proxy = &proxy
	}

	return NewConnTransport(dialer), nil
}

// Build returns the tls.Config, or nil when nothing is configured.
func (t TLSConfig) Build() (*tls.Config, error) {
	if t == (TLSConfig{}) {
		return nil, nil
	}

	cfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		ServerName:         t.ServerName,
		InsecureSkipVerify: t.InsecureSkipVerify, //nolint:gosec // explicit opt-in
	}

	if t.CAFile != "" {
		pem, err := os.ReadFile(t.CAFile)
		if err != nil {
			return nil, fmt.Errorf("reading CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, errors.New("no certificates found in CA file")
		}
		cfg.RootCAs = pool
	}

	if t.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(t.CertFile, t.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("loading client certificate: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}

	return cfg, nil
}
