package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"snoip-server/pkg/wire"
)

// Config holds the full server configuration, loaded from the environment
// with optional .env file support.
type Config struct {
	// Listener addresses. Either may be empty to disable that transport,
	// but not both.
	TCPListenAddr string
	UDPListenAddr string

	// ClientExpire is the keep-alive window; clients silent for longer
	// are swept out.
	ClientExpire time.Duration

	// MaxSessions caps concurrent logged-in clients.
	MaxSessions int

	// Codecs the relay supports, in preference order.
	Codecs []byte

	// UserDBPath is the SQLite account database file.
	UserDBPath string

	// AlternateIP is advertised in overload replies. Empty means none.
	AlternateIP net.IP

	// AMQPUrl empty disables call record publishing.
	AMQPUrl      string
	CDRQueueName string

	// MetricsAddr empty disables the scrape endpoint.
	MetricsAddr string

	LogLevel logrus.Level
}

// Load reads the configuration from the environment. A .env file in the
// working directory is honored when present.
func Load(logger *logrus.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logger.Debug("No .env file found, using environment variables")
	}

	cfg := &Config{
		TCPListenAddr: getEnv("SNOIP_TCP_ADDR", ":5061"),
		UDPListenAddr: getEnv("SNOIP_UDP_ADDR", ":5061"),
		MaxSessions:   getEnvInt(logger, "SNOIP_MAX_SESSIONS", 1024),
		UserDBPath:    getEnv("SNOIP_USERDB_PATH", "snoip_users.db"),
		AMQPUrl:       getEnv("SNOIP_AMQP_URL", ""),
		CDRQueueName:  getEnv("SNOIP_CDR_QUEUE", "snoip_cdr"),
		MetricsAddr:   getEnv("SNOIP_METRICS_ADDR", ""),
	}

	var err error
	cfg.ClientExpire, err = getEnvDuration("SNOIP_CLIENT_EXPIRE", 60*time.Second)
	if err != nil {
		return nil, err
	}
	cfg.Codecs, err = parseCodecs(getEnv("SNOIP_CODECS", "PCMA,PCMU"))
	if err != nil {
		return nil, err
	}
	cfg.LogLevel, err = logrus.ParseLevel(getEnv("SNOIP_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("invalid SNOIP_LOG_LEVEL: %w", err)
	}
	if alt := getEnv("SNOIP_ALTERNATE_IP", ""); alt != "" {
		cfg.AlternateIP = net.ParseIP(alt)
		if cfg.AlternateIP == nil {
			return nil, fmt.Errorf("invalid SNOIP_ALTERNATE_IP %q", alt)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.TCPListenAddr == "" && c.UDPListenAddr == "" {
		return fmt.Errorf("no listener configured: set SNOIP_TCP_ADDR or SNOIP_UDP_ADDR")
	}
	if c.ClientExpire <= 0 {
		return fmt.Errorf("SNOIP_CLIENT_EXPIRE must be positive, got %s", c.ClientExpire)
	}
	if c.MaxSessions <= 0 {
		return fmt.Errorf("SNOIP_MAX_SESSIONS must be positive, got %d", c.MaxSessions)
	}
	if len(c.Codecs) == 0 {
		return fmt.Errorf("SNOIP_CODECS must name at least one codec")
	}
	return nil
}

// parseCodecs resolves a comma-separated codec name list into identifiers,
// preserving order.
func parseCodecs(list string) ([]byte, error) {
	var out []byte
	for _, name := range strings.Split(list, ",") {
		name = strings.ToUpper(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		id, ok := wire.CodecByName(name)
		if !ok {
			return nil, fmt.Errorf("unknown codec %q in SNOIP_CODECS", name)
		}
		out = append(out, id)
	}
	return out, nil
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvInt(logger *logrus.Logger, key string, defaultValue int) int {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		logger.WithFields(logrus.Fields{
			"key":   key,
			"value": value,
		}).Warn("Invalid integer in environment, using default")
		return defaultValue
	}
	return n
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue, nil
	}
	// Accept bare seconds for compatibility with older deployments.
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid duration in %s: %w", key, err)
	}
	return d, nil
}
