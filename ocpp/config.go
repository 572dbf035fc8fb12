package ocppserver

import (
	"fmt"
	"os"
	"time"
)

// Config holds configuration for the OCPP central system.
type Config struct {
	// Host is the hostname or IP the server binds to.
	Host string

	// WebSocketPort is the port the OCPP WebSocket server listens on.
	WebSocketPort int

	// SystemName is the name of the central system.
	SystemName string

	// HeartbeatInterval is the interval in seconds handed to charge points
	// in BootNotification responses.
	HeartbeatInterval int

	// CommandTimeout is the deadline for outbound commands.
	CommandTimeout time.Duration

	// NatsURL enables the event notifier when non-empty.
	NatsURL string
}

// NewConfig creates a configuration from environment variables with
// defaults.
func NewConfig() *Config {
	return &Config{
		Host:              getEnv("OCPP_HOST", "localhost"),
		WebSocketPort:     getEnvAsInt("OCPP_WEBSOCKET_PORT", 9000),
		SystemName:        getEnv("OCPP_SYSTEM_NAME", "ocpp-gateway"),
		HeartbeatInterval: getEnvAsInt("OCPP_HEARTBEAT_INTERVAL", 60),
		CommandTimeout:    time.Duration(getEnvAsInt("OCPP_COMMAND_TIMEOUT_MS", 30000)) * time.Millisecond,
		NatsURL:           getEnv("NATS_URL", ""),
	}
}

// WebSocketAddr returns the listen address in "host:port" form.
func (c *Config) WebSocketAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.WebSocketPort)
}

// WithHost sets the host or IP for the server.
func (c *Config) WithHost(host string) *Config {
	c.Host = host
	return c
}

// WithWebSocketPort sets the WebSocket listen port.
func (c *Config) WithWebSocketPort(port int) *Config {
	c.WebSocketPort = port
	return c
}

// WithSystemName sets the system name.
func (c *Config) WithSystemName(name string) *Config {
	c.SystemName = name
	return c
}

// WithHeartbeatInterval sets the heartbeat interval in seconds.
func (c *Config) WithHeartbeatInterval(seconds int) *Config {
	c.HeartbeatInterval = seconds
	return c
}

// WithCommandTimeout sets the outbound command deadline.
func (c *Config) WithCommandTimeout(timeout time.Duration) *Config {
	c.CommandTimeout = timeout
	return c
}

// getEnv fetches an environment variable with a default.
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAsInt fetches an environment variable as an integer with a default.
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	var value int
	_, err := fmt.Sscanf(valueStr, "%d", &value)
	if err != nil {
		return defaultValue
	}

	return value
}
