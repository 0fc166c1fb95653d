package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Server carries every externally supplied server setting. The test harness
// launches processes with these values; nothing here is hard-coded in the
// core.
type Server struct {
	ListenAddr        string        `json:"listenAddr"`
	HTTPAddr          string        `json:"httpAddr"`
	GridSize          int           `json:"gridSize"`
	RoomCapacity      int           `json:"roomCapacity"`
	BroadcastHz       int           `json:"broadcastHz"`
	HeartbeatInterval time.Duration `json:"heartbeatInterval"`
	MissedHeartbeats  int           `json:"missedHeartbeats"`
	MatchDuration     time.Duration `json:"matchDuration"`
	SessionResume     bool          `json:"sessionResume"`
	MetricsPath       string        `json:"metricsPath"`
	LogPath           string        `json:"logPath"`
	Debug             bool          `json:"debug"`
}

// Client mirrors Server for the client process.
type Client struct {
	ServerAddr        string        `json:"serverAddr"`
	RoomName          string        `json:"roomName"`
	HeartbeatInterval time.Duration `json:"heartbeatInterval"`
	JoinRetry         time.Duration `json:"joinRetry"`
	SnapshotTimeout   time.Duration `json:"snapshotTimeout"`
	SessionResume     bool          `json:"sessionResume"`
	MetricsPath       string        `json:"metricsPath"`
	LogPath           string        `json:"logPath"`
	Debug             bool          `json:"debug"`
}

// DefaultServer returns the baseline configuration before env and flag
// overrides.
func DefaultServer() Server {
	return Server{
		ListenAddr:        "127.0.0.1:9999",
		HTTPAddr:          "127.0.0.1:8080",
		GridSize:          20,
		RoomCapacity:      4,
		BroadcastHz:       20,
		HeartbeatInterval: 2 * time.Second,
		MissedHeartbeats:  3,
		MatchDuration:     0,
		SessionResume:     true,
		LogPath:           "echosync-server.log",
	}
}

// DefaultClient returns the baseline client configuration.
func DefaultClient() Client {
	return Client{
		ServerAddr:        "127.0.0.1:9999",
		HeartbeatInterval: 2 * time.Second,
		JoinRetry:         time.Second,
		SnapshotTimeout:   6 * time.Second,
		SessionResume:     true,
		LogPath:           "echosync-client.log",
	}
}

// DisconnectAfter is the liveness timeout: a session silent for this long is
// presumed gone.
func (s Server) DisconnectAfter() time.Duration {
	return time.Duration(s.MissedHeartbeats) * s.HeartbeatInterval
}

// BroadcastInterval converts the snapshot rate to a tick period.
func (s Server) BroadcastInterval() time.Duration {
	hz := s.BroadcastHz
	if hz <= 0 {
		hz = 20
	}
	return time.Second / time.Duration(hz)
}

// Validate rejects configurations the server cannot start with. Failures
// here are the only fatal path besides a failed socket bind.
func (s Server) Validate() error {
	if s.ListenAddr == "" {
		return fmt.Errorf("config: listen address required")
	}
	if s.GridSize <= 0 || s.GridSize > 255 {
		return fmt.Errorf("config: grid size %d out of range 1..255", s.GridSize)
	}
	if s.RoomCapacity <= 0 || s.RoomCapacity > 255 {
		return fmt.Errorf("config: room capacity %d out of range 1..255", s.RoomCapacity)
	}
	if s.BroadcastHz <= 0 || s.BroadcastHz > 1000 {
		return fmt.Errorf("config: broadcast rate %d out of range 1..1000", s.BroadcastHz)
	}
	if s.HeartbeatInterval <= 0 {
		return fmt.Errorf("config: heartbeat interval must be positive")
	}
	if s.MissedHeartbeats <= 0 {
		return fmt.Errorf("config: missed heartbeat count must be positive")
	}
	return nil
}

// LoadEnv pulls overrides from the environment, reading a .env file first
// when one exists. Env names: ECHOSYNC_LISTEN_ADDR, ECHOSYNC_HTTP_ADDR,
// ECHOSYNC_GRID_SIZE, ECHOSYNC_ROOM_CAPACITY, ECHOSYNC_BROADCAST_HZ,
// ECHOSYNC_HEARTBEAT, ECHOSYNC_MATCH_DURATION, ECHOSYNC_SESSION_RESUME,
// ECHOSYNC_METRICS, ECHOSYNC_LOG, ECHOSYNC_DEBUG.
func (s *Server) LoadEnv() {
	_ = godotenv.Load()
	envString(&s.ListenAddr, "ECHOSYNC_LISTEN_ADDR")
	envString(&s.HTTPAddr, "ECHOSYNC_HTTP_ADDR")
	envInt(&s.GridSize, "ECHOSYNC_GRID_SIZE")
	envInt(&s.RoomCapacity, "ECHOSYNC_ROOM_CAPACITY")
	envInt(&s.BroadcastHz, "ECHOSYNC_BROADCAST_HZ")
	envDuration(&s.HeartbeatInterval, "ECHOSYNC_HEARTBEAT")
	envDuration(&s.MatchDuration, "ECHOSYNC_MATCH_DURATION")
	envBool(&s.SessionResume, "ECHOSYNC_SESSION_RESUME")
	envString(&s.MetricsPath, "ECHOSYNC_METRICS")
	envString(&s.LogPath, "ECHOSYNC_LOG")
	envBool(&s.Debug, "ECHOSYNC_DEBUG")
}

// LoadEnv applies the client env overrides: ECHOSYNC_SERVER_ADDR,
// ECHOSYNC_ROOM, ECHOSYNC_HEARTBEAT, ECHOSYNC_SESSION_RESUME,
// ECHOSYNC_METRICS, ECHOSYNC_LOG, ECHOSYNC_DEBUG.
func (c *Client) LoadEnv() {
	_ = godotenv.Load()
	envString(&c.ServerAddr, "ECHOSYNC_SERVER_ADDR")
	envString(&c.RoomName, "ECHOSYNC_ROOM")
	envDuration(&c.HeartbeatInterval, "ECHOSYNC_HEARTBEAT")
	envBool(&c.SessionResume, "ECHOSYNC_SESSION_RESUME")
	envString(&c.MetricsPath, "ECHOSYNC_METRICS")
	envString(&c.LogPath, "ECHOSYNC_LOG")
	envBool(&c.Debug, "ECHOSYNC_DEBUG")
}

func envString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func envDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
