package connection

import (
	"errors"
	"time"

	"github.com/rickgao/chainfeed/internal/model"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrStaleConnection = errors.New("connection stale (no pong)")
	ErrAlreadyClosed   = errors.New("already closed")
	ErrNoAccount       = errors.New("no accounts configured")
)

// Frame is one inbound text frame with its local receive time.
type Frame struct {
	Data       []byte
	ReceivedAt time.Time
}

// State is the connection state machine position.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
	StateAuthenticating
	StateAuthenticated
	StateReconnecting
	StateFailingOver
	StateFailed
)

var stateNames = [...]string{
	StateDisconnected:   "DISCONNECTED",
	StateConnecting:     "CONNECTING",
	StateOpen:           "OPEN",
	StateAuthenticating: "AUTHENTICATING",
	StateAuthenticated:  "AUTHENTICATED",
	StateReconnecting:   "RECONNECTING",
	StateFailingOver:    "FAILING_OVER",
	StateFailed:         "FAILED",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "UNKNOWN"
	}
	return stateNames[s]
}

// MarshalText renders the state name in JSON status payloads.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ClientConfig configures a WebSocket client.
type ClientConfig struct {
	URL          string        // Feed socket URL (e.g., ws://127.0.0.1:8765)
	PingInterval time.Duration // How often we ping the server
	PingTimeout  time.Duration // Max time without pong before considering connection stale
	WriteTimeout time.Duration // Write deadline for sends
	QueueSize    int           // Initial frame queue capacity
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		PingInterval: 30 * time.Second,
		PingTimeout:  90 * time.Second,
		WriteTimeout: 5 * time.Second,
		QueueSize:    1024,
	}
}

// ManagerConfig configures the Connection Manager.
type ManagerConfig struct {
	URL               string        // Default feed URL when an account has none
	ReconnectAttempts int           // Attempts per account before failover
	BackoffInitial    time.Duration // Delay of attempt 0
	BackoffBase       float64       // Growth factor per attempt
	BackoffMax        time.Duration // Delay cap
	FailoverEnabled   bool          // Promote backup accounts when attempts run out
	Client            ClientConfig  // Per-connection transport settings
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		ReconnectAttempts: 5,
		BackoffInitial:    time.Second,
		BackoffBase:       2,
		BackoffMax:        60 * time.Second,
		FailoverEnabled:   true,
		Client:            DefaultClientConfig(),
	}
}

// Metrics are the manager's own counters, reported in Status.
type Metrics struct {
	MessagesReceived int64     `json:"messages_received"`
	MessagesDropped  int64     `json:"messages_dropped"`
	TotalFailures    int64     `json:"total_failures"`
	ReconnectCount   int64     `json:"reconnect_count"`
	AccountSwitches  int64     `json:"account_switches"`
	AuthFailures     int64     `json:"auth_failures"`
	LastMessageTime  time.Time `json:"last_message_time"`
	UptimeSeconds    float64   `json:"uptime_seconds"`
}

// Status is a point-in-time view of the connection.
type Status struct {
	State           State           `json:"status"`
	Active          bool            `json:"active"`
	Authenticated   bool            `json:"authenticated"`
	Connected       bool            `json:"connected"`
	CurrentAccount  string          `json:"current_account"`
	BackupCount     int             `json:"backup_count"`
	Subscriptions   int             `json:"subscriptions"`
	Metrics         Metrics         `json:"metrics"`
	FailoverHistory []FailoverEvent `json:"failover_history"`
}

// authMessage is the outbound handshake.
type authMessage struct {
	Action string `json:"action"`
	APIKey string `json:"api_key"`
}

// inbound is every field the classifier looks at.
type inbound struct {
	model.MarketData
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Inbound frame types.
const (
	typeAuth       = "auth"
	typeSubscribe  = "subscribe"
	typeMarketData = "market_data"
)

// accountLabel names an account in logs without exposing its key.
func accountLabel(a model.Account) string {
	if a.Name != "" {
		return a.Name
	}
	return a.MaskedKey()
}
