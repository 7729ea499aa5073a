package connection

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/chainfeed/internal/metrics"
	"github.com/rickgao/chainfeed/internal/model"
	"github.com/rickgao/chainfeed/internal/router"
	"github.com/rickgao/chainfeed/internal/subscription"
)

// Manager owns the feed connection, its auth handshake, reconnects and
// account failover.
type Manager interface {
	// Start connects with the pool's current account. A failed first dial is
	// retried in the background, so Start only errors on misuse.
	Start(ctx context.Context) error

	// Stop disconnects and waits for background goroutines.
	Stop(ctx context.Context) error

	// Connect opens the transport to url with account and sends the auth
	// message. It returns once the socket is open, not once authenticated.
	Connect(ctx context.Context, url string, account model.Account) bool

	// Disconnect closes the transport and suppresses reconnects. Idempotent.
	Disconnect()

	// Status returns a snapshot without touching the network.
	Status() Status

	// Send writes one frame on the live connection.
	Send(data []byte) error

	// Ready reports whether the connection is open and authenticated.
	Ready() bool
}

// Option configures optional manager collaborators.
type Option func(*manager)

// WithMetrics exports connection metrics to c.
func WithMetrics(c *metrics.Collectors) Option {
	return func(m *manager) { m.metrics = c }
}

// manager implements the Manager interface.
type manager struct {
	cfg      ManagerConfig
	registry *subscription.Registry
	router   router.Router
	metrics  *metrics.Collectors
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Everything below is guarded by mu. mu is never held across network
	// I/O or while calling into the registry.
	mu            sync.Mutex
	pool          *Pool
	backoff       *Backoff
	client        Client
	account       model.Account
	url           string
	state         State
	active        bool
	authenticated bool
	reconnecting  bool
	counters      Metrics
	startedAt     time.Time

	// stopReplay cancels the replay bound to the current client.
	stopReplay context.CancelFunc
}

// NewManager creates a new Connection Manager and binds it as the
// registry's transport.
func NewManager(cfg ManagerConfig, pool *Pool, registry *subscription.Registry, rt router.Router, logger *slog.Logger, opts ...Option) Manager {
	if logger == nil {
		logger = slog.Default()
	}

	def := DefaultManagerConfig()
	if cfg.ReconnectAttempts < 1 {
		cfg.ReconnectAttempts = def.ReconnectAttempts
	}
	if cfg.BackoffInitial <= 0 {
		cfg.BackoffInitial = def.BackoffInitial
	}
	if cfg.BackoffBase < 1 {
		cfg.BackoffBase = def.BackoffBase
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = def.BackoffMax
	}

	ctx, cancel := context.WithCancel(context.Background())

	m := &manager{
		cfg:      cfg,
		registry: registry,
		router:   rt,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		pool:     pool,
		backoff:  NewBackoff(cfg.BackoffInitial, cfg.BackoffBase, cfg.BackoffMax),
		account:  pool.Current(),
	}
	m.url = m.urlFor(m.account)

	for _, opt := range opts {
		opt(m)
	}

	registry.Bind(m)
	return m
}

// Start begins the connection manager.
func (m *manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.state == StateFailed {
		m.mu.Unlock()
		return fmt.Errorf("connection manager is in %s state", StateFailed)
	}
	m.active = true
	m.startedAt = time.Now()
	account, url := m.account, m.url
	m.mu.Unlock()

	m.logger.Info("connection manager starting",
		"account", accountLabel(account),
		"url", url,
		"backups", m.pool.BackupCount(),
	)

	if !m.dial(ctx, url, account) {
		m.scheduleReconnect()
	}
	return nil
}

// Stop gracefully shuts down.
func (m *manager) Stop(ctx context.Context) error {
	m.logger.Info("stopping connection manager")

	m.Disconnect()
	m.cancel()

	// Wait for goroutines with timeout
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		m.logger.Warn("shutdown timeout, forcing close")
	}

	m.logger.Info("connection manager stopped")
	return nil
}

// Connect opens a connection with an explicit account.
func (m *manager) Connect(ctx context.Context, url string, account model.Account) bool {
	m.mu.Lock()
	m.active = true
	if m.startedAt.IsZero() {
		m.startedAt = time.Now()
	}
	m.mu.Unlock()

	if m.dial(ctx, url, account) {
		return true
	}

	m.mu.Lock()
	if !m.reconnecting {
		m.active = false
		m.setStateLocked(StateDisconnected)
	}
	m.mu.Unlock()
	return false
}

// Disconnect closes the connection and stops reconnecting.
func (m *manager) Disconnect() {
	m.mu.Lock()
	c := m.client
	m.client = nil
	m.active = false
	m.authenticated = false
	m.cancelReplayLocked()
	if m.state != StateFailed {
		m.setStateLocked(StateDisconnected)
	}
	m.mu.Unlock()

	if c != nil {
		c.Close()
		m.logger.Info("disconnected")
	}
}

// Status returns a point-in-time view.
func (m *manager) Status() Status {
	subs := m.registry.Len()

	m.mu.Lock()
	defer m.mu.Unlock()

	counters := m.counters
	if !m.startedAt.IsZero() && m.active {
		counters.UptimeSeconds = time.Since(m.startedAt).Seconds()
	}

	return Status{
		State:           m.state,
		Active:          m.active,
		Authenticated:   m.authenticated,
		Connected:       m.client != nil && m.client.IsConnected(),
		CurrentAccount:  accountLabel(m.account),
		BackupCount:     m.pool.BackupCount(),
		Subscriptions:   subs,
		Metrics:         counters,
		FailoverHistory: m.pool.History(),
	}
}

// Send writes data on the live connection.
func (m *manager) Send(data []byte) error {
	m.mu.Lock()
	c := m.client
	m.mu.Unlock()

	if c == nil {
		return ErrNotConnected
	}
	return c.Send(data)
}

// Ready reports whether subscriptions may be sent.
func (m *manager) Ready() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.client != nil && m.authenticated && m.client.IsConnected()
}

// dial opens a new client and starts its receive loop.
func (m *manager) dial(ctx context.Context, url string, account model.Account) bool {
	m.mu.Lock()
	if !m.active {
		m.mu.Unlock()
		return false
	}
	old := m.client
	m.client = nil
	m.account = account
	m.url = url
	m.authenticated = false
	m.cancelReplayLocked()
	m.setStateLocked(StateConnecting)
	m.mu.Unlock()

	if old != nil {
		old.Close()
	}

	log := m.logger.With("account", accountLabel(account), "session", uuid.NewString())

	cfg := m.cfg.Client
	cfg.URL = url
	c := NewClient(cfg, log)

	if err := c.Connect(ctx); err != nil {
		m.mu.Lock()
		m.counters.TotalFailures++
		m.pool.RecordFailure()
		m.mu.Unlock()

		log.Warn("connect failed", "url", url, "error", err)
		return false
	}

	m.mu.Lock()
	if !m.active {
		m.mu.Unlock()
		c.Close()
		return false
	}
	m.client = c
	m.backoff.Reset()
	m.reconnecting = false
	m.setStateLocked(StateOpen)
	m.mu.Unlock()

	log.Info("connected", "url", url)

	m.wg.Add(1)
	go m.receive(c)

	m.authenticate(c, account)
	return true
}

// authenticate sends the handshake. Transport failures surface through the
// receive loop and drive a reconnect.
func (m *manager) authenticate(c Client, account model.Account) {
	m.mu.Lock()
	if m.client != c {
		m.mu.Unlock()
		return
	}
	m.setStateLocked(StateAuthenticating)
	m.mu.Unlock()

	data, err := json.Marshal(authMessage{Action: "authenticate", APIKey: account.APIKey})
	if err != nil {
		m.logger.Error("encode auth message", "error", err)
		return
	}
	if err := c.Send(data); err != nil {
		m.logger.Warn("auth send failed", "account", accountLabel(account), "error", err)
	}
}

// receive is the single consumer of one client's frames.
func (m *manager) receive(c Client) {
	defer m.wg.Done()

	frames := c.Frames()
	for {
		f, ok := frames.Pop()
		if !ok {
			break
		}
		m.handleFrame(c, f)
	}

	m.onClosed(c)
}

// handleFrame classifies one inbound frame.
func (m *manager) handleFrame(c Client, f Frame) {
	m.mu.Lock()
	m.counters.MessagesReceived++
	m.counters.LastMessageTime = f.ReceivedAt
	m.mu.Unlock()
	m.metrics.FrameReceived()

	var msg inbound
	if err := json.Unmarshal(f.Data, &msg); err != nil {
		m.mu.Lock()
		m.counters.MessagesDropped++
		m.mu.Unlock()
		m.metrics.FrameDropped()

		m.logger.Debug("dropping undecodable frame", "error", err, "bytes", len(f.Data))
		return
	}

	switch {
	case msg.Type == typeAuth:
		m.handleAuth(c, msg)

	case msg.Type == typeSubscribe:
		m.logger.Info("subscription acknowledged",
			"status", msg.Status,
			"message", msg.Message,
			"symbol", msg.Symbol,
		)

	case msg.Type == typeMarketData || (msg.Symbol != "" && msg.HasPrice()):
		md := msg.MarketData
		md.ReceivedAt = f.ReceivedAt
		m.router.Route(md)

	default:
		m.logger.Debug("ignoring frame", "type", msg.Type)
	}
}

func (m *manager) handleAuth(c Client, msg inbound) {
	m.mu.Lock()
	if m.client != c {
		m.mu.Unlock()
		return
	}
	account := m.account

	if msg.Status != "success" {
		m.counters.AuthFailures++
		m.pool.RecordFailure()
		m.setStateLocked(StateOpen)
		m.mu.Unlock()
		m.metrics.AuthFailure()

		m.logger.Error("authentication failed",
			"account", accountLabel(account),
			"status", msg.Status,
			"message", msg.Message,
		)
		return
	}

	m.authenticated = true
	m.setStateLocked(StateAuthenticated)
	m.cancelReplayLocked()
	ctx, cancel := context.WithCancel(m.ctx)
	m.stopReplay = cancel
	m.mu.Unlock()

	m.logger.Info("authenticated", "account", accountLabel(account))

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer cancel()
		n := m.registry.ReplayTo(ctx, clientTransport{m: m, c: c})
		m.metrics.AddReplayed(n)
	}()
}

// onClosed runs after a client's frame queue closes.
func (m *manager) onClosed(c Client) {
	m.mu.Lock()
	if m.client != c {
		// Replaced or disconnected on purpose.
		m.mu.Unlock()
		return
	}
	m.client = nil
	m.authenticated = false
	m.cancelReplayLocked()

	if !m.active {
		m.setStateLocked(StateDisconnected)
		m.mu.Unlock()
		return
	}
	m.counters.TotalFailures++
	account := m.account
	m.mu.Unlock()

	m.logger.Warn("connection lost",
		"account", accountLabel(account),
		"error", c.Err(),
	)
	m.scheduleReconnect()
}

// scheduleReconnect starts the reconnect loop unless one is running.
func (m *manager) scheduleReconnect() {
	m.mu.Lock()
	if !m.active || m.reconnecting {
		m.mu.Unlock()
		return
	}
	m.reconnecting = true
	m.setStateLocked(StateReconnecting)
	m.mu.Unlock()

	m.wg.Add(1)
	go m.reconnectLoop()
}

// reconnectLoop retries with backoff, fails over when the attempt budget
// is spent, and ends in FAILED when no backups remain.
func (m *manager) reconnectLoop() {
	defer m.wg.Done()

	for {
		m.mu.Lock()
		if !m.active {
			m.reconnecting = false
			m.mu.Unlock()
			return
		}

		if m.backoff.Attempt() >= m.cfg.ReconnectAttempts && !m.failoverLocked() {
			m.reconnecting = false
			m.active = false
			m.setStateLocked(StateFailed)
			account := m.account
			m.mu.Unlock()

			m.logger.Error("reconnect attempts exhausted and no backup account remains, feed is down",
				"critical", true,
				"account", accountLabel(account),
				"attempts", m.cfg.ReconnectAttempts,
			)
			return
		}

		delay := m.backoff.Next()
		attempt := m.backoff.Attempt()
		url, account := m.url, m.account
		m.counters.ReconnectCount++
		m.mu.Unlock()
		m.metrics.Reconnect()

		m.logger.Info("attempting reconnection",
			"account", accountLabel(account),
			"attempt", attempt,
			"max_attempts", m.cfg.ReconnectAttempts,
			"delay", delay,
		)

		select {
		case <-m.ctx.Done():
			m.mu.Lock()
			m.reconnecting = false
			m.mu.Unlock()
			return
		case <-time.After(delay):
		}

		if m.dial(m.ctx, url, account) {
			return
		}

		m.mu.Lock()
		if m.active {
			m.setStateLocked(StateReconnecting)
		}
		m.mu.Unlock()
	}
}

// failoverLocked promotes the next backup account. Caller must hold m.mu.
func (m *manager) failoverLocked() bool {
	if !m.cfg.FailoverEnabled {
		return false
	}
	m.setStateLocked(StateFailingOver)

	ev, ok := m.pool.Failover(fmt.Sprintf("%d reconnect attempts failed", m.cfg.ReconnectAttempts))
	if !ok {
		return false
	}

	m.counters.AccountSwitches++
	m.account = m.pool.Current()
	m.url = m.urlFor(m.account)
	m.backoff.Reset()
	m.setStateLocked(StateConnecting)
	m.metrics.AccountSwitch()

	m.logger.Warn("failing over to backup account",
		"event_id", ev.ID,
		"from", ev.From,
		"to", ev.To,
		"backups_left", m.pool.BackupCount(),
	)
	return true
}

// cancelReplayLocked stops a replay still running for the previous client.
// Caller must hold m.mu.
func (m *manager) cancelReplayLocked() {
	if m.stopReplay != nil {
		m.stopReplay()
		m.stopReplay = nil
	}
}

// clientTransport sends on one specific client and only while that client is
// still the manager's authenticated connection.
type clientTransport struct {
	m *manager
	c Client
}

func (t clientTransport) Send(data []byte) error {
	if !t.Ready() {
		return ErrNotConnected
	}
	return t.c.Send(data)
}

func (t clientTransport) Ready() bool {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	return t.m.client == t.c && t.m.authenticated && t.c.IsConnected()
}

// setStateLocked updates the state and its gauge. Caller must hold m.mu.
func (m *manager) setStateLocked(s State) {
	m.state = s
	m.metrics.SetState(int(s))
}

func (m *manager) urlFor(account model.Account) string {
	if account.WSURL != "" {
		return account.WSURL
	}
	return m.cfg.URL
}
