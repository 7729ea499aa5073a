package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "chainfeed"

// Collectors holds every metric exported by the feed.
type Collectors struct {
	FramesReceived  prometheus.Counter
	FramesDropped   prometheus.Counter
	Reconnects      prometheus.Counter
	AccountSwitches prometheus.Counter
	AuthFailures    prometheus.Counter
	ConnectionState prometheus.Gauge
	Replayed        prometheus.Counter

	DepthUpdates *prometheus.CounterVec
	PutCallRatio *prometheus.GaugeVec
	ATMStrike    *prometheus.GaugeVec
}

// New creates the collectors and registers them with reg.
// A nil reg skips registration.
func New(reg prometheus.Registerer) *Collectors {
	c := &Collectors{
		FramesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Inbound feed frames received.",
		}),
		FramesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dropped_total",
			Help:      "Inbound frames that could not be decoded.",
		}),
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_total",
			Help:      "Reconnect attempts.",
		}),
		AccountSwitches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "account_switches_total",
			Help:      "Failovers to a backup account.",
		}),
		AuthFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_failures_total",
			Help:      "Rejected authentication handshakes.",
		}),
		ConnectionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_state",
			Help:      "Current connection state (0=disconnected ... 7=failed).",
		}),
		Replayed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscriptions_replayed_total",
			Help:      "Subscribe messages sent during replay.",
		}),
		DepthUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "depth_updates_total",
			Help:      "Depth updates applied to an option chain.",
		}, []string{"underlying"}),
		PutCallRatio: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "put_call_ratio",
			Help:      "Open interest put/call ratio.",
		}, []string{"underlying"}),
		ATMStrike: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "atm_strike",
			Help:      "At-the-money strike.",
		}, []string{"underlying"}),
	}

	if reg != nil {
		reg.MustRegister(
			c.FramesReceived,
			c.FramesDropped,
			c.Reconnects,
			c.AccountSwitches,
			c.AuthFailures,
			c.ConnectionState,
			c.Replayed,
			c.DepthUpdates,
			c.PutCallRatio,
			c.ATMStrike,
		)
	}

	return c
}

func (c *Collectors) FrameReceived() {
	if c != nil {
		c.FramesReceived.Inc()
	}
}

func (c *Collectors) FrameDropped() {
	if c != nil {
		c.FramesDropped.Inc()
	}
}

func (c *Collectors) Reconnect() {
	if c != nil {
		c.Reconnects.Inc()
	}
}

func (c *Collectors) AccountSwitch() {
	if c != nil {
		c.AccountSwitches.Inc()
	}
}

func (c *Collectors) AuthFailure() {
	if c != nil {
		c.AuthFailures.Inc()
	}
}

// SetState records the numeric connection state.
func (c *Collectors) SetState(state int) {
	if c != nil {
		c.ConnectionState.Set(float64(state))
	}
}

func (c *Collectors) AddReplayed(n int) {
	if c != nil {
		c.Replayed.Add(float64(n))
	}
}

func (c *Collectors) DepthUpdate(underlying string) {
	if c != nil {
		c.DepthUpdates.WithLabelValues(underlying).Inc()
	}
}

// SetChain records the derived metrics for one underlying.
func (c *Collectors) SetChain(underlying string, atm, pcr float64) {
	if c != nil {
		c.ATMStrike.WithLabelValues(underlying).Set(atm)
		c.PutCallRatio.WithLabelValues(underlying).Set(pcr)
	}
}
