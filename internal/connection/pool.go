package connection

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/chainfeed/internal/model"
)

// FailoverEvent records one promotion of a backup account.
type FailoverEvent struct {
	ID     uuid.UUID `json:"id"`
	From   string    `json:"from"`
	To     string    `json:"to"`
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}

// Pool is the ordered set of accounts the manager may connect with.
// Failover is one-directional: the exhausted account is discarded.
// Pool does no locking; the manager serializes access.
type Pool struct {
	current  model.Account
	backups  []model.Account
	failures map[string]int
	history  []FailoverEvent
	switches int
}

// NewPool orders accounts by Priority (stable) and makes the first current.
func NewPool(accounts []model.Account) (*Pool, error) {
	if len(accounts) == 0 {
		return nil, ErrNoAccount
	}

	ordered := make([]model.Account, len(accounts))
	copy(ordered, accounts)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority < ordered[j].Priority
	})

	return &Pool{
		current:  ordered[0],
		backups:  ordered[1:],
		failures: make(map[string]int),
	}, nil
}

// Current returns the active account.
func (p *Pool) Current() model.Account {
	return p.current
}

// Backups returns a copy of the remaining backup queue.
func (p *Pool) Backups() []model.Account {
	out := make([]model.Account, len(p.backups))
	copy(out, p.backups)
	return out
}

// BackupCount returns how many accounts remain for failover.
func (p *Pool) BackupCount() int {
	return len(p.backups)
}

// RecordFailure bumps the failure counter for the current account.
func (p *Pool) RecordFailure() int {
	key := accountLabel(p.current)
	p.failures[key]++
	return p.failures[key]
}

// Failures returns the failure count recorded against an account.
func (p *Pool) Failures(a model.Account) int {
	return p.failures[accountLabel(a)]
}

// Failover promotes the head of the backup queue. It returns false when no
// backups remain, leaving the pool unchanged.
func (p *Pool) Failover(reason string) (FailoverEvent, bool) {
	if len(p.backups) == 0 {
		return FailoverEvent{}, false
	}

	ev := FailoverEvent{
		ID:     uuid.New(),
		From:   accountLabel(p.current),
		To:     accountLabel(p.backups[0]),
		Reason: reason,
		At:     time.Now(),
	}

	p.current = p.backups[0]
	p.backups = p.backups[1:]
	p.switches++
	p.history = append(p.history, ev)

	return ev, true
}

// Switches returns how many failovers have happened.
func (p *Pool) Switches() int {
	return p.switches
}

// History returns a copy of past failovers, oldest first.
func (p *Pool) History() []FailoverEvent {
	out := make([]FailoverEvent, len(p.history))
	copy(out, p.history)
	return out
}
