package connection

import (
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/rickgao/chainfeed/internal/model"
)

func testAccounts() []model.Account {
	return []model.Account{
		{Name: "backup-b", APIKey: "bbbbbbbbbbbb", Priority: 2},
		{Name: "primary", APIKey: "pppppppppppp", Priority: 0},
		{Name: "backup-a", APIKey: "aaaaaaaaaaaa", Priority: 1},
	}
}

func TestNewPool_OrdersByPriority(t *testing.T) {
	p, err := NewPool(testAccounts())
	if err != nil {
		t.Fatalf("NewPool failed: %v", err)
	}

	if p.Current().Name != "primary" {
		t.Errorf("Current() = %s, want primary", p.Current().Name)
	}
	backups := p.Backups()
	if len(backups) != 2 || backups[0].Name != "backup-a" || backups[1].Name != "backup-b" {
		t.Errorf("Backups() = %v, want [backup-a backup-b]", backups)
	}
}

func TestNewPool_Empty(t *testing.T) {
	if _, err := NewPool(nil); !errors.Is(err, ErrNoAccount) {
		t.Errorf("err = %v, want ErrNoAccount", err)
	}
}

func TestPool_FailoverIsOneDirectional(t *testing.T) {
	p, _ := NewPool(testAccounts())

	ev, ok := p.Failover("attempts exhausted")
	if !ok {
		t.Fatal("first Failover returned false")
	}
	if ev.From != "primary" || ev.To != "backup-a" {
		t.Errorf("event = %s -> %s, want primary -> backup-a", ev.From, ev.To)
	}
	if ev.ID == uuid.Nil {
		t.Error("event ID not set")
	}

	ev, ok = p.Failover("attempts exhausted")
	if !ok || ev.To != "backup-b" {
		t.Fatalf("second Failover = (%+v, %v)", ev, ok)
	}

	if _, ok := p.Failover("attempts exhausted"); ok {
		t.Error("third Failover returned true with no backups")
	}

	if p.Current().Name != "backup-b" {
		t.Errorf("Current() = %s, want backup-b", p.Current().Name)
	}
	if p.BackupCount() != 0 {
		t.Errorf("BackupCount() = %d, want 0", p.BackupCount())
	}
	if p.Switches() != 2 {
		t.Errorf("Switches() = %d, want 2", p.Switches())
	}

	history := p.History()
	if len(history) != 2 {
		t.Fatalf("History() has %d events, want 2", len(history))
	}
	if history[0].ID == history[1].ID {
		t.Error("failover events share an ID")
	}
	for _, e := range history {
		if e.To == "primary" {
			t.Error("primary was returned to service")
		}
	}
}

func TestPool_RecordFailure(t *testing.T) {
	p, _ := NewPool(testAccounts())

	p.RecordFailure()
	if n := p.RecordFailure(); n != 2 {
		t.Errorf("RecordFailure() = %d, want 2", n)
	}

	primary := p.Current()
	p.Failover("test")

	if got := p.Failures(primary); got != 2 {
		t.Errorf("Failures(primary) = %d, want 2", got)
	}
	if got := p.Failures(p.Current()); got != 0 {
		t.Errorf("Failures(backup-a) = %d, want 0", got)
	}
}

func TestPool_CopiesInput(t *testing.T) {
	accounts := testAccounts()
	p, _ := NewPool(accounts)

	accounts[1].Name = "mutated"
	if p.Current().Name != "primary" {
		t.Error("pool shares the caller's slice")
	}

	b := p.Backups()
	b[0].Name = "mutated"
	if p.Backups()[0].Name != "backup-a" {
		t.Error("Backups() exposes internal slice")
	}
}
