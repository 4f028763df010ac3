package lifecycle

import (
	"testing"
	"time"
)

func TestShuttingDown(t *testing.T) {
	defer SetShuttingDown(false)

	if IsShuttingDown() {
		t.Fatal("IsShuttingDown() = true before SetShuttingDown")
	}
	SetShuttingDown(true)
	if !IsShuttingDown() {
		t.Error("IsShuttingDown() = false after SetShuttingDown(true)")
	}
	SetShuttingDown(false)
	if IsShuttingDown() {
		t.Error("IsShuttingDown() = true after SetShuttingDown(false)")
	}
}

func TestUptime(t *testing.T) {
	MarkStarted(time.Now().Add(-time.Hour))
	if up := Uptime(); up < time.Hour || up > time.Hour+time.Minute {
		t.Errorf("Uptime() = %v, want about 1h", up)
	}
}
