package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/juanpablocruz/uap/internal/config"
	"github.com/juanpablocruz/uap/pkg/event"
	"github.com/juanpablocruz/uap/pkg/journal"
)

func TestSimCleanNetwork(t *testing.T) {
	cfg := config.Sim{Clients: 3, Messages: 10}
	cfg.ApplyDefaults()
	cfg.Journal = filepath.Join(t.TempDir(), "sim.journal")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	rep, err := runSim(ctx, cfg)
	if err != nil {
		t.Fatalf("runSim: %v", err)
	}

	var servers int
	for _, s := range rep.Sessions {
		if s.Origin != event.Server {
			continue
		}
		servers++
		if s.Received != 10 || s.Lost != 0 || s.Duplicates != 0 {
			t.Fatalf("session %d: received=%d lost=%d dup=%d", s.Session, s.Received, s.Lost, s.Duplicates)
		}
		if s.Reason != "peer_goodbye" {
			t.Fatalf("session %d closed with %q", s.Session, s.Reason)
		}
	}
	if servers != 3 {
		t.Fatalf("server sessions=%d want 3", servers)
	}

	events, err := journal.ReadFile(cfg.Journal)
	if err != nil {
		t.Fatalf("read journal: %v", err)
	}
	if len(events) != rep.Events {
		t.Fatalf("journal has %d events, report %d", len(events), rep.Events)
	}
}

func TestSimLossyNetworkFinishes(t *testing.T) {
	cfg := config.Sim{Clients: 2, Messages: 30, Loss: 0.2, Dup: 0.2, Reorder: 0.2, Seed: 7}
	cfg.ApplyDefaults()
	cfg.ResponseTimeout = 100 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	rep, err := runSim(ctx, cfg)
	if err != nil {
		t.Fatalf("runSim: %v", err)
	}
	if rep.Events == 0 {
		t.Fatalf("no events recorded")
	}
	for _, s := range rep.Sessions {
		if s.Origin == event.Client && s.Reason == "" {
			t.Fatalf("client session %d never closed", s.Session)
		}
	}
}

func TestJournalCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "j")
	w, err := journal.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	now := time.Now()
	w.Publish(event.Event{Time: now, Origin: event.Server, Type: event.SessionCreated, Session: 5})
	w.Publish(event.Event{Time: now, Origin: event.Server, Type: event.LostPacket, Session: 5, Seq: 2})
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"journal", path, "--list", "--type", "lost_packet"})
	if err := root.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(out.String(), "lost packet #2") {
		t.Fatalf("missing listed event:\n%s", out.String())
	}
}

func TestServerRejectsBadPort(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"server", "notaport"})
	if err := root.Execute(); err == nil {
		t.Fatalf("expected error for bad port")
	}
	root = newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"client", "localhost", "70000"})
	if err := root.Execute(); err == nil {
		t.Fatalf("expected error for out of range port")
	}
}

func TestSimSweepIntervalFloor(t *testing.T) {
	cases := []struct {
		inactivity, want time.Duration
	}{
		{time.Nanosecond, time.Millisecond},
		{3 * time.Nanosecond, time.Millisecond},
		{100 * time.Millisecond, 25 * time.Millisecond},
		{time.Minute, config.SweepInterval},
	}
	for _, tc := range cases {
		if got := simSweepInterval(tc.inactivity); got != tc.want {
			t.Fatalf("simSweepInterval(%s)=%s want %s", tc.inactivity, got, tc.want)
		}
	}
}

func TestSimWithFeed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feed.csv")
	if err := os.WriteFile(path, []byte("one\ntwo;1ms\nthree\n"), 0o644); err != nil {
		t.Fatalf("write feed: %v", err)
	}
	cfg := config.Sim{Clients: 2, Feed: path}
	cfg.ApplyDefaults()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	rep, err := runSim(ctx, cfg)
	if err != nil {
		t.Fatalf("runSim: %v", err)
	}
	for _, s := range rep.Sessions {
		if s.Origin == event.Server && s.Received != 3 {
			t.Fatalf("session %d received=%d want 3", s.Session, s.Received)
		}
	}
}
