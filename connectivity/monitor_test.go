// ABOUTME: Tests for the Connectivity Monitor and probers
// ABOUTME: Covers initial probe, subscriptions, latest-wins delivery, and dial probing
package connectivity

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *log.Logger {
	return log.New(io.Discard)
}

func TestInitialProbe(t *testing.T) {
	m := NewMonitor(context.Background(), StaticProber{State: Available(KindMetered)}, quietLogger())
	assert.True(t, m.IsConnected())
	assert.Equal(t, KindMetered, m.State().Kind)

	off := NewMonitor(context.Background(), StaticProber{State: Unavailable}, quietLogger())
	assert.False(t, off.IsConnected())
}

func TestSubscribeReceivesChanges(t *testing.T) {
	m := NewMonitor(context.Background(), StaticProber{State: Unavailable}, quietLogger())
	ch, stop := m.Subscribe()
	defer stop()

	m.Update(Available(KindUnmetered))
	select {
	case s := <-ch:
		assert.Equal(t, Available(KindUnmetered), s)
	case <-time.After(time.Second):
		t.Fatal("no state delivered")
	}
	assert.True(t, m.IsConnected())
}

func TestSubscribeLatestWins(t *testing.T) {
	m := NewMonitor(context.Background(), StaticProber{State: Unavailable}, quietLogger())
	ch, stop := m.Subscribe()
	defer stop()

	m.Update(Available(KindUnmetered))
	m.Update(Unavailable)
	m.Update(Available(KindMetered))

	s := <-ch
	assert.Equal(t, Available(KindMetered), s)
	select {
	case extra := <-ch:
		t.Fatalf("unexpected extra state %v", extra)
	default:
	}
}

func TestUpdateIgnoresRepeats(t *testing.T) {
	m := NewMonitor(context.Background(), StaticProber{State: Unavailable}, quietLogger())
	ch, stop := m.Subscribe()
	defer stop()

	m.Update(Unavailable)
	select {
	case s := <-ch:
		t.Fatalf("repeat state was published: %v", s)
	default:
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	m := NewMonitor(context.Background(), StaticProber{State: Unavailable}, quietLogger())
	ch, stop := m.Subscribe()
	stop()
	stop()

	_, ok := <-ch
	assert.False(t, ok)
	m.Update(Available(KindOther))
}

func TestDialProber(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			c.Close()
		}
	}()

	p := &DialProber{
		Address: ln.Addr().String(),
		Timeout: time.Second,
		Interfaces: func() ([]net.Interface, error) {
			return nil, nil
		},
	}
	assert.Equal(t, Available(KindOther), p.Probe(context.Background()))

	ln.Close()
	assert.False(t, p.Probe(context.Background()).Available)
}

func TestKindForInterface(t *testing.T) {
	tests := map[string]Kind{
		"wlan0":   KindUnmetered,
		"en0":     KindUnmetered,
		"eth1":    KindUnmetered,
		"wwan0":   KindMetered,
		"rmnet0":  KindMetered,
		"pdp_ip0": KindMetered,
		"lo":      KindOther,
		"utun3":   KindOther,
	}
	for name, want := range tests {
		assert.Equal(t, want, KindForInterface(name), name)
	}
}

func TestWatchStopsOnCancel(t *testing.T) {
	m := NewMonitor(context.Background(), StaticProber{State: Available(KindOther)}, quietLogger())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error)
	go func() { done <- m.Watch(ctx, 10*time.Millisecond) }()

	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}
