// Package connectivity tracks whether the remote store is reachable.
//
// A Monitor holds one boolean online state, updated two ways:
//
//   - Probe performs a short round trip against the remote (its Ping) and
//     records the outcome. At most one probe runs at a time; a Probe call
//     made while another is outstanding returns the current state without
//     touching the network. Errors, panics and timeouts all count as offline.
//   - Passive link notifications from the operating system. A link going
//     down marks the monitor offline at once; a link coming up triggers a
//     probe, since an interface being up says nothing about the remote.
//
// Subscribers are told about every transition.
package connectivity

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"github.com/mschirtzinger/taskmirror/internal/logging"
)

// Prober performs a reachability round trip. cloud.Store satisfies it.
type Prober interface {
	Ping(ctx context.Context) error
}

// Config holds configuration for a Monitor.
type Config struct {
	// Timeout bounds a single probe.
	Timeout time.Duration

	// PollInterval is how often interface state is polled on platforms
	// without link notifications.
	PollInterval time.Duration

	// Logger for connectivity transitions
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Timeout:      5 * time.Second,
		PollInterval: 2 * time.Second,
		Logger:       logging.Default("connectivity"),
	}
}

// Monitor tracks the online state of one remote.
type Monitor struct {
	prober Prober
	config *Config

	online  atomic.Bool
	probing atomic.Bool
	probes  atomic.Int64

	// notifyMu orders transitions with their delivery, so subscribers see
	// transitions in the order they happened.
	notifyMu sync.Mutex
	subsMu   sync.Mutex
	subs     map[int]func(bool)
	nextSub  int
}

// New creates a Monitor. A nil prober means no remote is configured: every
// probe reports offline.
func New(prober Prober, config *Config) *Monitor {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultConfig().Timeout
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultConfig().PollInterval
	}
	if config.Logger == nil {
		config.Logger = logging.Default("connectivity")
	}
	return &Monitor{
		prober: prober,
		config: config,
		subs:   make(map[int]func(bool)),
	}
}

// Online reports the current state. A new Monitor starts offline.
func (m *Monitor) Online() bool {
	return m.online.Load()
}

// Probing reports whether a probe is outstanding.
func (m *Monitor) Probing() bool {
	return m.probing.Load()
}

// Probes returns how many probes actually ran.
func (m *Monitor) Probes() int64 {
	return m.probes.Load()
}

// Probe checks reachability and records the result. If a probe is already
// outstanding, Probe returns the current state immediately.
func (m *Monitor) Probe(ctx context.Context) bool {
	if m.prober == nil {
		m.SetOnline(false)
		return false
	}

	if !m.probing.CompareAndSwap(false, true) {
		return m.Online()
	}
	defer m.probing.Store(false)

	m.probes.Add(1)

	err := m.ping(ctx)
	if err != nil {
		m.config.Logger.Debug("probe failed", "err", err)
	}
	online := err == nil
	m.SetOnline(online)
	return online
}

func (m *Monitor) ping(ctx context.Context) (err error) {
	ctx, cancel := context.WithTimeout(ctx, m.config.Timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("probe panicked: %v", r)
		}
	}()

	return m.prober.Ping(ctx)
}

// SetOnline records a state reported by something other than a probe, such
// as a link notification or a failed remote call. Subscribers are notified
// if the state changed. Subscribers must not call SetOnline themselves.
func (m *Monitor) SetOnline(online bool) {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	if m.online.Swap(online) == online {
		return
	}

	if online {
		m.config.Logger.Info("remote reachable")
	} else {
		m.config.Logger.Info("remote unreachable")
	}

	for _, fn := range m.subscribers() {
		fn(online)
	}
}

// Subscribe registers fn to be called on every transition. The returned
// function removes the subscription.
func (m *Monitor) Subscribe(fn func(online bool)) (cancel func()) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()

	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn

	return func() {
		m.subsMu.Lock()
		defer m.subsMu.Unlock()
		delete(m.subs, id)
	}
}

func (m *Monitor) subscribers() []func(bool) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()

	out := make([]func(bool), 0, len(m.subs))
	for i := 0; i < m.nextSub; i++ {
		if fn, ok := m.subs[i]; ok {
			out = append(out, fn)
		}
	}
	return out
}

// Run listens for passive link notifications until ctx is cancelled. A link
// going down marks the monitor offline; a link coming up starts a probe.
func (m *Monitor) Run(ctx context.Context) error {
	m.config.Logger.Debug("watching network links")

	err := watchLinks(ctx, m.config.PollInterval, func(up bool) {
		if !up {
			m.config.Logger.Debug("network link down")
			m.SetOnline(false)
			return
		}
		m.config.Logger.Debug("network link up, probing")
		go m.Probe(ctx)
	})

	if ctx.Err() != nil {
		return nil
	}
	return err
}
