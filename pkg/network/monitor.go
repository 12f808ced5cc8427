// Package network implements the connectivity monitor: online/offline
// detection and the transition hook that wakes the outbox and
// resurrects the dead-letter queue the moment the network comes back.
package network

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/posyncd/pkg/log"
)

// Prober reports low-level connectivity. Its methods should be cheap
// and side-effect free; Monitor handles transition detection on top of
// it, with no debouncing: a single poll result flips the state.
type Prober interface {
	// Connected reports whether the device has any network interface
	// up (link-local signal only).
	Connected() bool
	// InternetReachable reports whether a real round trip to the
	// remote succeeds. Online requires both signals.
	InternetReachable(ctx context.Context) bool
}

// DNSProber is the default Prober: it treats having at least one
// non-loopback interface address as "connected", and a successful DNS
// resolution against a well-known host as "internet reachable".
type DNSProber struct {
	probeHost string
	timeout   time.Duration
}

// NewDNSProber builds a Prober that resolves probeHost to test
// internet reachability, bounded by timeout.
func NewDNSProber(probeHost string, timeout time.Duration) *DNSProber {
	return &DNSProber{probeHost: probeHost, timeout: timeout}
}

func (p *DNSProber) Connected() bool {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return false
	}
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if ok && !ipnet.IP.IsLoopback() && ipnet.IP.To4() != nil {
			return true
		}
	}
	return false
}

func (p *DNSProber) InternetReachable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	var resolver net.Resolver
	_, err := resolver.LookupHost(ctx, p.probeHost)
	return err == nil
}

// OnTransition is called whenever the monitor's online state flips.
type OnTransition func(online bool)

// Monitor polls a Prober on a fixed interval and reports the derived
// online/offline state (connected && internetReachable).
type Monitor struct {
	prober   Prober
	interval time.Duration
	onChange OnTransition
	logger   zerolog.Logger

	mu     sync.RWMutex
	online bool

	stopCh chan struct{}
}

// New builds a Monitor polling prober every interval. onChange, if
// non-nil, fires on every online/offline transition.
func New(prober Prober, interval time.Duration, onChange OnTransition) *Monitor {
	return &Monitor{
		prober:   prober,
		interval: interval,
		onChange: onChange,
		logger:   log.WithComponent("network"),
		stopCh:   make(chan struct{}),
	}
}

// Start begins polling in the background.
func (m *Monitor) Start(ctx context.Context) {
	go m.run(ctx)
}

// Stop halts polling.
func (m *Monitor) Stop() {
	close(m.stopCh)
}

func (m *Monitor) run(ctx context.Context) {
	m.poll(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.poll(ctx)
		case <-m.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (m *Monitor) poll(ctx context.Context) {
	nowOnline := m.prober.Connected() && m.prober.InternetReachable(ctx)

	m.mu.Lock()
	changed := nowOnline != m.online
	m.online = nowOnline
	m.mu.Unlock()

	if changed {
		m.logger.Info().Bool("online", nowOnline).Msg("connectivity changed")
		if m.onChange != nil {
			m.onChange(nowOnline)
		}
	}
}

// IsOnline reports the last-known online state.
func (m *Monitor) IsOnline() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}
