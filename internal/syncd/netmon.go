package syncd

import (
	"log/slog"
	"net"
	"sort"
	"strings"
	"sync"
	"time"
)

// NetworkMonitor watches the machine's network interfaces and signals
// whenever their up/down state or addresses change. It only says "the
// plumbing changed" — whether the server is actually reachable is the
// coordinator's probe to make, since an interface coming up proves
// nothing behind captive portals or VPNs.
type NetworkMonitor struct {
	interval time.Duration
	changes  chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
	logger   *slog.Logger
}

func NewNetworkMonitor(interval time.Duration, logger *slog.Logger) *NetworkMonitor {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &NetworkMonitor{
		interval: interval,
		changes:  make(chan struct{}, 1),
		stop:     make(chan struct{}),
		logger:   logger,
	}
}

// Start begins polling in a background goroutine.
func (m *NetworkMonitor) Start() {
	go m.run()
}

// Changes delivers one signal per detected interface-state change.
// The channel has a buffer of one; coalesced signals are fine because
// every signal triggers a fresh probe anyway.
func (m *NetworkMonitor) Changes() <-chan struct{} {
	return m.changes
}

func (m *NetworkMonitor) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
}

func (m *NetworkMonitor) run() {
	last := fingerprint()
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			current := fingerprint()
			if current == last {
				continue
			}
			last = current
			m.logger.Debug("network interface state changed")
			select {
			case m.changes <- struct{}{}:
			default:
			}
		}
	}
}

// fingerprint summarizes the current interface state. Any difference in
// interface set, flags, or addresses produces a different string.
func fingerprint() string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return "error:" + err.Error()
	}

	parts := make([]string, 0, len(ifaces))
	for _, iface := range ifaces {
		entry := iface.Name + "|" + iface.Flags.String()
		if addrs, err := iface.Addrs(); err == nil {
			for _, addr := range addrs {
				entry += "|" + addr.String()
			}
		}
		parts = append(parts, entry)
	}
	sort.Strings(parts)
	return strings.Join(parts, "\n")
}
