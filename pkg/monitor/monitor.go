// Package monitor samples process and storage health on a fixed interval
// and publishes the numbers two ways: Prometheus gauges for scraping and
// an in-memory Snapshot for the admin stats endpoint.
package monitor

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"chatdb/pkg/logger"
	"chatdb/pkg/store"
)

var (
	memUsedGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chatdb_mem_used_bytes",
		Help: "Heap bytes currently allocated by the process.",
	})
	goroutineGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chatdb_goroutines",
		Help: "Number of live goroutines.",
	})
	walGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chatdb_pebble_wal_bytes",
		Help: "Current size of the Pebble write-ahead log.",
	})
	diskGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chatdb_pebble_disk_bytes",
		Help: "Estimated bytes of disk space used by Pebble.",
	})
)

// Snapshot is a point-in-time view of process and storage health.
// Fields are best-effort and may be zero on unsupported platforms.
type Snapshot struct {
	Timestamp  time.Time `json:"timestamp"`
	MemTotal   uint64    `json:"mem_total_bytes"`
	MemUsed    uint64    `json:"mem_used_bytes"`
	Goroutines int       `json:"goroutines"`

	WALBytes  uint64 `json:"wal_bytes"`
	DiskBytes uint64 `json:"disk_bytes"`
}

// Monitor polls runtime and Pebble metrics and keeps the latest Snapshot.
type Monitor struct {
	mu       sync.RWMutex
	snap     Snapshot
	store    *store.Store
	interval time.Duration

	// warn once per excursion above the WAL threshold, not every tick
	walWarnBytes uint64
	warned       bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a monitor that polls every interval. A zero interval
// defaults to 15s.
func New(s *store.Store, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	m := &Monitor{store: s, interval: interval, walWarnBytes: 1 << 30}
	m.ctx, m.cancel = context.WithCancel(context.Background())
	return m
}

// Start begins background polling. Call Stop to terminate.
func (m *Monitor) Start() {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		m.sample()
		for {
			select {
			case <-m.ctx.Done():
				return
			case <-ticker.C:
				m.sample()
			}
		}
	}()
}

// Stop stops background polling and waits for the worker to exit.
func (m *Monitor) Stop() {
	m.cancel()
	m.wg.Wait()
}

// Snapshot returns the most recent sample (fast, copy).
func (m *Monitor) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snap
}

func (m *Monitor) sample() {
	snap := Snapshot{Timestamp: time.Now()}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	snap.MemTotal = ms.Sys
	snap.MemUsed = ms.Alloc
	snap.Goroutines = runtime.NumGoroutine()

	if m.store != nil && m.store.Ready() {
		pm := m.store.DBMetrics()
		snap.WALBytes = pm.WAL.Size
		snap.DiskBytes = pm.DiskSpaceUsage()
	}

	memUsedGauge.Set(float64(snap.MemUsed))
	goroutineGauge.Set(float64(snap.Goroutines))
	walGauge.Set(float64(snap.WALBytes))
	diskGauge.Set(float64(snap.DiskBytes))

	if snap.WALBytes >= m.walWarnBytes {
		if !m.warned {
			logger.Warn("pebble_wal_large", zap.Uint64("wal_bytes", snap.WALBytes))
			m.warned = true
		}
	} else {
		m.warned = false
	}

	m.mu.Lock()
	m.snap = snap
	m.mu.Unlock()
}
