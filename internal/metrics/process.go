package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v4/process"
)

// DefaultSampleInterval is how often engine processes are sampled.
const DefaultSampleInterval = 5 * time.Second

// ProcessStats holds one resource sample of an engine process.
type ProcessStats struct {
	PID        int32     `json:"pid"`
	Engine     string    `json:"engine"`
	CPUPercent float64   `json:"cpu_percent"`
	MemoryRSS  uint64    `json:"memory_rss"`
	NumThreads int32     `json:"num_threads"`
	NumFDs     int32     `json:"num_fds,omitempty"` // Unix only
	Timestamp  time.Time `json:"timestamp"`
}

// EngineSampler periodically samples CPU and memory usage of the engine
// processes and exports them as per-engine gauges. The pids callback
// supplies the current name -> PID mapping; gauges for engines that
// disappear from it are removed.
type EngineSampler struct {
	interval time.Duration
	pids     func() map[string]int32

	mu     sync.RWMutex
	latest map[string]ProcessStats

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	cpuPercent *prometheus.GaugeVec
	memoryRSS  *prometheus.GaugeVec
	numThreads *prometheus.GaugeVec
	numFDs     *prometheus.GaugeVec
}

// NewEngineSampler creates a sampler. interval <= 0 selects the default.
func NewEngineSampler(interval time.Duration, pids func() map[string]int32) *EngineSampler {
	if interval <= 0 {
		interval = DefaultSampleInterval
	}
	return &EngineSampler{
		interval: interval,
		pids:     pids,
		latest:   make(map[string]ProcessStats),
		stopCh:   make(chan struct{}),
		cpuPercent: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "kibitz",
				Subsystem: "engine",
				Name:      "cpu_percent",
				Help:      "CPU usage percentage of the engine process.",
			}, []string{"engine"},
		),
		memoryRSS: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "kibitz",
				Subsystem: "engine",
				Name:      "memory_rss_bytes",
				Help:      "Resident memory of the engine process in bytes.",
			}, []string{"engine"},
		),
		numThreads: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "kibitz",
				Subsystem: "engine",
				Name:      "num_threads",
				Help:      "Thread count of the engine process.",
			}, []string{"engine"},
		),
		numFDs: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "kibitz",
				Subsystem: "engine",
				Name:      "num_fds",
				Help:      "Open file descriptors of the engine process (Unix only).",
			}, []string{"engine"},
		),
	}
}

// Register registers the sampler gauges with the provided registerer.
// Already-registered collectors are tolerated.
func (s *EngineSampler) Register(r prometheus.Registerer) error {
	collectors := []prometheus.Collector{s.cpuPercent, s.memoryRSS, s.numThreads}
	if runtime.GOOS != "windows" {
		collectors = append(collectors, s.numFDs)
	}
	for _, c := range collectors {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

// Start begins periodic sampling until ctx is done or Stop is called.
func (s *EngineSampler) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.sample()
			}
		}
	}()
}

// Stop halts sampling and waits for the sampling goroutine.
func (s *EngineSampler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

func (s *EngineSampler) sample() {
	pids := s.pids()
	now := time.Now()

	fresh := make(map[string]ProcessStats, len(pids))
	for name, pid := range pids {
		if pid <= 0 {
			continue
		}
		st, err := readProcessStats(name, pid, now)
		if err != nil {
			slog.Debug("engine process sample failed", "engine", name, "pid", pid, "error", err)
			continue
		}
		fresh[name] = *st
	}

	s.mu.Lock()
	for name, st := range fresh {
		s.cpuPercent.WithLabelValues(name).Set(st.CPUPercent)
		s.memoryRSS.WithLabelValues(name).Set(float64(st.MemoryRSS))
		s.numThreads.WithLabelValues(name).Set(float64(st.NumThreads))
		if runtime.GOOS != "windows" && st.NumFDs > 0 {
			s.numFDs.WithLabelValues(name).Set(float64(st.NumFDs))
		}
		s.latest[name] = st
	}
	// Drop gauges for engines that are gone (evicted or shut down).
	for name := range s.latest {
		if _, ok := pids[name]; ok {
			continue
		}
		delete(s.latest, name)
		s.cpuPercent.DeleteLabelValues(name)
		s.memoryRSS.DeleteLabelValues(name)
		s.numThreads.DeleteLabelValues(name)
		s.numFDs.DeleteLabelValues(name)
	}
	s.mu.Unlock()
}

// Snapshot returns the most recent sample per engine.
func (s *EngineSampler) Snapshot() map[string]ProcessStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]ProcessStats, len(s.latest))
	for k, v := range s.latest {
		out[k] = v
	}
	return out
}

func readProcessStats(name string, pid int32, now time.Time) (*ProcessStats, error) {
	proc, err := process.NewProcess(pid)
	if err != nil {
		return nil, fmt.Errorf("process handle: %w", err)
	}

	// CPU percent needs a previous sample for an accurate figure; the first
	// tick can report 0.
	cpuPercent, err := proc.CPUPercent()
	if err != nil {
		cpuPercent = 0
	}

	memInfo, err := proc.MemoryInfo()
	if err != nil {
		return nil, fmt.Errorf("memory info: %w", err)
	}

	numThreads, err := proc.NumThreads()
	if err != nil {
		numThreads = 0
	}

	st := &ProcessStats{
		PID:        pid,
		Engine:     name,
		CPUPercent: cpuPercent,
		MemoryRSS:  memInfo.RSS,
		NumThreads: numThreads,
		Timestamp:  now,
	}
	if runtime.GOOS != "windows" {
		if n, err := proc.NumFDs(); err == nil {
			st.NumFDs = n
		}
	}
	return st, nil
}
