package metrics

import (
	"sort"
	"sync"
	"time"
)

type Metrics struct {
	mutex         sync.RWMutex
	requests      map[string]int64
	selections    map[string]int64
	responseTimes map[string][]time.Duration
	statusCodes   map[string]map[int]int64
	healthStatus  map[string]bool
	probes        map[string]int64
	probeFailures map[string]int64
	failovers     map[string]int64
	notifications map[string]NotificationMetrics
	unavailable   int64
	startTime     time.Time
}

type Snapshot struct {
	TotalRequests int64                          `json:"total_requests"`
	Uptime        time.Duration                  `json:"uptime"`
	Unavailable   int64                          `json:"unavailable"`
	Backends      map[string]BackendMetrics      `json:"backends"`
	Notifications map[string]NotificationMetrics `json:"notifications"`
	Algorithm     string                         `json:"algorithm"`
}

type BackendMetrics struct {
	Requests      int64         `json:"requests"`
	Selections    int64         `json:"selections"`
	Healthy       bool          `json:"healthy"`
	AvgResponse   time.Duration `json:"avg_response"`
	P50Response   time.Duration `json:"p50_response"`
	P95Response   time.Duration `json:"p95_response"`
	P99Response   time.Duration `json:"p99_response"`
	StatusCodes   map[int]int64 `json:"status_codes"`
	Probes        int64         `json:"probes"`
	ProbeFailures int64         `json:"probe_failures"`
	Failovers     int64         `json:"failovers"`
}

type NotificationMetrics struct {
	Sent     int64 `json:"sent"`
	Failed   int64 `json:"failed"`
	Fallback int64 `json:"fallback"`
}

func (m *Metrics) IncrementRequests(backend string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.requests[backend]++
}

func (m *Metrics) RecordBackendSelection(backend string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.selections[backend]++
}

func (m *Metrics) RecordResponse(backend string, duration time.Duration, statusCode int) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.responseTimes[backend] = append(m.responseTimes[backend], duration)

	if len(m.responseTimes[backend]) > 1000 {
		m.responseTimes[backend] = m.responseTimes[backend][1:]
	}

	if m.statusCodes[backend] == nil {
		m.statusCodes[backend] = make(map[int]int64)
	}
	m.statusCodes[backend][statusCode]++
}

func (m *Metrics) UpdateHealthStatus(backend string, healthy bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.healthStatus[backend] = healthy
}

func (m *Metrics) RecordProbe(backend string, healthy bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.probes[backend]++
	if !healthy {
		m.probeFailures[backend]++
	}
}

func (m *Metrics) RecordFailover(backend string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.failovers[backend]++
}

func (m *Metrics) RecordUnavailable() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.unavailable++
}

// RecordNotification counts a notification outcome. A failed delivery that
// went through the fallback counts as both failed and fallback.
func (m *Metrics) RecordNotification(kind string, success, fallback bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	nm := m.notifications[kind]
	switch {
	case success:
		nm.Sent++
	default:
		nm.Failed++
		if fallback {
			nm.Fallback++
		}
	}
	m.notifications[kind] = nm
}

func (m *Metrics) Snapshot(algorithm string) Snapshot {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	snap := Snapshot{
		Uptime:        time.Since(m.startTime),
		Unavailable:   m.unavailable,
		Backends:      make(map[string]BackendMetrics),
		Notifications: make(map[string]NotificationMetrics, len(m.notifications)),
		Algorithm:     algorithm,
	}

	for kind, nm := range m.notifications {
		snap.Notifications[kind] = nm
	}

	allBackends := make(map[string]bool)
	for backend := range m.requests {
		allBackends[backend] = true
	}
	for backend := range m.selections {
		allBackends[backend] = true
	}
	for backend := range m.responseTimes {
		allBackends[backend] = true
	}
	for backend := range m.healthStatus {
		allBackends[backend] = true
	}
	for backend := range m.probes {
		allBackends[backend] = true
	}
	for backend := range m.failovers {
		allBackends[backend] = true
	}

	for backend := range allBackends {
		snap.TotalRequests += m.requests[backend]

		bm := BackendMetrics{
			Requests:      m.requests[backend],
			Selections:    m.selections[backend],
			Healthy:       m.healthStatus[backend],
			StatusCodes:   copyCodes(m.statusCodes[backend]),
			Probes:        m.probes[backend],
			ProbeFailures: m.probeFailures[backend],
			Failovers:     m.failovers[backend],
		}

		durations := m.responseTimes[backend]
		if len(durations) > 0 {
			sorted := make([]time.Duration, len(durations))
			copy(sorted, durations)
			sort.Slice(sorted, func(i, j int) bool {
				return sorted[i] < sorted[j]
			})

			bm.AvgResponse = average(sorted)
			bm.P50Response = percentile(sorted, 0.50)
			bm.P95Response = percentile(sorted, 0.95)
			bm.P99Response = percentile(sorted, 0.99)
		}

		snap.Backends[backend] = bm
	}

	return snap
}

func NewMetrics() *Metrics {
	return &Metrics{
		requests:      make(map[string]int64),
		selections:    make(map[string]int64),
		responseTimes: make(map[string][]time.Duration),
		statusCodes:   make(map[string]map[int]int64),
		healthStatus:  make(map[string]bool),
		probes:        make(map[string]int64),
		probeFailures: make(map[string]int64),
		failovers:     make(map[string]int64),
		notifications: make(map[string]NotificationMetrics),
		startTime:     time.Now(),
	}
}

func copyCodes(codes map[int]int64) map[int]int64 {
	if codes == nil {
		return nil
	}

	out := make(map[int]int64, len(codes))
	for code, n := range codes {
		out[code] = n
	}
	return out
}

func average(durations []time.Duration) time.Duration {
	if len(durations) == 0 {
		return 0
	}

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}

	return sum / time.Duration(len(durations))
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}

	index := int(float64(len(sorted)) * p)
	if index >= len(sorted) {
		index = len(sorted) - 1
	}

	return sorted[index]
}
