package vmlink

import (
	"sync/atomic"
	"time"
)

// LatencyBuckets defines the dispatch-latency histogram buckets in
// nanoseconds, covering from 1us to 10s with logarithmic spacing.
var LatencyBuckets = []uint64{
	1_000,          // 1us
	10_000,         // 10us
	100_000,        // 100us
	1_000_000,      // 1ms
	10_000_000,     // 10ms
	100_000_000,    // 100ms
	1_000_000_000,  // 1s
	10_000_000_000, // 10s
}

const numLatencyBuckets = 8

// Metrics tracks per-client transport and protocol statistics.
type Metrics struct {
	// Packet counters.
	PacketsSent atomic.Uint64
	PacketsRecv atomic.Uint64

	// Byte counters.
	BytesSent atomic.Uint64
	BytesRecv atomic.Uint64

	// Protocol error counters.
	DecodeErrors     atomic.Uint64 // packets dropped undelivered (the dispatcher counts packets for unattached connections)
	AttachRejects    atomic.Uint64 // REQ_CONN rejected by the VM
	QueryBusyRejects atomic.Uint64 // List()/AttachXxx() called while a query is already in flight

	// Flow-control counters.
	CreditStalls atomic.Uint64 // UARTSend (uart_rx) sent nothing for lack of credit

	// Connection gauge.
	ConnectionsTotal atomic.Uint64 // sum of all sampled endpoint counts
	ConnectionsCount atomic.Uint64 // number of gauge samples
	MaxConnections   atomic.Uint32 // high-water mark of attached endpoints

	// Dispatch latency: time from a packet's arrival in the receive ring
	// to the matching callback invocation.
	TotalLatencyNs atomic.Uint64
	OpCount        atomic.Uint64
	LatencyBuckets [numLatencyBuckets]atomic.Uint64

	StartTime atomic.Int64
	StopTime  atomic.Int64
}

// NewMetrics creates a new metrics instance.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordSend records an outbound packet.
func (m *Metrics) RecordSend(bytes uint64) {
	m.PacketsSent.Add(1)
	m.BytesSent.Add(bytes)
}

// RecordRecv records an inbound packet and the latency from ring arrival
// to callback dispatch.
func (m *Metrics) RecordRecv(bytes uint64, latencyNs uint64) {
	m.PacketsRecv.Add(1)
	m.BytesRecv.Add(bytes)
	m.recordLatency(latencyNs)
}

// RecordDecodeError records a dropped malformed or oversized packet.
func (m *Metrics) RecordDecodeError() {
	m.DecodeErrors.Add(1)
}

// RecordAttachReject records a REQ_CONN rejected by the VM.
func (m *Metrics) RecordAttachReject() {
	m.AttachRejects.Add(1)
}

// RecordQueryBusyReject records a List() or AttachXxx() call rejected
// because a list or attach query is already in flight.
func (m *Metrics) RecordQueryBusyReject() {
	m.QueryBusyRejects.Add(1)
}

// RecordCreditStall records an outbound UARTSend (uart_rx) that sent
// nothing for lack of credit.
func (m *Metrics) RecordCreditStall() {
	m.CreditStalls.Add(1)
}

// RecordConnections records the current number of attached endpoints.
func (m *Metrics) RecordConnections(n uint32) {
	m.ConnectionsTotal.Add(uint64(n))
	m.ConnectionsCount.Add(1)
	for {
		current := m.MaxConnections.Load()
		if n <= current {
			break
		}
		if m.MaxConnections.CompareAndSwap(current, n) {
			break
		}
	}
}

func (m *Metrics) recordLatency(latencyNs uint64) {
	m.TotalLatencyNs.Add(latencyNs)
	m.OpCount.Add(1)
	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyBuckets[i].Add(1)
		}
	}
}

// Stop marks the client as stopped.
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// MetricsSnapshot is a point-in-time snapshot of Metrics.
type MetricsSnapshot struct {
	PacketsSent uint64
	PacketsRecv uint64
	BytesSent   uint64
	BytesRecv   uint64

	DecodeErrors     uint64
	AttachRejects    uint64
	QueryBusyRejects uint64
	CreditStalls     uint64

	AvgConnections float64
	MaxConnections uint32

	AvgLatencyNs uint64
	UptimeNs     uint64

	LatencyP50Ns  uint64
	LatencyP99Ns  uint64
	LatencyP999Ns uint64

	LatencyHistogram [numLatencyBuckets]uint64

	TotalPackets uint64
	TotalBytes   uint64
}

// Snapshot creates a point-in-time snapshot of metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		PacketsSent:      m.PacketsSent.Load(),
		PacketsRecv:      m.PacketsRecv.Load(),
		BytesSent:        m.BytesSent.Load(),
		BytesRecv:        m.BytesRecv.Load(),
		DecodeErrors:     m.DecodeErrors.Load(),
		AttachRejects:    m.AttachRejects.Load(),
		QueryBusyRejects: m.QueryBusyRejects.Load(),
		CreditStalls:     m.CreditStalls.Load(),
		MaxConnections:   m.MaxConnections.Load(),
	}

	snap.TotalPackets = snap.PacketsSent + snap.PacketsRecv
	snap.TotalBytes = snap.BytesSent + snap.BytesRecv

	connCount := m.ConnectionsCount.Load()
	if connCount > 0 {
		snap.AvgConnections = float64(m.ConnectionsTotal.Load()) / float64(connCount)
	}

	opCount := m.OpCount.Load()
	if opCount > 0 {
		snap.AvgLatencyNs = m.TotalLatencyNs.Load() / opCount
	}

	startTime := m.StartTime.Load()
	stopTime := m.StopTime.Load()
	if stopTime > 0 {
		snap.UptimeNs = uint64(stopTime - startTime)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - startTime)
	}

	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = m.LatencyBuckets[i].Load()
	}

	if opCount > 0 {
		snap.LatencyP50Ns = m.calculatePercentile(0.50)
		snap.LatencyP99Ns = m.calculatePercentile(0.99)
		snap.LatencyP999Ns = m.calculatePercentile(0.999)
	}

	return snap
}

// calculatePercentile estimates the latency at the given percentile (0.0-1.0)
// using linear interpolation between histogram buckets.
func (m *Metrics) calculatePercentile(percentile float64) uint64 {
	totalOps := m.OpCount.Load()
	if totalOps == 0 {
		return 0
	}

	targetCount := uint64(float64(totalOps) * percentile)

	prevBucket := uint64(0)
	for i, bucket := range LatencyBuckets {
		bucketCount := m.LatencyBuckets[i].Load()
		if bucketCount >= targetCount {
			prevCount := uint64(0)
			if i > 0 {
				prevCount = m.LatencyBuckets[i-1].Load()
			}
			if bucketCount == prevCount {
				return bucket
			}
			fraction := float64(targetCount-prevCount) / float64(bucketCount-prevCount)
			return prevBucket + uint64(fraction*float64(bucket-prevBucket))
		}
		prevBucket = bucket
	}

	return LatencyBuckets[numLatencyBuckets-1]
}

// Reset resets all metrics counters. Useful for testing.
func (m *Metrics) Reset() {
	m.PacketsSent.Store(0)
	m.PacketsRecv.Store(0)
	m.BytesSent.Store(0)
	m.BytesRecv.Store(0)
	m.DecodeErrors.Store(0)
	m.AttachRejects.Store(0)
	m.QueryBusyRejects.Store(0)
	m.CreditStalls.Store(0)
	m.ConnectionsTotal.Store(0)
	m.ConnectionsCount.Store(0)
	m.MaxConnections.Store(0)
	m.TotalLatencyNs.Store(0)
	m.OpCount.Store(0)
	for i := 0; i < numLatencyBuckets; i++ {
		m.LatencyBuckets[i].Store(0)
	}
	m.StartTime.Store(time.Now().UnixNano())
	m.StopTime.Store(0)
}

// Observer allows pluggable metrics collection. Implementations must be
// thread-safe; in this client's case all methods are invoked synchronously
// from within Run, so a non-atomic implementation is also safe.
type Observer interface {
	ObserveSend(bytes uint64)
	ObserveRecv(bytes uint64, latencyNs uint64)
	ObserveDecodeError()
	ObserveAttachReject()
	ObserveQueryBusyReject()
	ObserveCreditStall()
	ObserveConnections(count uint32)
}

// NoOpObserver is a no-op Observer.
type NoOpObserver struct{}

func (NoOpObserver) ObserveSend(uint64)            {}
func (NoOpObserver) ObserveRecv(uint64, uint64)     {}
func (NoOpObserver) ObserveDecodeError()            {}
func (NoOpObserver) ObserveAttachReject()           {}
func (NoOpObserver) ObserveQueryBusyReject()         {}
func (NoOpObserver) ObserveCreditStall()             {}
func (NoOpObserver) ObserveConnections(uint32)       {}

// MetricsObserver implements Observer by recording into a Metrics.
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver creates an observer that records to the given metrics.
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObserveSend(bytes uint64)                  { o.metrics.RecordSend(bytes) }
func (o *MetricsObserver) ObserveRecv(bytes uint64, latencyNs uint64) { o.metrics.RecordRecv(bytes, latencyNs) }
func (o *MetricsObserver) ObserveDecodeError()                       { o.metrics.RecordDecodeError() }
func (o *MetricsObserver) ObserveAttachReject()                      { o.metrics.RecordAttachReject() }
func (o *MetricsObserver) ObserveQueryBusyReject()                   { o.metrics.RecordQueryBusyReject() }
func (o *MetricsObserver) ObserveCreditStall()                       { o.metrics.RecordCreditStall() }
func (o *MetricsObserver) ObserveConnections(count uint32)           { o.metrics.RecordConnections(count) }

var _ Observer = (*MetricsObserver)(nil)
var _ Observer = (*NoOpObserver)(nil)
