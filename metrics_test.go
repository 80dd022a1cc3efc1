package vmlink

import (
	"testing"
	"time"
)

func TestMetrics(t *testing.T) {
	m := NewMetrics()

	snap := m.Snapshot()
	if snap.TotalPackets != 0 {
		t.Errorf("Expected 0 initial packets, got %d", snap.TotalPackets)
	}

	m.RecordSend(16)
	m.RecordRecv(32, 1_000_000)
	m.RecordDecodeError()

	snap = m.Snapshot()
	if snap.PacketsSent != 1 {
		t.Errorf("Expected 1 sent packet, got %d", snap.PacketsSent)
	}
	if snap.PacketsRecv != 1 {
		t.Errorf("Expected 1 recv packet, got %d", snap.PacketsRecv)
	}
	if snap.BytesSent != 16 {
		t.Errorf("Expected 16 sent bytes, got %d", snap.BytesSent)
	}
	if snap.BytesRecv != 32 {
		t.Errorf("Expected 32 recv bytes, got %d", snap.BytesRecv)
	}
	if snap.DecodeErrors != 1 {
		t.Errorf("Expected 1 decode error, got %d", snap.DecodeErrors)
	}
}

func TestMetricsConnections(t *testing.T) {
	m := NewMetrics()

	m.RecordConnections(1)
	m.RecordConnections(3)
	m.RecordConnections(2)

	snap := m.Snapshot()
	if snap.MaxConnections != 3 {
		t.Errorf("Expected max connections 3, got %d", snap.MaxConnections)
	}

	expectedAvg := float64(1+3+2) / 3.0
	if snap.AvgConnections < expectedAvg-0.1 || snap.AvgConnections > expectedAvg+0.1 {
		t.Errorf("Expected avg connections %.1f, got %.1f", expectedAvg, snap.AvgConnections)
	}
}

func TestMetricsLatency(t *testing.T) {
	m := NewMetrics()

	m.RecordRecv(1024, 1_000_000) // 1ms
	m.RecordRecv(1024, 2_000_000) // 2ms

	snap := m.Snapshot()
	expectedAvgNs := uint64(1_500_000)
	if snap.AvgLatencyNs != expectedAvgNs {
		t.Errorf("Expected avg latency %d ns, got %d ns", expectedAvgNs, snap.AvgLatencyNs)
	}
}

func TestMetricsUptime(t *testing.T) {
	m := NewMetrics()

	time.Sleep(10 * time.Millisecond)

	snap := m.Snapshot()
	if snap.UptimeNs < 10*1_000_000 {
		t.Errorf("Expected uptime >= 10ms, got %d ns", snap.UptimeNs)
	}

	m.Stop()
	time.Sleep(5 * time.Millisecond)

	snap2 := m.Snapshot()
	if snap2.UptimeNs > snap.UptimeNs+2*1_000_000 {
		t.Errorf("Uptime increased too much after stop: %d -> %d", snap.UptimeNs, snap2.UptimeNs)
	}
}

func TestMetricsReset(t *testing.T) {
	m := NewMetrics()

	m.RecordSend(16)
	m.RecordRecv(32, 1_000_000)
	m.RecordConnections(2)

	snap := m.Snapshot()
	if snap.TotalPackets == 0 {
		t.Error("Expected some packets before reset")
	}

	m.Reset()

	snap = m.Snapshot()
	if snap.TotalPackets != 0 {
		t.Errorf("Expected 0 packets after reset, got %d", snap.TotalPackets)
	}
	if snap.TotalBytes != 0 {
		t.Errorf("Expected 0 bytes after reset, got %d", snap.TotalBytes)
	}
	if snap.MaxConnections != 0 {
		t.Errorf("Expected 0 max connections after reset, got %d", snap.MaxConnections)
	}
}

func TestObserver(t *testing.T) {
	observer := &NoOpObserver{}
	observer.ObserveSend(16)
	observer.ObserveRecv(32, 1_000_000)
	observer.ObserveDecodeError()
	observer.ObserveAttachReject()
	observer.ObserveQueryBusyReject()
	observer.ObserveCreditStall()
	observer.ObserveConnections(2)

	m := NewMetrics()
	metricsObserver := NewMetricsObserver(m)

	metricsObserver.ObserveSend(16)
	metricsObserver.ObserveRecv(32, 1_000_000)
	metricsObserver.ObserveCreditStall()

	snap := m.Snapshot()
	if snap.PacketsSent != 1 {
		t.Errorf("Expected 1 sent packet from observer, got %d", snap.PacketsSent)
	}
	if snap.PacketsRecv != 1 {
		t.Errorf("Expected 1 recv packet from observer, got %d", snap.PacketsRecv)
	}
	if snap.CreditStalls != 1 {
		t.Errorf("Expected 1 credit stall from observer, got %d", snap.CreditStalls)
	}
}

func TestMetricsHistogram(t *testing.T) {
	m := NewMetrics()

	for i := 0; i < 50; i++ {
		m.RecordRecv(1024, 500_000) // 500us
	}
	for i := 0; i < 49; i++ {
		m.RecordRecv(1024, 5_000_000) // 5ms
	}
	m.RecordRecv(1024, 50_000_000) // 50ms, P99

	snap := m.Snapshot()
	if snap.PacketsRecv != 100 {
		t.Errorf("Expected 100 total packets, got %d", snap.PacketsRecv)
	}

	if snap.LatencyP50Ns < 100_000 || snap.LatencyP50Ns > 1_000_000 {
		t.Errorf("Expected P50 in 100us-1ms range, got %d ns", snap.LatencyP50Ns)
	}

	if snap.LatencyP99Ns < 5_000_000 || snap.LatencyP99Ns > 100_000_000 {
		t.Errorf("Expected P99 in 5ms-100ms range, got %d ns", snap.LatencyP99Ns)
	}

	totalInBuckets := uint64(0)
	for i := 0; i < len(snap.LatencyHistogram); i++ {
		totalInBuckets += snap.LatencyHistogram[i]
	}
	if totalInBuckets == 0 {
		t.Error("Expected histogram buckets to be populated")
	}
}
