package metrics

import "testing"

// BenchmarkCollector_DataSent measures the per-credit counter overhead.
func BenchmarkCollector_DataSent(b *testing.B) {
	c := New()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.CreditGranted()
		c.DataSent(4096, 8)
	}
}

// BenchmarkCollector_Snapshot measures the cost of taking a snapshot.
func BenchmarkCollector_Snapshot(b *testing.B) {
	c := New()
	c.SessionOpened()
	c.DataSent(1024, 2)
	c.RecordError("test")
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = c.Snapshot()
	}
}
