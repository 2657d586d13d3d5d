package nv

// MemoryBackend is an append-only, in-process Backend standing in for the
// desktop sample program's POSIX file-backed NV mock: every write appends,
// every read scans the whole log, so the *last* matching record wins. It is
// used by tests and by cmd/keycodesim.
type MemoryBackend struct {
	records [][]byte
}

// NewMemoryBackend returns an empty append-only backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{}
}

// WriteRecord appends record to the log and always succeeds.
func (m *MemoryBackend) WriteRecord(record []byte) bool {
	stored := append([]byte(nil), record...)
	m.records = append(m.records, stored)
	return true
}

// ScanRecords returns every record ever written, oldest first.
func (m *MemoryBackend) ScanRecords() [][]byte {
	return m.records
}

// Snapshot returns a deep copy of the log, useful for simulating a reboot
// by constructing a fresh MemoryBackend seeded with it.
func (m *MemoryBackend) Snapshot() [][]byte {
	out := make([][]byte, len(m.records))
	for i, r := range m.records {
		out[i] = append([]byte(nil), r...)
	}
	return out
}

// Restore replaces the log wholesale, e.g. to simulate re-reading NV after a
// reboot with a backend that was durable across the restart.
func (m *MemoryBackend) Restore(records [][]byte) {
	m.records = records
}
