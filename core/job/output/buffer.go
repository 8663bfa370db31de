package output

import (
	"sync"

	"github.com/odpf/custodian/core/job"
)

// Buffer holds the ordered output lines of one job, capped at a fixed
// maximum with oldest-first eviction. Every appended line gets a
// monotonically increasing sequence number, unaffected by eviction.
type Buffer struct {
	mu    sync.Mutex
	lines []string
	start int
	count int
	seq   int64
}

func NewBuffer(maxLines int) *Buffer {
	if maxLines <= 0 {
		maxLines = 1
	}
	return &Buffer{
		lines: make([]string, maxLines),
	}
}

// Append records one line and returns its sequence number.
func (b *Buffer) Append(line string) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.seq++
	pos := (b.start + b.count) % len(b.lines)
	b.lines[pos] = line
	if b.count < len(b.lines) {
		b.count++
		return b.seq
	}
	// full, the oldest line is overwritten
	b.start = (b.start + 1) % len(b.lines)
	return b.seq
}

// Snapshot returns the buffered lines oldest first.
func (b *Buffer) Snapshot() []string {
	lines, _ := b.SnapshotSeq()
	return lines
}

// SnapshotSeq returns the buffered lines oldest first together with the
// sequence number of the newest one, taken under one lock so the pair
// is consistent.
func (b *Buffer) SnapshotSeq() ([]string, int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]string, b.count)
	for i := 0; i < b.count; i++ {
		out[i] = b.lines[(b.start+i)%len(b.lines)]
	}
	return out, b.seq
}

// LastSeq returns the sequence number of the newest appended line.
func (b *Buffer) LastSeq() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.seq
}

func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Manager keys per-job buffers by job id.
type Manager struct {
	mu       sync.RWMutex
	buffers  map[job.ID]*Buffer
	maxLines int
}

func NewManager(maxLinesPerJob int) *Manager {
	return &Manager{
		buffers:  map[job.ID]*Buffer{},
		maxLines: maxLinesPerJob,
	}
}

func (m *Manager) Create(id job.ID) *Buffer {
	m.mu.Lock()
	defer m.mu.Unlock()

	if b, ok := m.buffers[id]; ok {
		return b
	}
	b := NewBuffer(m.maxLines)
	m.buffers[id] = b
	return b
}

func (m *Manager) Get(id job.ID) (*Buffer, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.buffers[id]
	return b, ok
}

func (m *Manager) Append(id job.ID, line string) int64 {
	m.mu.RLock()
	b, ok := m.buffers[id]
	m.mu.RUnlock()
	if !ok {
		b = m.Create(id)
	}
	return b.Append(line)
}

func (m *Manager) Clear(id job.ID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.buffers, id)
}
