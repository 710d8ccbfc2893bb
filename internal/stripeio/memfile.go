package stripeio

import (
	"context"
	"fmt"
	"os"
	"sync"
)

// MemFile is an in-memory StripeIO, used by tests and by the rainctl
// simulate command where spinning up real files would be unnecessary
// ceremony.
type MemFile struct {
	url string

	mu      sync.Mutex
	exists  bool
	opened  bool
	data    []byte
	closed  bool
	handler *AsyncHandler
}

func NewMemFile(url string) *MemFile {
	return &MemFile{url: url, handler: NewAsyncHandler()}
}

func (m *MemFile) URL() string                 { return m.url }
func (m *MemFile) AsyncHandler() *AsyncHandler { return m.handler }

func (m *MemFile) OpenAsync(ctx context.Context, flags int, mode os.FileMode) *Future {
	f := NewFuture()
	m.mu.Lock()
	if !m.exists && flags&os.O_CREATE == 0 {
		m.mu.Unlock()
		f.Complete(0, fmt.Errorf("stripeio: %s: no such file", m.url))
		return f
	}
	if flags&os.O_TRUNC != 0 {
		m.data = nil
	}
	m.exists = true
	m.opened = true
	m.closed = false
	m.mu.Unlock()
	f.Complete(0, nil)
	return f
}

func (m *MemFile) ensureLen(end int64) {
	if int64(len(m.data)) < end {
		grown := make([]byte, end)
		copy(grown, m.data)
		m.data = grown
	}
}

func (m *MemFile) Read(ctx context.Context, offset int64, buf []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.opened || m.closed {
		return 0, fmt.Errorf("stripeio: %s not open", m.url)
	}
	if offset >= int64(len(m.data)) {
		return 0, nil
	}
	n := copy(buf, m.data[offset:])
	return n, nil
}

func (m *MemFile) ReadPrefetch(ctx context.Context, offset int64, buf []byte) (int, error) {
	return m.Read(ctx, offset, buf)
}

func (m *MemFile) ReadAsync(ctx context.Context, offset int64, buf []byte) *Future {
	f := NewFuture()
	n, err := m.Read(ctx, offset, buf)
	f.Complete(n, err)
	return f
}

func (m *MemFile) ReadVector(ctx context.Context, chunks []Chunk) (int, error) {
	total := 0
	for _, c := range chunks {
		n, err := m.Read(ctx, c.Offset, c.Buf)
		total += n
		if err != nil {
			return -1, err
		}
		if n != len(c.Buf) {
			return -1, fmt.Errorf("stripeio: short read in vector chunk at offset %d", c.Offset)
		}
	}
	return total, nil
}

func (m *MemFile) ReadVectorAsync(ctx context.Context, chunks []Chunk) *Future {
	f := NewFuture()
	n, err := m.ReadVector(ctx, chunks)
	f.Complete(n, err)
	return f
}

func (m *MemFile) Write(ctx context.Context, offset int64, buf []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.opened || m.closed {
		return 0, fmt.Errorf("stripeio: %s not open", m.url)
	}
	m.ensureLen(offset + int64(len(buf)))
	n := copy(m.data[offset:], buf)
	return n, nil
}

func (m *MemFile) WriteAsync(ctx context.Context, offset int64, buf []byte) *Future {
	f := NewFuture()
	n, err := m.Write(ctx, offset, buf)
	f.Complete(n, err)
	return f
}

func (m *MemFile) TruncateAsync(ctx context.Context, size int64) *Future {
	f := NewFuture()
	m.mu.Lock()
	if size < int64(len(m.data)) {
		m.data = m.data[:size]
	} else {
		m.ensureLen(size)
	}
	m.mu.Unlock()
	f.Complete(0, nil)
	return f
}

func (m *MemFile) Stat(ctx context.Context) (Stat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stat{Size: int64(len(m.data))}, nil
}

func (m *MemFile) Sync(ctx context.Context) error { return nil }

func (m *MemFile) Remove(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = nil
	m.opened = false
	m.exists = false
	return nil
}

func (m *MemFile) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
