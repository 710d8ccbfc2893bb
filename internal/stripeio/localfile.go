package stripeio

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
)

// LocalFile is a StripeIO backed by a real file on the local
// filesystem. Async operations are dispatched onto their own
// goroutine; they are not queued against a shared worker pool since
// the kernel already serializes pwrite/pread against one fd.
type LocalFile struct {
	url  string
	path string

	mu   sync.Mutex
	file *os.File

	handler *AsyncHandler
}

// NewLocalFile returns a LocalFile bound to path, not yet opened.
func NewLocalFile(url, path string) *LocalFile {
	return &LocalFile{
		url:     url,
		path:    path,
		handler: NewAsyncHandler(),
	}
}

func (l *LocalFile) URL() string { return l.url }

func (l *LocalFile) AsyncHandler() *AsyncHandler { return l.handler }

func (l *LocalFile) OpenAsync(ctx context.Context, flags int, mode os.FileMode) *Future {
	f := NewFuture()
	go func() {
		// flags are already os.OpenFile flags; RainCore composes them
		// from O_RDONLY/O_RDWR plus O_CREATE/O_TRUNC.
		fh, err := os.OpenFile(l.path, flags, mode)
		if err != nil {
			f.Complete(0, fmt.Errorf("stripeio: open %s: %w", l.path, err))
			return
		}
		l.mu.Lock()
		l.file = fh
		l.mu.Unlock()
		f.Complete(0, nil)
	}()
	return f
}

func (l *LocalFile) fh() (*os.File, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil, fmt.Errorf("stripeio: %s not open", l.url)
	}
	return l.file, nil
}

func (l *LocalFile) Read(ctx context.Context, offset int64, buf []byte) (int, error) {
	fh, err := l.fh()
	if err != nil {
		return 0, err
	}
	n, err := fh.ReadAt(buf, offset)
	if err == io.EOF {
		// Short reads at end-of-file are permitted.
		return n, nil
	}
	return n, err
}

func (l *LocalFile) ReadPrefetch(ctx context.Context, offset int64, buf []byte) (int, error) {
	return l.Read(ctx, offset, buf)
}

func (l *LocalFile) ReadAsync(ctx context.Context, offset int64, buf []byte) *Future {
	f := NewFuture()
	go func() {
		n, err := l.Read(ctx, offset, buf)
		f.Complete(n, err)
	}()
	return f
}

func (l *LocalFile) ReadVector(ctx context.Context, chunks []Chunk) (int, error) {
	total := 0
	for _, c := range chunks {
		n, err := l.Read(ctx, c.Offset, c.Buf)
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

func (l *LocalFile) ReadVectorAsync(ctx context.Context, chunks []Chunk) *Future {
	f := NewFuture()
	go func() {
		n, err := l.ReadVector(ctx, chunks)
		f.Complete(n, err)
	}()
	return f
}

func (l *LocalFile) Write(ctx context.Context, offset int64, buf []byte) (int, error) {
	fh, err := l.fh()
	if err != nil {
		return 0, err
	}
	n, err := fh.WriteAt(buf, offset)
	return n, err
}

func (l *LocalFile) WriteAsync(ctx context.Context, offset int64, buf []byte) *Future {
	f := NewFuture()
	go func() {
		n, err := l.Write(ctx, offset, buf)
		f.Complete(n, err)
	}()
	return f
}

func (l *LocalFile) TruncateAsync(ctx context.Context, size int64) *Future {
	f := NewFuture()
	go func() {
		fh, err := l.fh()
		if err != nil {
			f.Complete(0, err)
			return
		}
		err = fh.Truncate(size)
		f.Complete(0, err)
	}()
	return f
}

func (l *LocalFile) Stat(ctx context.Context) (Stat, error) {
	fh, err := l.fh()
	if err != nil {
		return Stat{}, err
	}
	info, err := fh.Stat()
	if err != nil {
		return Stat{}, err
	}
	return Stat{Size: info.Size()}, nil
}

func (l *LocalFile) Sync(ctx context.Context) error {
	fh, err := l.fh()
	if err != nil {
		return err
	}
	return fh.Sync()
}

// Remove drops the open handle before unlinking; otherwise reads
// through the still-open descriptor would keep serving the unlinked
// inode and the stripe loss would go unnoticed.
func (l *LocalFile) Remove(ctx context.Context) error {
	l.mu.Lock()
	fh := l.file
	l.file = nil
	l.mu.Unlock()
	if fh != nil {
		_ = fh.Close()
	}
	return os.Remove(l.path)
}

func (l *LocalFile) Close(ctx context.Context) error {
	l.mu.Lock()
	fh := l.file
	l.file = nil
	l.mu.Unlock()
	if fh == nil {
		return nil
	}
	return fh.Close()
}
