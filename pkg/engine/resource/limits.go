package resource

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
)

// MemoryLimit represents memory limits in bytes.
type MemoryLimit int64

// Common memory size constants.
const (
	Kilobyte MemoryLimit = 1024
	Megabyte             = Kilobyte * 1024
	Gigabyte             = Megabyte * 1024

	// PageSize is the size of one WebAssembly memory page.
	PageSize = 64 * Kilobyte

	// maxPages is the 32-bit address space in pages.
	maxPages = 65536
)

// Limits bounds the resources one guest may use. Zero values mean the
// runtime default, which is the full 4GiB address space and no deadline.
type Limits struct {
	// Maximum linear memory of a guest instance
	MemoryLimit MemoryLimit

	// Maximum wall time of a single run or call
	MaxExecutionTime time.Duration
}

// ParseMemoryLimit reads a human size such as "128MiB" or "64 MB". The
// empty string is no limit.
func ParseMemoryLimit(s string) (MemoryLimit, error) {
	if s == "" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid memory limit %q: %w", s, err)
	}
	if n > uint64(maxPages*PageSize) {
		return 0, fmt.Errorf("memory limit %q exceeds 4GiB", s)
	}
	if n < uint64(PageSize) {
		return 0, fmt.Errorf("memory limit %q is smaller than one page", s)
	}
	return MemoryLimit(n), nil
}

// MemoryPages returns the limit in whole pages, or 0 when unlimited.
func (l Limits) MemoryPages() uint32 {
	if l.MemoryLimit <= 0 {
		return 0
	}
	pages := l.MemoryLimit / PageSize
	if pages > maxPages {
		pages = maxPages
	}
	return uint32(pages)
}

// WithDeadline bounds ctx by MaxExecutionTime when one is set.
func (l Limits) WithDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if l.MaxExecutionTime <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, l.MaxExecutionTime)
}

func (l Limits) String() string {
	mem := "default"
	if l.MemoryLimit > 0 {
		mem = humanize.IBytes(uint64(l.MemoryLimit))
	}
	deadline := "none"
	if l.MaxExecutionTime > 0 {
		deadline = l.MaxExecutionTime.String()
	}
	return fmt.Sprintf("memory=%s deadline=%s", mem, deadline)
}
