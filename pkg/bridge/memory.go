package bridge

import (
	"fmt"
	"reflect"

	"github.com/ignitionstack/kvbridge/pkg/errors"
)

// Memory is the view of a guest's linear memory the bridge works on.
// wazero's api.Memory satisfies it, and so does extism's plugin memory.
type Memory interface {
	Size() uint32
	Read(offset, byteCount uint32) ([]byte, bool)
	Write(offset uint32, v []byte) bool
}

// Range is an (offset, length) pair as passed by the guest. Both halves are
// untrusted. Offsets are unsigned 32-bit addresses carried in an i32.
type Range struct {
	Offset int32
	Length int32
}

func (r Range) String() string {
	return fmt.Sprintf("[%d, +%d)", uint32(r.Offset), r.Length)
}

// within reports whether r is non-negative in length and fits in size bytes.
func (r Range) within(size uint32) bool {
	if r.Length < 0 {
		return false
	}
	end := uint64(uint32(r.Offset)) + uint64(r.Length)
	return end <= uint64(size)
}

func isValidMemory(mem Memory) bool {
	if mem == nil {
		return false
	}
	// Catch an interface holding a nil pointer.
	v := reflect.ValueOf(mem)
	switch v.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return !v.IsNil()
	}
	return true
}

// GuestMemory is a bounds-checked accessor over one guest memory. Reads
// return host-owned copies, so nothing handed out aliases guest memory.
type GuestMemory struct {
	mem Memory
}

// NewGuestMemory wraps mem. A missing memory is a bridge fault.
func NewGuestMemory(mem Memory) (*GuestMemory, error) {
	if !isValidMemory(mem) {
		return nil, errors.ErrNoMemory
	}
	return &GuestMemory{mem: mem}, nil
}

// Check fails with a memory fault unless r lies inside guest memory.
func (g *GuestMemory) Check(r Range) error {
	if r.within(g.mem.Size()) {
		return nil
	}
	return errors.New(errors.DomainBridge, errors.CodeMemoryFault, "guest memory access out of bounds").
		WithDetails(map[string]interface{}{
			"range":       r.String(),
			"memory_size": g.mem.Size(),
		})
}

// Read copies the bytes in r out of guest memory.
func (g *GuestMemory) Read(r Range) ([]byte, error) {
	if err := g.Check(r); err != nil {
		return nil, err
	}
	if r.Length == 0 {
		return []byte{}, nil
	}

	view, ok := g.mem.Read(uint32(r.Offset), uint32(r.Length))
	if !ok {
		return nil, errors.ErrMemoryFault
	}
	return append([]byte(nil), view...), nil
}

// Write copies b into guest memory at offset.
func (g *GuestMemory) Write(offset int32, b []byte) error {
	if len(b) == 0 {
		return nil
	}
	r := Range{Offset: offset, Length: int32(len(b))}
	if err := g.Check(r); err != nil {
		return err
	}
	if !g.mem.Write(uint32(offset), b) {
		return errors.ErrMemoryFault
	}
	return nil
}
