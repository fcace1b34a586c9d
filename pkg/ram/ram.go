package ram

import (
	"encoding/binary"
	"fmt"
	"maps"
)

// Constants for guest memory layout
const (
	PageSize = (1 << 12)

	// PhysicalMask strips the KUSEG/KSEG0/KSEG1 segment bits from a virtual address.
	PhysicalMask = 0x1FFFFFFF
	PhysicalSize = PhysicalMask + 1
	NumPages     = PhysicalSize / PageSize

	// Main RAM is mirrored four times across the first 8MB of physical space.
	MainRamSize       = (2 << 20)
	MainRamMirrorSize = (8 << 20)

	BiosBase = 0x1FC00000
	BiosSize = (512 << 10)
)

// RAM is a sparse, page-granular view of the guest physical address space.
// Pages are created on first write and read as zero until then.
type RAM struct {
	pages map[uint32][]byte // Page number -> page content
}

// NewEmptyRAM creates an empty RAM
func NewEmptyRAM() *RAM {
	return &RAM{
		pages: make(map[uint32][]byte),
	}
}

// Clone returns a deep copy, used to run two execution modes from identical memory.
func (r *RAM) Clone() *RAM {
	c := NewEmptyRAM()
	for num, page := range r.pages {
		c.pages[num] = append([]byte(nil), page...)
	}
	return c
}

// Equal reports whether both RAMs hold the same bytes. Unallocated pages equal zero pages.
func (r *RAM) Equal(o *RAM) bool {
	zero := make([]byte, PageSize)
	seen := maps.Clone(r.pages)
	for num, page := range o.pages {
		mine, ok := seen[num]
		if !ok {
			mine = zero
		}
		if string(mine) != string(page) {
			return false
		}
		delete(seen, num)
	}
	for _, page := range seen {
		if string(page) != string(zero) {
			return false
		}
	}
	return true
}

// PhysicalAddress maps a guest virtual address onto the physical index used for storage.
func PhysicalAddress(address uint32) uint32 {
	phys := address & PhysicalMask
	if phys < MainRamMirrorSize {
		phys %= MainRamSize
	}
	return phys
}

// getPageAndOffset converts a physical index to page number and offset
func (r *RAM) getPageAndOffset(index uint32) (pageNum uint32, offset uint32) {
	pageNum = index / PageSize
	offset = index % PageSize
	return
}

// getPage returns the page at the given page number, or nil if it doesn't exist
func (r *RAM) getPage(pageNum uint32) []byte {
	if pageNum >= NumPages {
		panic(fmt.Sprintf("Attempted to access invalid page number %d (max is %d)", pageNum, NumPages-1))
	}
	return r.pages[pageNum]
}

// getOrCreatePage returns the page at the given page number, creating it if it doesn't exist
func (r *RAM) getOrCreatePage(pageNum uint32) []byte {
	if pageNum >= NumPages {
		panic(fmt.Sprintf("Attempted to create page at invalid index %d (max is %d)", pageNum, NumPages-1))
	}
	page, exists := r.pages[pageNum]
	if !exists {
		page = make([]byte, PageSize)
		r.pages[pageNum] = page
	}
	return page
}

// Inspect returns the byte at the given guest address
func (r *RAM) Inspect(address uint32) byte {
	pageNum, offset := r.getPageAndOffset(PhysicalAddress(address))
	page := r.getPage(pageNum)
	if page == nil {
		return 0
	}
	return page[offset]
}

// InspectRange returns length bytes starting at the given guest address
func (r *RAM) InspectRange(start uint32, length int) []byte {
	result := make([]byte, length)
	for i := range result {
		result[i] = r.Inspect(start + uint32(i))
	}
	return result
}

// Mutate changes a byte at the given guest address
func (r *RAM) Mutate(address uint32, value byte) {
	pageNum, offset := r.getPageAndOffset(PhysicalAddress(address))
	r.getOrCreatePage(pageNum)[offset] = value
}

// MutateRange copies bytes to consecutive guest addresses
func (r *RAM) MutateRange(start uint32, data []byte) {
	for i, b := range data {
		r.Mutate(start+uint32(i), b)
	}
}

// Bus gives the CPU naturally aligned little-endian access to RAM. Callers
// check alignment; the bus only performs the access.
type Bus struct {
	ram *RAM
}

func NewBus(r *RAM) *Bus {
	return &Bus{ram: r}
}

func (b *Bus) RAM() *RAM { return b.ram }

func (b *Bus) ReadByte(address uint32) uint8 {
	return b.ram.Inspect(address)
}

func (b *Bus) ReadHalfWord(address uint32) uint16 {
	var buf [2]byte
	buf[0] = b.ram.Inspect(address)
	buf[1] = b.ram.Inspect(address + 1)
	return binary.LittleEndian.Uint16(buf[:])
}

func (b *Bus) ReadWord(address uint32) uint32 {
	pageNum, offset := b.ram.getPageAndOffset(PhysicalAddress(address))
	if offset <= PageSize-4 {
		page := b.ram.getPage(pageNum)
		if page == nil {
			return 0
		}
		return binary.LittleEndian.Uint32(page[offset:])
	}
	return binary.LittleEndian.Uint32(b.ram.InspectRange(address, 4))
}

func (b *Bus) WriteByte(address uint32, value uint8) {
	b.ram.Mutate(address, value)
}

func (b *Bus) WriteHalfWord(address uint32, value uint16) {
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], value)
	b.ram.MutateRange(address, buf[:])
}

func (b *Bus) WriteWord(address uint32, value uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], value)
	b.ram.MutateRange(address, buf[:])
}

// LoadProgram writes little-endian instruction words starting at address.
func (b *Bus) LoadProgram(address uint32, words []uint32) {
	for i, w := range words {
		b.WriteWord(address+uint32(i*4), w)
	}
}
