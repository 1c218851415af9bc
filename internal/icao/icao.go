// Package icao maps 24 bit aircraft addresses to the allocation blocks
// ICAO has assigned to states.
package icao

import (
	"fmt"
	"sort"
	"strconv"
)

// Block is an inclusive range of addresses allocated to one state
type Block struct {
	Start   uint32
	End     uint32
	Country string
}

// Lookup returns the allocation block containing the address
func Lookup(address uint32) (Block, bool) {
	i := sort.Search(len(allocations), func(i int) bool {
		return allocations[i].End >= address
	})
	if i < len(allocations) && allocations[i].Start <= address {
		return allocations[i], true
	}
	return Block{}, false
}

// IsAllocated reports whether the address falls inside a known allocation
func IsAllocated(address uint32) bool {
	_, ok := Lookup(address)
	return ok
}

// Parse converts a six digit hex address
func Parse(s string) (uint32, error) {
	if len(s) != 6 {
		return 0, fmt.Errorf("invalid ICAO address %q", s)
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid ICAO address %q: %w", s, err)
	}
	return uint32(v), nil
}

// Format renders an address the way feeds present it
func Format(address uint32) string {
	return fmt.Sprintf("%06X", address&0xFFFFFF)
}
