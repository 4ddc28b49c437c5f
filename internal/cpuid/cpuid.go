// Package cpuid builds the CPU-identification table presented to a guest.
//
// A guest's CPUID identity must be deterministic: two profile entries landing
// on the same (leaf, subleaf) key would make the visible identity depend on
// insertion order, so the set refuses to overwrite and synthesis treats any
// collision as a fatal configuration error.
package cpuid

import "fmt"

// Vendor identifies the CPU vendor a profile emulates.
type Vendor string

const (
	VendorAMD   Vendor = "amd"
	VendorIntel Vendor = "intel"
)

// ParseVendor parses a vendor tag from configuration.
func ParseVendor(s string) (Vendor, error) {
	switch Vendor(s) {
	case VendorAMD:
		return VendorAMD, nil
	case VendorIntel:
		return VendorIntel, nil
	default:
		return "", fmt.Errorf("unknown cpuid vendor %q (must be amd or intel)", s)
	}
}

// Ident addresses a specific CPUID register group.
type Ident struct {
	Leaf    uint32
	Subleaf uint32
}

// Values holds the four register values returned for one Ident.
type Values struct {
	Eax uint32
	Ebx uint32
	Ecx uint32
	Edx uint32
}

// Entry is one declared profile row: an Ident plus its register values.
type Entry struct {
	Leaf    uint32 `toml:"leaf"`
	Subleaf uint32 `toml:"subleaf"`
	Eax     uint32 `toml:"eax"`
	Ebx     uint32 `toml:"ebx"`
	Ecx     uint32 `toml:"ecx"`
	Edx     uint32 `toml:"edx"`
}

// Set is a vendor-tagged mapping from Ident to register values. Keys are
// unique by construction: Insert reports an existing value rather than
// overwriting it.
type Set struct {
	vendor  Vendor
	entries map[Ident]Values
}

// NewSet creates an empty Set for the given vendor.
func NewSet(vendor Vendor) *Set {
	return &Set{
		vendor:  vendor,
		entries: make(map[Ident]Values),
	}
}

// Vendor returns the vendor tag the set was created with.
func (s *Set) Vendor() Vendor {
	return s.vendor
}

// Insert adds a mapping for id. If a value already exists at that key, the
// existing value is returned and the set is left unchanged.
func (s *Set) Insert(id Ident, v Values) (existing *Values) {
	if prev, ok := s.entries[id]; ok {
		return &prev
	}
	s.entries[id] = v
	return nil
}

// Get looks up the values for id.
func (s *Set) Get(id Ident) (Values, bool) {
	v, ok := s.entries[id]
	return v, ok
}

// Len returns the number of entries in the set.
func (s *Set) Len() int {
	return len(s.entries)
}

// SetFromEntries builds a Set from a profile's declared entries, in order.
// Any entry colliding with an earlier one on (leaf, subleaf) fails the whole
// synthesis, naming the offending key.
func SetFromEntries(vendor Vendor, entries []Entry) (*Set, error) {
	set := NewSet(vendor)
	for _, e := range entries {
		id := Ident{Leaf: e.Leaf, Subleaf: e.Subleaf}
		v := Values{Eax: e.Eax, Ebx: e.Ebx, Ecx: e.Ecx, Edx: e.Edx}
		if existing := set.Insert(id, v); existing != nil {
			return nil, fmt.Errorf(
				"conflicting cpuid entry at leaf %#x subleaf %#x", e.Leaf, e.Subleaf)
		}
	}
	return set, nil
}
