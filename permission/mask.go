package permission

// Mask is a 64-bit permission set. Bit 63 is the root bit when the
// registry reserves it; a root mask passes every Has check.
type Mask uint64

func (m Mask) Has(bit int, rootReserved bool) bool {
	if bit < 0 || bit >= 64 {
		return false
	}
	if rootReserved && m&(1<<63) != 0 {
		return true
	}
	return m&(1<<uint(bit)) != 0
}

func (m *Mask) Set(bit int) {
	if bit < 0 || bit >= 64 {
		return
	}
	*m |= 1 << uint(bit)
}

func (m *Mask) Clear(bit int) {
	if bit < 0 || bit >= 64 {
		return
	}
	*m &^= 1 << uint(bit)
}

// Union returns the combined permission set.
func (m Mask) Union(other Mask) Mask {
	return m | other
}

func (m Mask) Raw() uint64 {
	return uint64(m)
}
