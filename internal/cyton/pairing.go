package cyton

// PairState is the state of the Pairer.
type PairState int

const (
	// PairEmpty means no packet is held.
	PairEmpty PairState = iota
	// PairOddFilled means an odd packet is waiting for its even partner.
	PairOddFilled
)

func (s PairState) String() string {
	switch s {
	case PairEmpty:
		return "empty"
	case PairOddFilled:
		return "odd-filled"
	default:
		return "unknown"
	}
}

// Pairer merges an odd-numbered packet and the even-numbered packet that
// follows it into a Reading. Packets that cannot take part in a pair are
// dropped silently; this is how the stream resynchronises after lost or
// reordered frames.
//
// A Pairer is not safe for concurrent use.
type Pairer struct {
	slotOdd   *Packet
	slotEven  *Packet
	discarded uint64
}

// Push feeds one packet and returns a Reading when it completes a pair.
//
// An even packet with no odd packet held is discarded. An odd packet that
// arrives while another odd packet is held replaces it; the older one is
// discarded.
func (p *Pairer) Push(pkt *Packet) (Reading, bool) {
	if pkt == nil {
		return Reading{}, false
	}

	switch {
	case p.slotOdd == nil && pkt.Even():
		p.discarded++
		return Reading{}, false
	case p.slotOdd == nil:
		p.slotOdd = pkt
		return Reading{}, false
	case !pkt.Even():
		p.discarded++
		p.slotOdd = pkt
		return Reading{}, false
	}

	p.slotEven = pkt
	r := NewReading(p.slotOdd, p.slotEven)
	p.slotOdd, p.slotEven = nil, nil
	return r, true
}

// PushAll feeds packets in order and returns every Reading they complete.
func (p *Pairer) PushAll(pkts []*Packet) []Reading {
	var out []Reading
	for _, pkt := range pkts {
		if r, ok := p.Push(pkt); ok {
			out = append(out, r)
		}
	}
	return out
}

// State returns the current pairing state.
func (p *Pairer) State() PairState {
	if p.slotOdd != nil {
		return PairOddFilled
	}
	return PairEmpty
}

// Discarded returns the number of packets dropped so far.
func (p *Pairer) Discarded() uint64 {
	return p.discarded
}

// Reset drops any held packet.
func (p *Pairer) Reset() {
	p.slotOdd, p.slotEven = nil, nil
}
