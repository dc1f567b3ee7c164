// Package boardview parses boardview files into a structured Board.
//
// Three layouts are supported: the BVRAW_FORMAT_3 text listing, the XZZPCB
// binary container, and the BVR-family generic binary (string tables plus an
// index-pair pin table). Format detection is by magic marker only; a file
// whose magic is not recognized fails with ErrBadMagic, and a recognized
// file with a malformed record fails with a ParseError carrying the byte
// offset. Parsing never touches persisted state; committing a Board is the
// truth store's job.
package boardview

import (
	"sort"

	"boardbrain/internal/netname"
)

// Format identifies a recognized boardview layout.
type Format string

const (
	FormatBVRaw3  Format = "BVRAW_FORMAT_3"
	FormatXZZPCB  Format = "XZZPCB"
	FormatBVR     Format = "BVR"
	FormatUnknown Format = ""
)

// NetKind distinguishes power rails from plain signals.
type NetKind string

const (
	KindPowerRail NetKind = "power_rail"
	KindSignal    NetKind = "signal"
)

// PinRef is one (refdes, pin) attachment of a net.
type PinRef struct {
	Refdes string
	Pin    string
	// Order is the discovery index inside the source file; the probe
	// ranker keeps boardview candidates in this order within a class.
	Order int
}

// Net is a named electrical node with its attached pins.
type Net struct {
	Name string
	Kind NetKind
	Refs []PinRef
}

// Component is a physical part identified by refdes.
type Component struct {
	Refdes string
	Kind   string
	Pins   []string
}

// Board is the fully parsed, internally consistent result: every PinRef
// names a declared component and every pin's net is present in Nets.
type Board struct {
	Format     Format
	Nets       map[string]*Net
	Components map[string]*Component
}

func newBoard(f Format) *Board {
	return &Board{
		Format:     f,
		Nets:       make(map[string]*Net),
		Components: make(map[string]*Component),
	}
}

// addPin records a pin attachment, declaring the net and component as
// needed. Net names are canonicalized on the way in.
func (b *Board) addPin(refdes, pin, net string) {
	canon := netname.Canonical(net)
	if canon == "" || refdes == "" {
		return
	}
	n, ok := b.Nets[canon]
	if !ok {
		kind := KindSignal
		if netname.IsPowerRail(canon) {
			kind = KindPowerRail
		}
		n = &Net{Name: canon, Kind: kind}
		b.Nets[canon] = n
	}
	c, ok := b.Components[refdes]
	if !ok {
		c = &Component{Refdes: refdes, Kind: netname.RefdesClass(refdes)}
		b.Components[refdes] = c
	}
	c.Pins = append(c.Pins, pin)
	n.Refs = append(n.Refs, PinRef{Refdes: refdes, Pin: pin, Order: len(n.Refs)})
}

// addComponent declares a component that may have no parsed pins yet.
func (b *Board) addComponent(refdes string) {
	if refdes == "" {
		return
	}
	if _, ok := b.Components[refdes]; !ok {
		b.Components[refdes] = &Component{Refdes: refdes, Kind: netname.RefdesClass(refdes)}
	}
}

// NetNames returns the sorted canonical net names.
func (b *Board) NetNames() []string {
	out := make([]string, 0, len(b.Nets))
	for name := range b.Nets {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// RefdesSet returns the sorted component refdes list.
func (b *Board) RefdesSet() []string {
	out := make([]string, 0, len(b.Components))
	for r := range b.Components {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}
