package protomodel

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

const (
	// DecoupledMass marks a particle as frozen (GeV).
	DecoupledMass = 1e6

	// LSP is the particle id of the lightest supersymmetric particle.
	LSP = 1000022

	// DefaultLSPMass is the LSP mass of a baseline model (GeV).
	DefaultLSPMass = 200.0

	// upperSlotOffset separates the two members of a same-species pair.
	upperSlotOffset = 1000000

	fractionTolerance = 1e-6
)

// DefaultParticles is the particle content used when a configuration does not
// name its own.
var DefaultParticles = []int{
	1000001, 1000005, 2000005, 1000006, 2000006,
	1000011, 1000021, 1000022, 1000023, 1000024,
}

var particleNames = map[int]string{
	1000001: "Xd",
	1000002: "Xu",
	1000005: "Xb1",
	2000005: "Xb2",
	1000006: "Xt1",
	2000006: "Xt2",
	1000011: "Xe",
	1000013: "Xm",
	1000021: "Xg",
	1000022: "XZ1",
	1000023: "XZ2",
	1000024: "XW",
}

// Name returns the short display name of a particle id.
func Name(pid int) string {
	if n, ok := particleNames[pid]; ok {
		return n
	}
	return strconv.Itoa(pid)
}

// IsBSM reports whether pid names a hypothetical (non Standard Model) particle.
func IsBSM(pid int) bool {
	return pid >= upperSlotOffset
}

// SMPartner returns the Standard Model particle emitted alongside the LSP in
// the default decay of pid.
func SMPartner(pid int) int {
	return pid % upperSlotOffset
}

// SameSpeciesPartner returns the other slot of a same-species pair.
// The second return value is false when pid is not a pair member slot.
func SameSpeciesPartner(pid int) (int, bool) {
	switch {
	case pid >= 2*upperSlotOffset && pid < 3*upperSlotOffset:
		return pid - upperSlotOffset, true
	case pid >= upperSlotOffset && pid < 2*upperSlotOffset:
		return pid + upperSlotOffset, true
	}
	return 0, false
}

// Channel is a decay channel: the sorted daughter ids joined by commas.
type Channel string

// NewChannel builds the canonical channel for a set of daughters.
func NewChannel(daughters ...int) Channel {
	ds := append([]int(nil), daughters...)
	sort.Ints(ds)
	parts := make([]string, len(ds))
	for i, d := range ds {
		parts[i] = strconv.Itoa(d)
	}
	return Channel(strings.Join(parts, ","))
}

// Daughters returns the daughter ids of the channel.
func (c Channel) Daughters() []int {
	if c == "" {
		return nil
	}
	parts := strings.Split(string(c), ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		d, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			continue
		}
		out = append(out, d)
	}
	return out
}

// Contains reports whether pid is one of the daughters.
func (c Channel) Contains(pid int) bool {
	for _, d := range c.Daughters() {
		if d == pid {
			return true
		}
	}
	return false
}

// Relabel returns the channel with daughter ids mapped through perm.
func (c Channel) Relabel(perm map[int]int) Channel {
	ds := c.Daughters()
	for i, d := range ds {
		if to, ok := perm[d]; ok {
			ds[i] = to
		}
	}
	return NewChannel(ds...)
}

// DecayTable maps channels to branching fractions. Fractions sum to at most 1,
// the remainder goes to an implicit unlisted channel.
type DecayTable map[Channel]float64

// Total returns the sum of all listed fractions.
func (d DecayTable) Total() float64 {
	total := 0.0
	for _, ch := range d.Channels() {
		total += d[ch]
	}
	return total
}

// Channels returns the channels in sorted order.
func (d DecayTable) Channels() []Channel {
	out := make([]Channel, 0, len(d))
	for ch := range d {
		out = append(out, ch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Clone returns a copy of the table.
func (d DecayTable) Clone() DecayTable {
	if d == nil {
		return nil
	}
	out := make(DecayTable, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// Pair is an ordered pair of particle ids keyed as "a,b" with a <= b.
type Pair string

// NewPair builds the canonical pair key.
func NewPair(a, b int) Pair {
	if b < a {
		a, b = b, a
	}
	return Pair(fmt.Sprintf("%d,%d", a, b))
}

// Particles returns both ids of the pair.
func (p Pair) Particles() (int, int) {
	parts := strings.SplitN(string(p), ",", 2)
	if len(parts) != 2 {
		return 0, 0
	}
	a, _ := strconv.Atoi(strings.TrimSpace(parts[0]))
	b, _ := strconv.Atoi(strings.TrimSpace(parts[1]))
	return a, b
}

// Involves reports whether pid is part of the pair.
func (p Pair) Involves(pid int) bool {
	a, b := p.Particles()
	return a == pid || b == pid
}

// Model is a candidate protomodel.
type Model struct {
	Masses      map[int]float64
	Decays      map[int]DecayTable
	Multipliers map[Pair]float64
	Step        int

	// Z and Combination cache the best score of the model.
	Z           float64
	Combination *Combination
}

// Baseline returns a model with every BSM particle frozen except the LSP.
func Baseline(particles []int) *Model {
	m := &Model{
		Masses:      make(map[int]float64, len(particles)),
		Decays:      make(map[int]DecayTable),
		Multipliers: make(map[Pair]float64),
	}
	for _, pid := range particles {
		m.Masses[pid] = DecoupledMass
	}
	m.Masses[LSP] = DefaultLSPMass
	return m
}

// Clone returns a deep copy.
func (m *Model) Clone() *Model {
	out := &Model{
		Masses:      make(map[int]float64, len(m.Masses)),
		Decays:      make(map[int]DecayTable, len(m.Decays)),
		Multipliers: make(map[Pair]float64, len(m.Multipliers)),
		Step:        m.Step,
		Z:           m.Z,
	}
	for k, v := range m.Masses {
		out.Masses[k] = v
	}
	for k, v := range m.Decays {
		out.Decays[k] = v.Clone()
	}
	for k, v := range m.Multipliers {
		out.Multipliers[k] = v
	}
	if m.Combination != nil {
		c := m.Combination.Clone()
		out.Combination = &c
	}
	return out
}

// Mass returns the mass of pid, DecoupledMass when absent.
func (m *Model) Mass(pid int) float64 {
	if v, ok := m.Masses[pid]; ok {
		return v
	}
	return DecoupledMass
}

// IsFrozen reports whether pid takes no part in any process.
func (m *Model) IsFrozen(pid int) bool {
	return m.Mass(pid) >= DecoupledMass
}

// Particles returns every particle id the model knows about, sorted.
func (m *Model) Particles() []int {
	seen := make(map[int]bool)
	for pid := range m.Masses {
		seen[pid] = true
	}
	for pid := range m.Decays {
		seen[pid] = true
	}
	out := make([]int, 0, len(seen))
	for pid := range seen {
		out = append(out, pid)
	}
	sort.Ints(out)
	return out
}

// ActiveParticles returns the unfrozen particle ids, sorted.
func (m *Model) ActiveParticles() []int {
	var out []int
	for _, pid := range m.Particles() {
		if !m.IsFrozen(pid) {
			out = append(out, pid)
		}
	}
	return out
}

// FrozenParticles returns the frozen particle ids, sorted.
func (m *Model) FrozenParticles() []int {
	var out []int
	for _, pid := range m.Particles() {
		if m.IsFrozen(pid) {
			out = append(out, pid)
		}
	}
	return out
}

// Multiplier returns the production multiplier of a pair, 1 when unset.
func (m *Model) Multiplier(a, b int) float64 {
	if v, ok := m.Multipliers[NewPair(a, b)]; ok {
		return v
	}
	return 1.0
}

// Validate checks the structural invariants of the model.
func (m *Model) Validate() error {
	if m.IsFrozen(LSP) {
		return fmt.Errorf("LSP %d must not be frozen", LSP)
	}
	for _, pid := range m.Particles() {
		mass := m.Mass(pid)
		if mass < 0 || math.IsNaN(mass) {
			return fmt.Errorf("particle %s has invalid mass %v", Name(pid), mass)
		}
	}
	for pid, table := range m.Decays {
		for ch, br := range table {
			if br < 0 || math.IsNaN(br) {
				return fmt.Errorf("particle %s channel %s has invalid fraction %v", Name(pid), ch, br)
			}
		}
		if total := table.Total(); total > 1+fractionTolerance {
			return fmt.Errorf("particle %s fractions sum to %.6f", Name(pid), total)
		}
	}
	for pair, v := range m.Multipliers {
		if v < 0 || math.IsNaN(v) {
			return fmt.Errorf("pair %s has invalid multiplier %v", pair, v)
		}
	}
	return nil
}

// Describe renders the active masses as a short human readable string.
func (m *Model) Describe() string {
	active := m.ActiveParticles()
	parts := make([]string, 0, len(active))
	for _, pid := range active {
		parts = append(parts, fmt.Sprintf("%s:%.0f", Name(pid), m.Mass(pid)))
	}
	return strings.Join(parts, " ")
}
