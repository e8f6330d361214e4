package view

import "sync"

// Frame keeps the last instruction applied to one view, for engines that
// pull their state (HTTP polling) rather than receive pushes.
type Frame struct {
	mu      sync.RWMutex
	latest  Instruction
	applied uint64
}

// Apply stores ins as the instruction the view should currently show.
func (f *Frame) Apply(ins Instruction) {
	f.mu.Lock()
	f.latest = ins
	f.applied++
	f.mu.Unlock()
}

// Latest returns the current instruction and how many instructions have
// been applied so far.
func (f *Frame) Latest() (Instruction, uint64) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.latest, f.applied
}
