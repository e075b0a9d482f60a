package memo

import "sync/atomic"

// ForceSwitch forces every decision to "recompute" while enabled.
//
// One switch is usually shared by all Cachers of a program run ("bypass the
// cache this time"). Toggling it is visible to other goroutines soon, with no
// stronger ordering: a call already past its decision is not affected.
type ForceSwitch struct {
	on atomic.Bool
}

// NewForceSwitch returns a disabled switch.
func NewForceSwitch() *ForceSwitch {
	return &ForceSwitch{}
}

// Enable turns forced recomputation on.
func (f *ForceSwitch) Enable() { f.on.Store(true) }

// Disable turns forced recomputation off.
func (f *ForceSwitch) Disable() { f.on.Store(false) }

// Set sets the switch to on.
func (f *ForceSwitch) Set(on bool) { f.on.Store(on) }

// Enabled reports the current state. A nil switch is never enabled.
func (f *ForceSwitch) Enabled() bool {
	return f != nil && f.on.Load()
}
