// Package replay implements the replay window: a bitset-with-center over
// received protocol message IDs, persisted to NV by the protocol codecs
// that own it. Grounded on nexus_window / nexus_util_window_* in
// nexus_util.c and nexus_keycode_pro.c's Pd/window handling.
package replay

import "github.com/angaza/nexus-keycode/bits"

// DefaultCenter is the window center a freshly provisioned or wiped device
// starts with.
const DefaultCenter uint32 = 23

// BelowCount is the number of IDs tracked below (and including) the
// center; the flag bitset always holds BelowCount+1 bits, fitting in 3
// bytes (24 bits), matching NEXUS_KEYCODE_PRO_MAX_MESSAGE_ID_BYTE.
const BelowCount uint8 = 23

const flagBytes = 3 // ceil((BelowCount+1)/8)

// MarshaledLen is the number of bytes Window.Marshal produces.
const MarshaledLen = 4 + flagBytes

// Window is the persistent `{center, flags_below, flags_above_count}`
// record described by spec.md §3. AboveCount is a build-time constant of
// the deployment, not persisted (every device in a fleet shares it), so it
// is supplied at construction rather than stored in Marshal's output.
type Window struct {
	center     uint32
	aboveCount uint8
	flags      *bits.Bitset
}

// New returns a window at the default center with no flags set. aboveCount
// configures how far beyond center an ID may be accepted.
func New(aboveCount uint8) *Window {
	return &Window{
		center:     DefaultCenter,
		aboveCount: aboveCount,
		flags:      bits.NewBitset(make([]byte, flagBytes)),
	}
}

// Center returns the largest applied message ID.
func (w *Window) Center() uint32 { return w.center }

// Within reports whether id falls inside [center-below, center+above].
func (w *Window) Within(id uint32) bool {
	min := w.center - uint32(BelowCount)
	max := w.center + uint32(w.aboveCount)
	return id >= min && id <= max
}

func (w *Window) localIndex(id uint32) (int, bool) {
	if !w.Within(id) {
		return 0, false
	}
	if w.center >= id {
		return int(BelowCount) - int(w.center-id), true
	}
	return int(BelowCount) + int(id-w.center), true
}

// IsSet reports whether id has previously been marked via Set or
// MaskBelow. IDs outside the window are reported as unset: the device has
// no memory of whether they were ever received.
func (w *Window) IsSet(id uint32) bool {
	idx, ok := w.localIndex(id)
	if !ok {
		return false
	}
	return w.flags.Contains(idx)
}

// ShiftRight moves the window center forward by delta, discarding flags
// that fall out of the lower bound and clearing the bits vacated on the
// high end. A shift larger than BelowCount clears every flag, since no
// previously-tracked ID remains in range.
func (w *Window) ShiftRight(delta uint32) {
	if delta == 0 {
		return
	}
	if delta > uint32(BelowCount) {
		w.flags.Clear()
		w.center += delta
		return
	}

	// Shift in place: bit i takes the old bit i+delta, which has not been
	// overwritten yet because writes only ever go to lower indices.
	for i := 0; i <= int(BelowCount); i++ {
		src := i + int(delta)
		if src <= int(BelowCount) && w.flags.Contains(src) {
			w.flags.Add(i)
		} else {
			w.flags.Remove(i)
		}
	}
	w.center += delta
}

// Set marks id as received, shifting the window right first if id is
// beyond the current center. Returns true if this call changed state
// (callers use this to avoid redundant NV writes).
func (w *Window) Set(id uint32) bool {
	if id > w.center+uint32(w.aboveCount) {
		return false
	}
	if id+uint32(BelowCount) < w.center {
		return false
	}

	if id > w.center {
		w.ShiftRight(id - w.center)
	}

	idx, ok := w.localIndex(id)
	if !ok {
		return false
	}
	if w.flags.Contains(idx) {
		return false
	}
	w.flags.Add(idx)
	return true
}

// MaskBelow marks every ID in [0, id-1] as set, shifting the window right
// first if needed so that center >= id-1. Used by SET_CREDIT and
// WIPE_STATE to invalidate all prior ADD_CREDIT messages. A zero id is a
// no-op (there is nothing below message ID 0 to mask).
func (w *Window) MaskBelow(id uint32) bool {
	if id == 0 {
		return false
	}
	maxToMask := id - 1

	if maxToMask+uint32(BelowCount) < w.center {
		// maxToMask is below the window entirely; nothing to do.
		return false
	}

	changed := false
	if maxToMask > w.center {
		w.ShiftRight(maxToMask - w.center)
		changed = true
	}

	idx, ok := w.localIndex(maxToMask)
	if !ok {
		return changed
	}
	for i := 0; i <= idx; i++ {
		if !w.flags.Contains(i) {
			w.flags.Add(i)
			changed = true
		}
	}
	return changed
}

// Wipe clears every flag and resets the center to its default. Returns
// true if this call changed state.
func (w *Window) Wipe() bool {
	changed := w.center != DefaultCenter
	for i := 0; i < w.flags.Len(); i++ {
		if w.flags.Contains(i) {
			changed = true
			break
		}
	}
	w.center = DefaultCenter
	w.flags.Clear()
	return changed
}

// Marshal serializes center and the flag bitset for NV persistence.
func (w *Window) Marshal() []byte {
	out := make([]byte, MarshaledLen)
	copy(out[0:4], bits.PackUint32LE(w.center))
	copy(out[4:], w.flags.Bytes())
	return out
}

// Unmarshal restores center and flags from a buffer previously produced by
// Marshal. aboveCount is preserved from the receiver (it is configuration,
// not persisted state).
func (w *Window) Unmarshal(buf []byte) {
	if len(buf) != MarshaledLen {
		panic("replay: invalid marshaled window length")
	}
	w.center = uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16 | uint32(buf[3])<<24
	w.flags = bits.NewBitset(append([]byte(nil), buf[4:]...))
}
