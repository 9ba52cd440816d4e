// SPDX-License-Identifier: MIT
package sequencer

import (
	"sync/atomic"

	"headset/internal/transport"
)

// Presence holds the headset detection flags. One detector goroutine writes
// them; the sequencer and any number of observers read them.
type Presence struct {
	connected atomic.Bool
	identity  atomic.Bool
}

// NewPresence returns flags with the given initial values.
func NewPresence(connected, identityReadable bool) *Presence {
	p := &Presence{}
	p.connected.Store(connected)
	p.identity.Store(identityReadable)
	return p
}

// HeadsetConnected reports whether a headset is physically plugged in.
func (p *Presence) HeadsetConnected() bool { return p.connected.Load() }

// IdentityReadable reports whether the headset identity memory answers.
func (p *Presence) IdentityReadable() bool { return p.identity.Load() }

// SetHeadsetConnected updates the connection flag.
func (p *Presence) SetHeadsetConnected(v bool) { p.connected.Store(v) }

// SetIdentityReadable updates the identity flag.
func (p *Presence) SetIdentityReadable(v bool) { p.identity.Store(v) }

var _ transport.PresenceProvider = (*Presence)(nil)
