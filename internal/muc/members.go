package muc

import (
	"fmt"
	"strings"

	"github.com/dalnet/ircmuc/internal/handle"
	"github.com/dalnet/ircmuc/internal/membership"
	"github.com/dalnet/ircmuc/internal/mode"
)

// changeSets runs one batched membership change through the set algebra,
// keeps memberRefs in step with whatever actually moved, and emits
// members-changed exactly when the resulting diff is non-empty.
func (c *Channel) changeSets(
	message string,
	addCurrent, removeCurrent,
	addLocal, removeLocal,
	addRemote, removeRemote []handle.Handle,
	actor handle.Handle, reason membership.Reason,
) membership.Diff {
	diff := c.sets.ChangeSets(addCurrent, removeCurrent, addLocal, removeLocal, addRemote, removeRemote, actor, reason)

	c.trackAdded(diff.Added...)
	c.trackAdded(diff.LocalPending...)
	c.trackAdded(diff.RemotePending...)
	c.untrackRemoved(diff.Removed...)

	if !diff.Empty() {
		c.sink.MembersChanged(message, diff.Added, diff.Removed, diff.LocalPending, diff.RemotePending, diff.Actor, diff.Reason)
	}
	return diff
}

// trackAdded takes an owning reference on every handle not already tracked;
// membership sets are disjoint, so a handle moving between sets keeps its
// one reference rather than acquiring a second.
func (c *Channel) trackAdded(hs ...handle.Handle) {
	for _, h := range hs {
		if _, ok := c.memberRefs[h]; !ok {
			c.memberRefs[h] = handle.RefHandle(c.reg, h)
		}
	}
}

// untrackRemoved releases the owning reference for every handle that has
// left all three membership sets.
func (c *Channel) untrackRemoved(hs ...handle.Handle) {
	for _, h := range hs {
		if r, ok := c.memberRefs[h]; ok {
			r.Release()
			delete(c.memberRefs, h)
		}
	}
}

// Join ingests a server JOIN for who. A self-join advances the lifecycle
// state and fires join-ready; any other join is a plain membership add.
func (c *Channel) Join(who handle.Handle) {
	c.changeSets("", []handle.Handle{who}, nil, nil, nil, nil, nil, who, membership.ReasonNone)
	if who == c.SelfHandle() {
		c.onSelfJoined()
	}
}

// onSelfJoined runs once, the moment our own JOIN is confirmed: it settles
// the lifecycle state, resolves any outstanding password continuation,
// applies the synthetic "+"-channel topic-ops-only mode, and fires
// join-ready.
func (c *Channel) onSelfJoined() {
	if c.state == stateJoined {
		return
	}
	c.state = stateJoined
	c.resolvePasswordReply(true)
	c.changePasswordFlags(mode.Provide, false)
	c.conn.Send("MODE", c.name)

	if strings.HasPrefix(c.name, "+") {
		proj := mode.ApplyModeChange(&c.mstate, mode.TopicOpsOnly, 0, 0, false, "", false)
		c.applyModeProjection(proj)
	}

	c.emitJoinReady(JoinErrorNone)
}

// Part ingests a server PART for who. A self-part moves the channel into
// PARTED and latches closed; any other part is a plain membership removal.
func (c *Channel) Part(who handle.Handle, message string) {
	c.changeSets(message, nil, []handle.Handle{who}, nil, nil, nil, nil, who, membership.ReasonNone)
	if who == c.SelfHandle() {
		c.state = stateParted
		c.emitClosed()
	}
}

// Kick ingests a server KICK of victim by actor. A self-kick moves the
// channel into PARTED and latches closed, same as a self-part.
func (c *Channel) Kick(victim, actor handle.Handle, message string) {
	c.changeSets(message, nil, []handle.Handle{victim}, nil, nil, nil, nil, actor, membership.ReasonKicked)
	if victim == c.SelfHandle() {
		c.state = stateParted
		c.emitClosed()
	}
}

// Quit ingests a server QUIT for who, removing them from whichever set
// they were in. The local user never observes its own quit this way.
func (c *Channel) Quit(who handle.Handle, message string) {
	c.changeSets(message, nil, []handle.Handle{who}, nil, []handle.Handle{who}, nil, []handle.Handle{who}, who, membership.ReasonNone)
}

// Invited ingests an inbound INVITE naming the local user, placing self
// into local-pending with the inviter recorded as actor.
func (c *Channel) Invited(inviter handle.Handle) {
	c.changeSets("", nil, nil, []handle.Handle{c.SelfHandle()}, nil, nil, nil, inviter, membership.ReasonInvited)
}

// Rename ingests a nick change for oldHandle, moving whichever membership
// set holds it onto the newly interned handle for newNick, and returns
// that new handle. If oldHandle was our own, the channel's self-reference
// moves with it.
func (c *Channel) Rename(oldHandle handle.Handle, newNick string) handle.Handle {
	newRef := handle.NewRef(c.reg, handle.KindContact, newNick)
	newHandle := newRef.Handle()
	wasSelf := oldHandle == c.SelfHandle()

	var addCurrent, removeCurrent, addLocal, removeLocal, addRemote, removeRemote []handle.Handle
	switch {
	case c.sets.InCurrent(oldHandle):
		addCurrent, removeCurrent = []handle.Handle{newHandle}, []handle.Handle{oldHandle}
	case c.sets.InLocalPending(oldHandle):
		addLocal, removeLocal = []handle.Handle{newHandle}, []handle.Handle{oldHandle}
	case c.sets.InRemotePending(oldHandle):
		addRemote, removeRemote = []handle.Handle{newHandle}, []handle.Handle{oldHandle}
	}
	c.changeSets("", addCurrent, removeCurrent, addLocal, removeLocal, addRemote, removeRemote, oldHandle, membership.ReasonNone)

	if wasSelf {
		c.selfRef.Release()
		c.selfRef = newRef
	} else {
		newRef.Release()
	}
	return newHandle
}

// NamesEntry is one row of a NAMES reply: the resolved handle and its
// sigil byte (0 if the nick carried no privilege prefix).
type NamesEntry struct {
	Handle handle.Handle
	Sigil  byte
}

// Names ingests a full NAMES batch, adding every listed handle to the
// current-members set in one change, then — for the local user's own
// entry only — projecting the reported sigil onto mode state. Per spec,
// NAMES sigils drive privilege tracking only for self; other members'
// privilege letters are observed later via live MODE traffic.
func (c *Channel) Names(entries []NamesEntry) {
	handles := make([]handle.Handle, 0, len(entries))
	for _, e := range entries {
		handles = append(handles, e.Handle)
	}
	c.changeSets("", handles, nil, nil, nil, nil, nil, 0, membership.ReasonNone)

	for _, e := range entries {
		if e.Handle != c.SelfHandle() || e.Sigil == 0 {
			continue
		}
		if flag, ok := sigilFlag(e.Sigil); ok {
			var remove mode.Flag
			if priv := mode.Operator | mode.Halfop | mode.Voice; flag&priv != 0 {
				remove = priv &^ flag
			}
			proj := mode.ApplyModeChange(&c.mstate, flag, remove, 0, false, "", false)
			c.applyModeProjection(proj)
		}
	}
}

func sigilFlag(sigil byte) (mode.Flag, bool) {
	switch sigil {
	case '@':
		return mode.Operator, true
	case '%':
		return mode.Halfop, true
	case '+':
		return mode.Voice, true
	case '&', '~':
		return mode.Creator, true
	default:
		return 0, false
	}
}

// SetJoinKey pre-seeds the channel key to present on our own JOIN, for a
// channel known in advance to require one (e.g. from a configuration file).
// It only has effect before the self-join is sent.
func (c *Channel) SetJoinKey(key string) {
	if c.state == stateCreated {
		c.mstate.Key = key
	}
}

// AddMembers requests that members join this channel. Including the local
// user's own handle (re)sends our own JOIN — allowed from CREATED or
// PARTED only, per the join/part lifecycle table — using the cached key,
// if any, from a prior ProvidePassword or pre-seeded mode state. Any other
// handle must not already be current or remote-pending; it is placed into
// remote-pending (actor=self, reason=INVITED) and sent an INVITE.
func (c *Channel) AddMembers(members []handle.Handle, message string) error {
	for _, h := range members {
		if h == c.SelfHandle() {
			if c.state != stateCreated && c.state != stateParted {
				return fmt.Errorf("%w: self is already joining or joined", ErrNotAvailable)
			}
			if c.state == stateParted {
				c.joinReady = false
				c.closed = false
			}
			c.state = stateJoining
			c.changeSets("", nil, nil, nil, nil, []handle.Handle{h}, nil, h, membership.ReasonNone)
			if c.mstate.Key != "" {
				c.conn.Send("JOIN", c.name, c.mstate.Key)
			} else {
				c.conn.Send("JOIN", c.name)
			}
			continue
		}
		if c.sets.InCurrent(h) || c.sets.InRemotePending(h) {
			return fmt.Errorf("%w: handle is already a member or invite-pending", ErrNotAvailable)
		}
		name, ok := c.reg.NameOf(h)
		if !ok {
			return fmt.Errorf("%w: %v", ErrInvalidHandle, h)
		}
		c.changeSets("", nil, nil, nil, nil, []handle.Handle{h}, nil, c.SelfHandle(), membership.ReasonInvited)
		c.conn.Send("INVITE", name, c.name)
	}
	return nil
}

// RemoveMembers requests that members leave this channel. Including the
// local user's own handle parts (or, if not yet joined, simply closes);
// any other handle must be a current member and is kicked.
func (c *Channel) RemoveMembers(members []handle.Handle, message string) error {
	for _, h := range members {
		if h == c.SelfHandle() {
			c.partSelf(message)
			continue
		}
		if !c.sets.InCurrent(h) {
			return fmt.Errorf("%w: handle is not a current member", ErrNotAvailable)
		}
		name, ok := c.reg.NameOf(h)
		if !ok {
			return fmt.Errorf("%w: %v", ErrInvalidHandle, h)
		}
		if message != "" {
			c.conn.Send("KICK", c.name, name, message)
		} else {
			c.conn.Send("KICK", c.name, name)
		}
	}
	return nil
}

// partSelf sends PART if we're joined, otherwise closes immediately since
// there is no joined channel on the wire to leave.
func (c *Channel) partSelf(message string) {
	if c.state == stateJoined {
		if message != "" {
			c.conn.Send("PART", c.name, message)
		} else {
			c.conn.Send("PART", c.name)
		}
		return
	}
	c.emitClosed()
}

// Close requests that the channel be torn down, per partSelf's rules.
func (c *Channel) Close() error {
	c.partSelf("")
	return nil
}

// GetHandleOwners returns the "owning" handle for each of handles. IRC has
// no cross-protocol identity layer, so every handle owns itself.
func (c *Channel) GetHandleOwners(handles []handle.Handle) []handle.Handle {
	return append([]handle.Handle(nil), handles...)
}
