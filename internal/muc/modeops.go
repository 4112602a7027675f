package muc

import (
	"fmt"

	"github.com/dalnet/ircmuc/internal/handle"
	"github.com/dalnet/ircmuc/internal/mode"
	"github.com/dalnet/ircmuc/internal/property"
)

// emitPropertyChanges applies changes to the bag and emits
// properties-changed for whatever subset actually moved, followed by one
// property-flags-changed carrying the flags of those same properties (now
// READ); a no-op batch emits nothing.
func (c *Channel) emitPropertyChanges(changes []property.Change) {
	if len(changes) == 0 {
		return
	}
	changed, readFlagged := c.bag.ChangeProperties(changes)
	if len(changed) > 0 {
		c.sink.PropertiesChanged(changed)
	}
	if len(readFlagged) > 0 {
		infos := c.bag.ListProperties()
		fc := make([]property.FlagChange, 0, len(readFlagged))
		for _, id := range readFlagged {
			fc = append(fc, property.FlagChange{ID: id, Flags: infos[id].Flags})
		}
		c.sink.PropertyFlagsChanged(fc)
	}
}

// Mode ingests a server MODE line's argument string (everything after the
// channel name), projecting it onto mode state, the property bag, and
// group flags.
func (c *Channel) Mode(argStr string) {
	selfNick, _ := c.reg.NameOf(c.SelfHandle())
	parsed, ok := mode.ParseModeArgs(argStr, selfNick)
	if !ok {
		c.logger.Printf("muc: unparseable MODE args for %s: %q", c.name, argStr)
		return
	}

	add := parsed.Add | parsed.SelfPrivAdd
	remove := parsed.Remove | parsed.SelfPrivRemove
	proj := mode.ApplyModeChange(&c.mstate, add, remove, parsed.Limit, parsed.HasLimit, parsed.Key, parsed.HasKey)
	c.applyModeProjection(proj)

	if fc := c.bag.SetPropertyFlags(mode.MirroredBoolIDs(), property.FlagRead, 0); len(fc) > 0 {
		c.sink.PropertyFlagsChanged(fc)
	}
}

// Topic ingests a bare TOPIC line carrying only the new text.
func (c *Channel) Topic(text string) {
	c.emitPropertyChanges(mode.ApplyTopic(&c.mstate, text, true, 0, false, 0, false))
}

// TopicFull ingests the numeric reply that carries text, setter, and
// timestamp together (e.g. following a fresh join).
func (c *Channel) TopicFull(text string, setter handle.Handle, at int64) {
	c.emitPropertyChanges(mode.ApplyTopic(&c.mstate, text, true, uint32(setter), true, at, true))
}

// TopicTouch ingests the numeric reply that carries only setter and
// timestamp, the text having already arrived separately.
func (c *Channel) TopicTouch(setter handle.Handle, at int64) {
	c.emitPropertyChanges(mode.ApplyTopic(&c.mstate, "", false, uint32(setter), true, at, true))
}

// TopicUnset ingests an explicit "no topic is set" reply, clearing the
// subject property.
func (c *Channel) TopicUnset() {
	c.emitPropertyChanges(mode.ApplyTopic(&c.mstate, "", true, 0, false, 0, false))
}

// BadChannelKey ingests a failed keyed-join attempt: the channel moves
// into NEED_PASSWORD, the password continuation (if any) is resolved as
// failed, and the Provide capability is asserted.
func (c *Channel) BadChannelKey() {
	c.state = stateNeedPassword
	c.resolvePasswordReply(false)
	c.changePasswordFlags(mode.Provide, true)
}

// JoinError ingests a terminal join failure (ban, invite-only, full) and
// resolves join-ready with it.
func (c *Channel) JoinError(kind JoinError) {
	c.emitJoinReady(kind)
}

// ProvidePassword submits key in response to an outstanding NEED_PASSWORD
// challenge. It fails immediately with ErrNotAvailable if no challenge is
// outstanding or one is already being checked; otherwise it sends a keyed
// JOIN and resolves reply once the server accepts or rejects it.
func (c *Channel) ProvidePassword(key string, reply PasswordReply) error {
	if c.state != stateNeedPassword {
		return fmt.Errorf("%w: no password challenge outstanding", ErrNotAvailable)
	}
	if c.passwordReply != nil {
		return fmt.Errorf("%w: a password is already being checked", ErrNotAvailable)
	}
	c.passwordReply = reply
	c.mstate.Key = key
	c.state = stateJoining
	c.conn.Send("JOIN", c.name, key)
	return nil
}

// resolvePasswordReply invokes and clears the outstanding password
// continuation, if any.
func (c *Channel) resolvePasswordReply(ok bool) {
	if c.passwordReply == nil {
		return
	}
	reply := c.passwordReply
	c.passwordReply = nil
	reply(ok)
}

// SetProperties validates and applies a client-requested property change,
// translating whatever actually differs into outbound MODE/TOPIC commands.
// The bag itself is updated later, when the server echoes the change back
// through Mode/Topic ingestion — SetProperties never mutates state
// directly.
func (c *Channel) SetProperties(changes []property.Change) error {
	out, err := c.bag.SetProperties(changes)
	if err != nil {
		return err
	}
	if len(out) == 0 {
		return nil
	}

	current := mode.CurrentBooleans{
		Limited:          c.bag.Value(property.Limited).Bool(),
		PasswordRequired: c.bag.Value(property.PasswordRequired).Bool(),
	}
	egress := make([]mode.EgressChange, len(out))
	for i, ch := range out {
		egress[i] = mode.EgressChange{ID: ch.ID, Value: ch.Value}
	}

	for _, cmd := range mode.TranslateEgress(egress, current) {
		c.conn.Send(cmd.Verb, append([]string{c.name}, cmd.Args...)...)
	}
	return nil
}

// GetProperties returns the current values of ids, per the bag's READ
// rules.
func (c *Channel) GetProperties(ids []property.ID) ([]property.Change, error) {
	return c.bag.GetProperties(ids)
}

// ListProperties returns every property's id, name, type, and flags.
func (c *Channel) ListProperties() []property.Info {
	return c.bag.ListProperties()
}
