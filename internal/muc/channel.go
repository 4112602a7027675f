// Package muc implements the IRC multi-user-chat channel state machine:
// membership, mode/property translation, the join/part lifecycle, the
// pending-message queue, and the outbound text-send pipeline, composed
// behind one façade per spec.
package muc

import (
	"log"
	"time"

	"github.com/dalnet/ircmuc/internal/handle"
	"github.com/dalnet/ircmuc/internal/membership"
	"github.com/dalnet/ircmuc/internal/mode"
	"github.com/dalnet/ircmuc/internal/pending"
	"github.com/dalnet/ircmuc/internal/property"
)

// Connection is the outbound line sink a channel sends IRC commands
// through. Implementations own wire framing (trailing-parameter colon
// prefixing, CRLF termination); the channel only ever deals in verb plus
// structured parameters, never a raw line.
type Connection interface {
	Send(command string, params ...string)
}

// EventSink receives every client-facing event a channel emits. Named
// methods replace the original D-Bus signals one for one.
type EventSink interface {
	Closed()
	GroupFlagsChanged(add, remove mode.GroupFlag)
	LostMessage()
	MembersChanged(message string, added, removed, local, remote []handle.Handle, actor handle.Handle, reason membership.Reason)
	PasswordFlagsChanged(add, remove mode.PasswordFlag)
	PropertiesChanged(changes []property.Change)
	PropertyFlagsChanged(changes []property.FlagChange)
	Received(msg pending.Message)
	SendError(kind SendErrorKind, timestamp int64, typ pending.Type, text string)
	Sent(timestamp int64, typ pending.Type, text string)
	JoinReady(err JoinError)
}

// SendErrorKind is the reason a send was signalled as failed.
type SendErrorKind int

const (
	SendErrorPermissionDenied SendErrorKind = iota
)

// JoinError is the one-shot outcome reported by join-ready.
type JoinError int

const (
	JoinErrorNone JoinError = iota
	JoinErrorBanned
	JoinErrorInviteOnly
	JoinErrorFull
)

// lifecycleState is the join/part state machine's current state.
type lifecycleState int

const (
	stateCreated lifecycleState = iota
	stateJoining
	stateNeedPassword
	stateJoined
	stateParted
)

// PasswordReply is invoked exactly once to resolve an outstanding
// ProvidePassword call, once the server accepts or rejects the key.
type PasswordReply func(ok bool)

// Clock returns the current time as epoch seconds; overridable for tests.
type Clock func() int64

// Channel is one instance of the MUC channel state machine, one per IRC
// channel the local user participates in.
type Channel struct {
	reg    *handle.Registry
	conn   Connection
	sink   EventSink
	logger *log.Logger
	now    Clock

	roomRef *handle.Ref
	name    string

	selfRef *handle.Ref

	sets    *membership.Sets
	msgs    *pending.Queue
	bag     *property.Bag
	mstate  mode.State

	groupFlags    mode.GroupFlag
	passwordFlags mode.PasswordFlag

	state         lifecycleState
	passwordReply PasswordReply

	joinReady bool
	closed    bool

	maxMsgLen int

	// memberRefs holds one owning reference per handle currently present in
	// any of the three membership sets, independent of whatever transient
	// reference the caller supplying the handle may hold.
	memberRefs map[handle.Handle]*handle.Ref
}

// Config bundles the collaborators and parameters a Channel needs at
// construction time.
type Config struct {
	Registry  *handle.Registry
	Conn      Connection
	Sink      EventSink
	Logger    *log.Logger
	Now       Clock
	MaxMsgLen int // default 510 if zero
}

// New constructs a Channel for the given channel name and self nick. The
// channel starts in the CREATED state; callers typically follow with
// AddMembers([]handle.Handle{selfHandle}, "") to begin joining, or the
// channel may already be mid-join if it was created in response to an
// inbound invite/JOIN.
func New(cfg Config, channelName, selfNick string) *Channel {
	maxLen := cfg.MaxMsgLen
	if maxLen == 0 {
		maxLen = 510
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}

	ch := &Channel{
		reg:       cfg.Registry,
		conn:      cfg.Conn,
		sink:      cfg.Sink,
		logger:    logger,
		now:       cfg.Now,
		roomRef:   handle.NewRef(cfg.Registry, handle.KindRoom, channelName),
		name:      channelName,
		selfRef:   handle.NewRef(cfg.Registry, handle.KindContact, selfNick),
		sets:       membership.New(),
		msgs:       pending.NewQueue(),
		bag:        property.New(),
		maxMsgLen:  maxLen,
		memberRefs: make(map[handle.Handle]*handle.Ref),
	}
	return ch
}

// RoomHandle returns the handle for this channel's own room/name.
func (c *Channel) RoomHandle() handle.Handle { return c.roomRef.Handle() }

// SelfHandle returns the handle for the local user within this channel.
func (c *Channel) SelfHandle() handle.Handle { return c.selfRef.Handle() }

// Name returns the canonical IRC channel name.
func (c *Channel) Name() string { return c.name }

// GetChannelType returns the text-channel type URI exposed to clients.
func (c *Channel) GetChannelType() string {
	return "org.freedesktop.Telepathy.Channel.Type.Text"
}

// GetGroupFlags returns the current session-bus group capability flags.
func (c *Channel) GetGroupFlags() mode.GroupFlag { return c.groupFlags }

// GetPasswordFlags returns the current password-challenge capability flags.
func (c *Channel) GetPasswordFlags() mode.PasswordFlag { return c.passwordFlags }

// GetHandle returns this channel's own room handle (the "room type + id"
// pair collapses to just the handle; type is implied by the channel kind).
func (c *Channel) GetHandle() handle.Handle { return c.RoomHandle() }

// GetSelfHandle returns the local user's handle.
func (c *Channel) GetSelfHandle() handle.Handle { return c.SelfHandle() }

// GetMembers, GetLocalPendingMembers and GetRemotePendingMembers expose the
// three membership sets.
func (c *Channel) GetMembers() []handle.Handle             { return c.sets.Current() }
func (c *Channel) GetLocalPendingMembers() []handle.Handle { return c.sets.LocalPending() }
func (c *Channel) GetRemotePendingMembers() []handle.Handle {
	return c.sets.RemotePending()
}

// GetAllMembers returns all three sets at once.
func (c *Channel) GetAllMembers() (current, local, remote []handle.Handle) {
	return c.sets.Current(), c.sets.LocalPending(), c.sets.RemotePending()
}

// GetMessageTypes returns the message types this channel can send/receive.
func (c *Channel) GetMessageTypes() []pending.Type {
	return []pending.Type{pending.TypeNormal, pending.TypeAction, pending.TypeNotice}
}

// GetInterfaces lists the session-bus interfaces this channel implements.
func (c *Channel) GetInterfaces() []string {
	return []string{"Group", "Password", "Properties"}
}

// timestamp returns the current epoch time, using the injected Clock if
// present.
func (c *Channel) timestamp() int64 {
	if c.now != nil {
		return c.now()
	}
	return time.Now().Unix()
}

// IsClosed reports whether the channel has already emitted `closed`.
func (c *Channel) IsClosed() bool { return c.closed }

// emitClosed latches and emits `closed` at most once.
func (c *Channel) emitClosed() {
	if c.closed {
		return
	}
	c.closed = true
	c.sink.Closed()
}

// emitJoinReady latches and emits `join-ready` at most once.
func (c *Channel) emitJoinReady(err JoinError) {
	if c.joinReady {
		c.logger.Printf("muc: join-ready already emitted for %s, dropping %v", c.name, err)
		return
	}
	c.joinReady = true
	c.sink.JoinReady(err)
}

// changeGroupFlags applies add/remove and emits group-flags-changed only if
// something actually moved.
func (c *Channel) changeGroupFlags(add, remove mode.GroupFlag) {
	actualAdd := (^c.groupFlags) & add
	actualRemove := c.groupFlags & remove
	c.groupFlags |= add
	c.groupFlags &^= remove
	if actualAdd != 0 || actualRemove != 0 {
		c.sink.GroupFlagsChanged(actualAdd, actualRemove)
	}
}

// changePasswordFlags applies a single flag transition and emits
// password-flags-changed only if it actually moved.
func (c *Channel) changePasswordFlags(flag mode.PasswordFlag, set bool) {
	var add, remove mode.PasswordFlag
	if set {
		add = (^c.passwordFlags) & flag
		c.passwordFlags |= flag
	} else {
		remove = c.passwordFlags & flag
		c.passwordFlags &^= flag
	}
	if add != 0 || remove != 0 {
		c.sink.PasswordFlagsChanged(add, remove)
	}
}

// applyModeProjection pushes a mode.Projection's side effects into the
// property bag and group flags, used by both live MODE ingest and the
// synthetic +t applied to "+"-channels on join.
func (c *Channel) applyModeProjection(proj mode.Projection) {
	c.changeGroupFlags(proj.GroupAdd, proj.GroupRemove)
	if proj.GrantWriteAll {
		if fc := c.bag.SetPropertyFlags(nil, property.FlagWrite, 0); len(fc) > 0 {
			c.sink.PropertyFlagsChanged(fc)
		}
	}
	if proj.RevokeWriteAll {
		if fc := c.bag.SetPropertyFlags(nil, 0, property.FlagWrite); len(fc) > 0 {
			c.sink.PropertyFlagsChanged(fc)
		}
	}
	c.emitPropertyChanges(proj.PropertyChanges)
}
