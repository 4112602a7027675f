// Package ircconn wires the muc channel state machine to a live IRC
// connection: it owns the ergochat/irc-go ircevent.Connection, resolves
// nicks to handles, and dispatches inbound traffic into the right
// muc.Channel.
package ircconn

import (
	"crypto/tls"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"

	"github.com/dalnet/ircmuc/internal/handle"
	"github.com/dalnet/ircmuc/internal/muc"
	"github.com/ergochat/irc-go/ircevent"
	"github.com/ergochat/irc-go/ircmsg"
)

// Settings bundles the connection parameters for one IRC network.
type Settings struct {
	Server             string
	Port               int
	Nick               string
	Alternate          string
	NickPass           string
	User               string
	RealName           string
	Password           string
	UseTLS             bool
	InsecureSkipVerify bool
	MaxMsgLen          int
	OperNick           string
	OperPass           string
}

// SinkFactory builds the EventSink a newly created channel should report
// through; callers typically close over a UI/bot layer keyed by channel
// name.
type SinkFactory func(channelName string) muc.EventSink

// Manager owns the wire connection, the handle registry, and every
// Channel the local user currently participates in.
type Manager struct {
	conn      *ircevent.Connection
	reg       *handle.Registry
	logger    *log.Logger
	sinks     SinkFactory
	maxMsgLen int
	settings  Settings

	mu       sync.Mutex
	channels map[string]*muc.Channel
	namesBuf map[string][]muc.NamesEntry
}

// NewManager constructs a Manager and registers all its callbacks. Connect
// and Loop must still be called to actually run the connection.
func NewManager(settings Settings, reg *handle.Registry, logger *log.Logger, sinks SinkFactory) *Manager {
	if logger == nil {
		logger = log.Default()
	}
	conn := &ircevent.Connection{
		Server:      fmt.Sprintf("%s:%d", settings.Server, settings.Port),
		Nick:        settings.Nick,
		User:        settings.User,
		RealName:    settings.RealName,
		Password:    settings.Password,
		QuitMessage: "",
		UseTLS:      settings.UseTLS,
		TLSConfig:   &tls.Config{InsecureSkipVerify: settings.InsecureSkipVerify},
	}

	m := &Manager{
		conn:      conn,
		reg:       reg,
		logger:    logger,
		sinks:     sinks,
		maxMsgLen: settings.MaxMsgLen,
		settings:  settings,
		channels:  make(map[string]*muc.Channel),
		namesBuf:  make(map[string][]muc.NamesEntry),
	}
	m.registerCallbacks()
	return m
}

// Connect dials the network.
func (m *Manager) Connect() error { return m.conn.Connect() }

// Loop runs the blocking read loop; call it after Connect.
func (m *Manager) Loop() { m.conn.Loop() }

// Quit sends a QUIT with message and closes the connection.
func (m *Manager) Quit(message string) {
	m.conn.QuitMessage = message
	m.conn.Quit()
}

// Registry returns the shared handle registry.
func (m *Manager) Registry() *handle.Registry { return m.reg }

// Send implements muc.Connection by forwarding directly to the wire
// connection; ircevent takes care of trailing-parameter framing.
func (m *Manager) Send(command string, params ...string) {
	m.conn.Send(append([]string{command}, params...)...)
}

// JoinChannel creates (if needed) and begins joining channelName, returning
// its Channel.
func (m *Manager) JoinChannel(channelName, key string) *muc.Channel {
	ch := m.channel(channelName)
	if key != "" {
		ch.SetJoinKey(key)
	}
	self := m.reg.Ref(handle.KindContact, m.conn.CurrentNick())
	defer m.reg.Release(self)
	ch.AddMembers([]handle.Handle{self}, "")
	return ch
}

// Channel returns the Channel for name, if one has been created.
func (m *Manager) Channel(name string) (*muc.Channel, bool) {
	return m.existing(name)
}

func (m *Manager) channel(name string) *muc.Channel {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.channels[name]
	if ok {
		return ch
	}
	ch = muc.New(muc.Config{
		Registry:  m.reg,
		Conn:      m,
		Sink:      m.sinks(name),
		Logger:    m.logger,
		MaxMsgLen: m.maxMsgLen,
	}, name, m.conn.CurrentNick())
	m.channels[name] = ch
	return ch
}

func (m *Manager) existing(name string) (*muc.Channel, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.channels[name]
	return ch, ok
}

func (m *Manager) allChannels() []*muc.Channel {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*muc.Channel, 0, len(m.channels))
	for _, ch := range m.channels {
		out = append(out, ch)
	}
	return out
}

func (m *Manager) registerCallbacks() {
	m.conn.AddCallback("376", m.onConnect) // RPL_ENDOFMOTD
	m.conn.AddCallback("422", m.onConnect) // ERR_NOMOTD is also "connected"
	m.conn.AddCallback("433", m.onNickInUse)
	m.conn.AddCallback("JOIN", m.onJoin)
	m.conn.AddCallback("PART", m.onPart)
	m.conn.AddCallback("KICK", m.onKick)
	m.conn.AddCallback("QUIT", m.onQuit)
	m.conn.AddCallback("NICK", m.onNick)
	m.conn.AddCallback("MODE", m.onMode)
	m.conn.AddCallback("TOPIC", m.onTopic)
	m.conn.AddCallback("PRIVMSG", m.onPrivmsg)
	m.conn.AddCallback("NOTICE", m.onNotice)
	m.conn.AddCallback("INVITE", m.onInvite)
	m.conn.AddCallback("353", m.onNamesReply)
	m.conn.AddCallback("366", m.onNamesEnd)
	m.conn.AddCallback("332", m.onTopicReply)
	m.conn.AddCallback("331", m.onNoTopicReply)
	m.conn.AddCallback("333", m.onTopicWhoTime)
	m.conn.AddCallback("475", m.onBadChannelKey)
	m.conn.AddCallback("471", m.onChannelFull)
	m.conn.AddCallback("473", m.onInviteOnly)
	m.conn.AddCallback("474", m.onBanned)
}

// onConnect fires once registration completes: it identifies to NickServ
// and OPERs up if credentials were configured, mirroring client.go's
// post-registration sequence.
func (m *Manager) onConnect(e ircmsg.Message) {
	if m.settings.NickPass != "" {
		m.conn.Privmsg("NickServ", fmt.Sprintf("IDENTIFY %s %s", m.settings.Nick, m.settings.NickPass))
	}
	if m.settings.OperNick != "" && m.settings.OperPass != "" {
		m.conn.SendRaw(fmt.Sprintf("OPER %s %s", m.settings.OperNick, m.settings.OperPass))
	}
}

// onNickInUse falls back to the configured alternate nick, the way
// client.go's onNickInUse does.
func (m *Manager) onNickInUse(e ircmsg.Message) {
	if m.settings.Alternate == "" || m.conn.CurrentNick() == m.settings.Alternate {
		return
	}
	m.logger.Printf("nick in use, switching to alternate: %s", m.settings.Alternate)
	m.conn.SetNick(m.settings.Alternate)
}

func (m *Manager) withRef(nick string, use func(handle.Handle)) {
	h := m.reg.Ref(handle.KindContact, nick)
	defer m.reg.Release(h)
	use(h)
}

func (m *Manager) onJoin(e ircmsg.Message) {
	if len(e.Params) < 1 {
		return
	}
	chanName := e.Params[0]
	m.withRef(e.Nick(), func(h handle.Handle) {
		m.channel(chanName).Join(h)
	})
}

func (m *Manager) onPart(e ircmsg.Message) {
	if len(e.Params) < 1 {
		return
	}
	chanName := e.Params[0]
	msg := ""
	if len(e.Params) > 1 {
		msg = e.Params[1]
	}
	ch, ok := m.existing(chanName)
	if !ok {
		return
	}
	m.withRef(e.Nick(), func(h handle.Handle) { ch.Part(h, msg) })
}

func (m *Manager) onKick(e ircmsg.Message) {
	if len(e.Params) < 2 {
		return
	}
	chanName := e.Params[0]
	victimNick := e.Params[1]
	msg := ""
	if len(e.Params) > 2 {
		msg = e.Params[2]
	}
	ch, ok := m.existing(chanName)
	if !ok {
		return
	}
	m.withRef(victimNick, func(victim handle.Handle) {
		m.withRef(e.Nick(), func(actor handle.Handle) {
			ch.Kick(victim, actor, msg)
		})
	})
}

func (m *Manager) onQuit(e ircmsg.Message) {
	msg := ""
	if len(e.Params) > 0 {
		msg = e.Params[0]
	}
	m.withRef(e.Nick(), func(h handle.Handle) {
		for _, ch := range m.allChannels() {
			ch.Quit(h, msg)
		}
	})
}

func (m *Manager) onNick(e ircmsg.Message) {
	if len(e.Params) < 1 {
		return
	}
	newNick := e.Params[0]
	m.withRef(e.Nick(), func(old handle.Handle) {
		for _, ch := range m.allChannels() {
			ch.Rename(old, newNick)
		}
	})
}

func (m *Manager) onMode(e ircmsg.Message) {
	if len(e.Params) < 2 || !isChannelName(e.Params[0]) {
		return
	}
	ch, ok := m.existing(e.Params[0])
	if !ok {
		return
	}
	ch.Mode(strings.Join(e.Params[1:], " "))
}

func (m *Manager) onTopic(e ircmsg.Message) {
	if len(e.Params) < 2 {
		return
	}
	if ch, ok := m.existing(e.Params[0]); ok {
		ch.Topic(e.Params[1])
	}
}

func (m *Manager) onTopicReply(e ircmsg.Message) {
	if len(e.Params) < 3 {
		return
	}
	if ch, ok := m.existing(e.Params[1]); ok {
		ch.Topic(e.Params[2])
	}
}

func (m *Manager) onNoTopicReply(e ircmsg.Message) {
	if len(e.Params) < 2 {
		return
	}
	if ch, ok := m.existing(e.Params[1]); ok {
		ch.TopicUnset()
	}
}

func (m *Manager) onTopicWhoTime(e ircmsg.Message) {
	if len(e.Params) < 4 {
		return
	}
	ch, ok := m.existing(e.Params[1])
	if !ok {
		return
	}
	at, _ := strconv.ParseInt(e.Params[3], 10, 64)
	m.withRef(e.Params[2], func(setter handle.Handle) {
		ch.TopicTouch(setter, at)
	})
}

func (m *Manager) onNamesReply(e ircmsg.Message) {
	if len(e.Params) < 4 {
		return
	}
	chanName := e.Params[2]
	for _, token := range strings.Fields(e.Params[3]) {
		sigil, nick := splitSigil(token)
		h := m.reg.Ref(handle.KindContact, nick)
		m.mu.Lock()
		m.namesBuf[chanName] = append(m.namesBuf[chanName], muc.NamesEntry{Handle: h, Sigil: sigil})
		m.mu.Unlock()
	}
}

func (m *Manager) onNamesEnd(e ircmsg.Message) {
	if len(e.Params) < 2 {
		return
	}
	chanName := e.Params[1]
	m.mu.Lock()
	entries := m.namesBuf[chanName]
	delete(m.namesBuf, chanName)
	m.mu.Unlock()
	if entries == nil {
		return
	}
	if ch, ok := m.existing(chanName); ok {
		ch.Names(entries)
	}
	for _, en := range entries {
		m.reg.Release(en.Handle)
	}
}

func (m *Manager) onPrivmsg(e ircmsg.Message) { m.dispatchText(e, false) }
func (m *Manager) onNotice(e ircmsg.Message)  { m.dispatchText(e, true) }

func (m *Manager) dispatchText(e ircmsg.Message, notice bool) {
	if len(e.Params) < 2 || !isChannelName(e.Params[0]) {
		return
	}
	ch, ok := m.existing(e.Params[0])
	if !ok {
		return
	}
	m.withRef(e.Nick(), func(h handle.Handle) {
		ch.Receive(h, e.Params[1], notice)
	})
}

func (m *Manager) onInvite(e ircmsg.Message) {
	if len(e.Params) < 2 {
		return
	}
	chanName := e.Params[1]
	m.withRef(e.Nick(), func(inviter handle.Handle) {
		m.channel(chanName).Invited(inviter)
	})
}

func (m *Manager) onBadChannelKey(e ircmsg.Message) {
	if len(e.Params) < 2 {
		return
	}
	if ch, ok := m.existing(e.Params[1]); ok {
		ch.BadChannelKey()
	}
}

func (m *Manager) onChannelFull(e ircmsg.Message) { m.failJoin(e, muc.JoinErrorFull) }
func (m *Manager) onInviteOnly(e ircmsg.Message)  { m.failJoin(e, muc.JoinErrorInviteOnly) }
func (m *Manager) onBanned(e ircmsg.Message)       { m.failJoin(e, muc.JoinErrorBanned) }

func (m *Manager) failJoin(e ircmsg.Message, kind muc.JoinError) {
	if len(e.Params) < 2 {
		return
	}
	if ch, ok := m.existing(e.Params[1]); ok {
		ch.JoinError(kind)
	}
}

func splitSigil(token string) (byte, string) {
	if token == "" {
		return 0, token
	}
	switch token[0] {
	case '@', '%', '+', '&', '~':
		return token[0], token[1:]
	default:
		return 0, token
	}
}

func isChannelName(s string) bool {
	return strings.HasPrefix(s, "#") || strings.HasPrefix(s, "&") || strings.HasPrefix(s, "+") || strings.HasPrefix(s, "!")
}
