package main

import (
	"log"

	"github.com/dalnet/ircmuc/internal/handle"
	"github.com/dalnet/ircmuc/internal/membership"
	"github.com/dalnet/ircmuc/internal/mode"
	"github.com/dalnet/ircmuc/internal/muc"
	"github.com/dalnet/ircmuc/internal/pending"
	"github.com/dalnet/ircmuc/internal/property"
)

// logSink is the demo program's muc.EventSink: it just logs every event
// through the standard logger, the way the original bot logged connection
// and routing activity.
type logSink struct {
	channel string
	reg     *handle.Registry
}

func (s *logSink) name(h handle.Handle) string {
	if n, ok := s.reg.NameOf(h); ok {
		return n
	}
	return h.String()
}

func (s *logSink) Closed() {
	log.Printf("[%s] closed", s.channel)
}

func (s *logSink) GroupFlagsChanged(add, remove mode.GroupFlag) {
	log.Printf("[%s] group flags: +%v -%v", s.channel, add, remove)
}

func (s *logSink) LostMessage() {
	log.Printf("[%s] lost a pending message", s.channel)
}

func (s *logSink) MembersChanged(message string, added, removed, local, remote []handle.Handle, actor handle.Handle, reason membership.Reason) {
	log.Printf("[%s] members changed (%q): +%v -%v local=%v remote=%v actor=%s reason=%v",
		s.channel, message, s.names(added), s.names(removed), s.names(local), s.names(remote), s.name(actor), reason)
}

func (s *logSink) PasswordFlagsChanged(add, remove mode.PasswordFlag) {
	log.Printf("[%s] password flags: +%v -%v", s.channel, add, remove)
}

func (s *logSink) PropertiesChanged(changes []property.Change) {
	log.Printf("[%s] properties changed: %+v", s.channel, changes)
}

func (s *logSink) PropertyFlagsChanged(changes []property.FlagChange) {
	log.Printf("[%s] property flags changed: %+v", s.channel, changes)
}

func (s *logSink) Received(msg pending.Message) {
	log.Printf("[%s] <%s> %s", s.channel, s.name(msg.Sender), msg.Text)
}

func (s *logSink) SendError(kind muc.SendErrorKind, timestamp int64, typ pending.Type, text string) {
	log.Printf("[%s] send failed (%v): %q", s.channel, kind, text)
}

func (s *logSink) Sent(timestamp int64, typ pending.Type, text string) {
	log.Printf("[%s] sent: %q", s.channel, text)
}

func (s *logSink) JoinReady(err muc.JoinError) {
	log.Printf("[%s] join ready: %v", s.channel, err)
}

func (s *logSink) names(hs []handle.Handle) []string {
	out := make([]string, len(hs))
	for i, h := range hs {
		out[i] = s.name(h)
	}
	return out
}
