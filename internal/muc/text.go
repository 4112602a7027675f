package muc

import (
	"strings"
	"unicode/utf8"

	"github.com/dalnet/ircmuc/internal/handle"
	"github.com/dalnet/ircmuc/internal/mode"
	"github.com/dalnet/ircmuc/internal/pending"
)

const ctcpDelim = '\x01'
const ctcpActionPrefix = "ACTION "

// decodeAction strips CTCP ACTION framing from a raw PRIVMSG body, per
// spec's text-decode component. It returns ok=false for anything that
// isn't exactly one complete ACTION envelope, leaving the raw text
// untouched for the caller to treat as a normal message.
func decodeAction(raw string) (text string, ok bool) {
	if len(raw) < 2 || raw[0] != ctcpDelim || raw[len(raw)-1] != ctcpDelim {
		return "", false
	}
	inner := raw[1 : len(raw)-1]
	if !strings.HasPrefix(inner, ctcpActionPrefix) {
		return "", false
	}
	return inner[len(ctcpActionPrefix):], true
}

// encodeAction wraps text in CTCP ACTION framing for outbound send.
func encodeAction(text string) string {
	return string(ctcpDelim) + ctcpActionPrefix + text + string(ctcpDelim)
}

// Receive ingests an inbound PRIVMSG or NOTICE body from sender, decoding
// CTCP ACTION framing, queuing it as a pending message, and emitting
// received.
func (c *Channel) Receive(sender handle.Handle, raw string, notice bool) {
	typ := pending.TypeNormal
	text := raw
	if notice {
		typ = pending.TypeNotice
	} else if action, ok := decodeAction(raw); ok {
		typ = pending.TypeAction
		text = action
	}
	msg := c.msgs.Receive(sender, typ, text, c.timestamp())
	c.sink.Received(msg)
}

// Send submits text for delivery as a message of typ. If the channel is
// MODERATED and the local user holds no voice/halfop/operator/creator
// privilege, the send is rejected with send-error but the call still
// reports success to the caller — per the original, a rejected send is not
// a method-call failure, only an asynchronous signal. Otherwise the raw
// text is split on embedded newlines and then on the per-IRC-line length
// budget (retreating to the previous UTF-8 code-point boundary rather than
// splitting a rune in half); CTCP ACTION framing, if any, is applied fresh
// to each resulting chunk, which is sent as its own PRIVMSG/NOTICE with its
// own sent event, matching idle-text.c's per-iteration header+chunk+footer
// construction.
func (c *Channel) Send(typ pending.Type, text string) error {
	if c.mstate.Flags&mode.Moderated != 0 && c.mstate.Flags&(mode.Operator|mode.Halfop|mode.Voice|mode.Creator) == 0 {
		c.sink.SendError(SendErrorPermissionDenied, c.timestamp(), typ, text)
		return nil
	}

	verb := "PRIVMSG"
	if typ == pending.TypeNotice {
		verb = "NOTICE"
	}

	frameLen := 0
	if typ == pending.TypeAction {
		frameLen = len(string(ctcpDelim)) + len(ctcpActionPrefix) + len(string(ctcpDelim))
	}
	headerLen := len(verb) + len(" ") + len(c.name) + len(" :") + frameLen
	budget := c.maxMsgLen - headerLen
	if budget < 1 {
		budget = 1
	}

	for _, chunk := range splitText(text, budget) {
		body := chunk
		if typ == pending.TypeAction {
			body = encodeAction(chunk)
		}
		c.conn.Send(verb, c.name, body)
		c.sink.Sent(c.timestamp(), typ, chunk)
	}

	return nil
}

// splitText splits text first on embedded newlines, then each resulting
// line on maxLen-byte UTF-8-safe boundaries.
func splitText(text string, maxLen int) []string {
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		out = append(out, splitLineUTF8Safe(line, maxLen)...)
	}
	return out
}

// splitLineUTF8Safe breaks line into chunks of at most maxLen bytes,
// retreating each cut point to the start of a rune so no chunk ends mid
// code point. When maxLen is shorter than the rune at the cut, no rune start
// is found and the cut is made at maxLen bytes, inside that rune.
func splitLineUTF8Safe(line string, maxLen int) []string {
	if line == "" {
		return []string{""}
	}
	var chunks []string
	for len(line) > 0 {
		if len(line) <= maxLen {
			chunks = append(chunks, line)
			break
		}
		cut := maxLen
		for cut > 0 && !utf8.RuneStart(line[cut]) {
			cut--
		}
		if cut == 0 {
			cut = maxLen
		}
		chunks = append(chunks, line[:cut])
		line = line[cut:]
	}
	return chunks
}

// AcknowledgePendingMessages removes the named ids from the pending queue.
func (c *Channel) AcknowledgePendingMessages(ids []uint) error {
	return c.msgs.Acknowledge(ids)
}

// ListPendingMessages returns the queued messages and, if clear is true,
// empties the queue after copying them out.
func (c *Channel) ListPendingMessages(clear bool) []pending.Message {
	return c.msgs.List(clear)
}
