package muc

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/dalnet/ircmuc/internal/handle"
	"github.com/dalnet/ircmuc/internal/membership"
	"github.com/dalnet/ircmuc/internal/mode"
	"github.com/dalnet/ircmuc/internal/pending"
	"github.com/dalnet/ircmuc/internal/property"
)

type sentCmd struct {
	command string
	params  []string
}

type fakeConn struct {
	sent []sentCmd
}

func (f *fakeConn) Send(command string, params ...string) {
	f.sent = append(f.sent, sentCmd{command: command, params: append([]string(nil), params...)})
}

type fakeSink struct {
	closed            int
	groupAdd          mode.GroupFlag
	groupRemove       mode.GroupFlag
	passwordAdd       mode.PasswordFlag
	passwordRemove    mode.PasswordFlag
	propsChanged      [][]property.Change
	flagsChanged      [][]property.FlagChange
	received          []pending.Message
	sendErrors        []SendErrorKind
	sent              []pending.Type
	joinReadyCalls    []JoinError
	membersChangedLog []membersChangedCall
}

type membersChangedCall struct {
	message string
	added   []handle.Handle
	removed []handle.Handle
	local   []handle.Handle
	remote  []handle.Handle
	actor   handle.Handle
	reason  membership.Reason
}

func (f *fakeSink) Closed() { f.closed++ }
func (f *fakeSink) GroupFlagsChanged(add, remove mode.GroupFlag) {
	f.groupAdd |= add
	f.groupRemove |= remove
}
func (f *fakeSink) LostMessage() {}
func (f *fakeSink) MembersChanged(message string, added, removed, local, remote []handle.Handle, actor handle.Handle, reason membership.Reason) {
	f.membersChangedLog = append(f.membersChangedLog, membersChangedCall{message, added, removed, local, remote, actor, reason})
}
func (f *fakeSink) PasswordFlagsChanged(add, remove mode.PasswordFlag) {
	f.passwordAdd |= add
	f.passwordRemove |= remove
}
func (f *fakeSink) PropertiesChanged(changes []property.Change)       { f.propsChanged = append(f.propsChanged, changes) }
func (f *fakeSink) PropertyFlagsChanged(changes []property.FlagChange) {
	f.flagsChanged = append(f.flagsChanged, changes)
}
func (f *fakeSink) Received(msg pending.Message)  { f.received = append(f.received, msg) }
func (f *fakeSink) SendError(kind SendErrorKind, ts int64, typ pending.Type, text string) {
	f.sendErrors = append(f.sendErrors, kind)
}
func (f *fakeSink) Sent(ts int64, typ pending.Type, text string) { f.sent = append(f.sent, typ) }
func (f *fakeSink) JoinReady(err JoinError)                       { f.joinReadyCalls = append(f.joinReadyCalls, err) }

func newTestChannel(t *testing.T) (*Channel, *fakeConn, *fakeSink, *handle.Registry) {
	t.Helper()
	reg := handle.NewRegistry()
	conn := &fakeConn{}
	sink := &fakeSink{}
	ch := New(Config{Registry: reg, Conn: conn, Sink: sink}, "#room", "bob")
	return ch, conn, sink, reg
}

func lastSent(conn *fakeConn) sentCmd {
	return conn.sent[len(conn.sent)-1]
}

// S1 — basic join.
func TestScenarioBasicJoin(t *testing.T) {
	ch, conn, sink, _ := newTestChannel(t)

	if err := ch.AddMembers([]handle.Handle{ch.SelfHandle()}, ""); err != nil {
		t.Fatalf("AddMembers: %v", err)
	}
	if len(conn.sent) != 1 || conn.sent[0].command != "JOIN" || conn.sent[0].params[0] != "#room" {
		t.Fatalf("expected JOIN #room, got %+v", conn.sent)
	}
	if !ch.sets.InRemotePending(ch.SelfHandle()) {
		t.Fatalf("expected self in remote-pending while JOINING")
	}

	ch.Join(ch.SelfHandle())

	if !ch.sets.InCurrent(ch.SelfHandle()) {
		t.Fatalf("expected self moved to current members")
	}
	if ch.sets.InRemotePending(ch.SelfHandle()) {
		t.Fatalf("expected self removed from remote-pending")
	}
	if len(sink.joinReadyCalls) != 1 || sink.joinReadyCalls[0] != JoinErrorNone {
		t.Fatalf("expected exactly one join-ready(NONE), got %+v", sink.joinReadyCalls)
	}
	if lastSent(conn).command != "MODE" || lastSent(conn).params[0] != "#room" {
		t.Fatalf("expected a MODE #room query after join, got %+v", conn.sent)
	}
}

// S2 — passworded join.
func TestScenarioPasswordedJoin(t *testing.T) {
	ch, conn, sink, _ := newTestChannel(t)
	ch.AddMembers([]handle.Handle{ch.SelfHandle()}, "")

	ch.BadChannelKey()
	if sink.passwordAdd&mode.Provide == 0 {
		t.Fatalf("expected password-flags-changed(add=PROVIDE)")
	}

	var replyOK *bool
	err := ch.ProvidePassword("hunter2", func(ok bool) { replyOK = &ok })
	if err != nil {
		t.Fatalf("ProvidePassword: %v", err)
	}
	if lastSent(conn).command != "JOIN" || lastSent(conn).params[1] != "hunter2" {
		t.Fatalf("expected JOIN #room hunter2, got %+v", conn.sent)
	}

	ch.Join(ch.SelfHandle())

	if sink.passwordRemove&mode.Provide == 0 {
		t.Fatalf("expected password-flags-changed(remove=PROVIDE)")
	}
	if replyOK == nil || !*replyOK {
		t.Fatalf("expected password continuation resolved true")
	}
	if len(sink.joinReadyCalls) != 1 {
		t.Fatalf("expected exactly one join-ready, got %d", len(sink.joinReadyCalls))
	}
}

// S3 — mode ingest.
func TestScenarioModeIngestSelfOp(t *testing.T) {
	ch, _, sink, _ := newTestChannel(t)
	ch.AddMembers([]handle.Handle{ch.SelfHandle()}, "")
	ch.Join(ch.SelfHandle())
	ch.mstate.Flags |= mode.Operator // self is OP

	ch.Mode("+im-t")

	if ch.mstate.Flags&mode.InviteOnly == 0 || ch.mstate.Flags&mode.Moderated == 0 {
		t.Fatalf("expected INVITE_ONLY and MODERATED set, got %v", ch.mstate.Flags)
	}
	if ch.mstate.Flags&mode.TopicOpsOnly != 0 {
		t.Fatalf("expected TOPIC_OPS_ONLY cleared, got %v", ch.mstate.Flags)
	}

	if len(sink.propsChanged) == 0 {
		t.Fatalf("expected at least one properties-changed batch")
	}
	foundInvite, foundMod := false, false
	for _, batch := range sink.propsChanged {
		for _, c := range batch {
			if c.ID == property.InviteOnly && c.Value.Bool() {
				foundInvite = true
			}
			if c.ID == property.Moderated && c.Value.Bool() {
				foundMod = true
			}
		}
	}
	if !foundInvite || !foundMod {
		t.Fatalf("expected invite-only and moderated properties-changed")
	}
	if len(sink.flagsChanged) == 0 {
		t.Fatalf("expected property-flags-changed marking READ on the mirrored booleans")
	}
	// Self is OP: CAN_ADD must not have been revoked by invite-only.
	if sink.groupRemove&mode.GroupFlag(mode.CanAdd) != 0 {
		t.Fatalf("OP should keep CAN_ADD despite invite-only, got groupRemove=%v", sink.groupRemove)
	}
}

// S4 — non-self privilege leaves mode state untouched.
func TestScenarioNonSelfPrivilegeUnchanged(t *testing.T) {
	ch, _, sink, reg := newTestChannel(t)
	ch.AddMembers([]handle.Handle{ch.SelfHandle()}, "")
	ch.Join(ch.SelfHandle())
	before := ch.mstate.Flags

	alice := reg.Ref(handle.KindContact, "alice")
	defer reg.Release(alice)

	ch.Mode("+o alice")

	if ch.mstate.Flags != before {
		t.Fatalf("expected mode state unchanged when MODE concerns another nick, got %v want %v", ch.mstate.Flags, before)
	}
	if len(sink.propsChanged) != 0 {
		t.Fatalf("expected no properties-changed, got %+v", sink.propsChanged)
	}
}

// S5 — UTF-8-safe text splitting.
func TestScenarioUTF8SafeSplit(t *testing.T) {
	// header "PRIVMSG #r :" is 12 bytes; with max_msg_len=20 the body
	// budget is 8 bytes. "ABCDE€FG": € is 3 bytes, so ABCDE€ is 8 bytes
	// exactly and fits in the first chunk.
	chunks := splitLineUTF8Safe("ABCDE€FG", 8)
	if len(chunks) == 0 {
		t.Fatalf("expected at least one chunk")
	}
	for _, c := range chunks {
		if !utf8Valid(c) {
			t.Fatalf("chunk %q is not valid UTF-8 (split a rune in half)", c)
		}
	}
	joined := ""
	for _, c := range chunks {
		joined += c
	}
	if joined != "ABCDE€FG" {
		t.Fatalf("chunks must reassemble to the original text, got %q", joined)
	}
}

func utf8Valid(s string) bool {
	return utf8.ValidString(s)
}

// S6 — acknowledge with a missing id: partial removal survives the error.
func TestScenarioAcknowledgeMissingID(t *testing.T) {
	ch, _, _, reg := newTestChannel(t)
	alice := reg.Ref(handle.KindContact, "alice")
	defer reg.Release(alice)

	ch.msgs.Receive(alice, pending.TypeNormal, "one", 1)
	ch.msgs.Receive(alice, pending.TypeNormal, "two", 2)
	ch.msgs.Receive(alice, pending.TypeNormal, "three", 3)

	err := ch.AcknowledgePendingMessages([]uint{1, 5})
	if err == nil {
		t.Fatalf("expected an error acknowledging a missing id")
	}

	remaining := ch.ListPendingMessages(false)
	if len(remaining) != 2 {
		t.Fatalf("expected id 1 to stay removed despite the later failure, got %+v", remaining)
	}
	for _, m := range remaining {
		if m.ID == 1 {
			t.Fatalf("id 1 should have been removed before the failure, got %+v", remaining)
		}
	}
}

func TestModeratedSendRejectedWithoutVoice(t *testing.T) {
	ch, conn, sink, _ := newTestChannel(t)
	ch.AddMembers([]handle.Handle{ch.SelfHandle()}, "")
	ch.Join(ch.SelfHandle())
	ch.mstate.Flags |= mode.Moderated

	if err := ch.Send(pending.TypeNormal, "hello"); err != nil {
		t.Fatalf("Send returned an error; per spec it should report success and emit send-error instead: %v", err)
	}
	if len(sink.sendErrors) != 1 || sink.sendErrors[0] != SendErrorPermissionDenied {
		t.Fatalf("expected one PermissionDenied send-error, got %+v", sink.sendErrors)
	}
	for _, s := range conn.sent {
		if s.command == "PRIVMSG" {
			t.Fatalf("expected no PRIVMSG to be sent under MODERATED without privilege")
		}
	}
}

func TestActionDecodeRoundTrip(t *testing.T) {
	encoded := encodeAction("waves")
	text, ok := decodeAction(encoded)
	if !ok || text != "waves" {
		t.Fatalf("decodeAction(%q) = %q, %v; want \"waves\", true", encoded, text, ok)
	}
	if _, ok := decodeAction("plain text"); ok {
		t.Fatalf("expected plain text to not decode as an ACTION")
	}
}

func TestModeSelfDeopClearsPrivilegeAndWrite(t *testing.T) {
	ch, _, sink, _ := newTestChannel(t)
	ch.AddMembers([]handle.Handle{ch.SelfHandle()}, "")
	ch.Join(ch.SelfHandle())
	ch.Mode("+o bob")

	if ch.mstate.Flags&mode.Operator == 0 {
		t.Fatalf("expected self OPERATOR set after +o bob")
	}
	sink.flagsChanged = nil

	ch.Mode("-o bob")

	if ch.mstate.Flags&mode.Operator != 0 {
		t.Fatalf("expected self OPERATOR cleared after -o bob, got %v", ch.mstate.Flags)
	}
	foundWriteCleared := false
	for _, batch := range sink.flagsChanged {
		for _, fc := range batch {
			if fc.Flags&property.FlagWrite == 0 {
				foundWriteCleared = true
			}
		}
	}
	if !foundWriteCleared {
		t.Fatalf("expected property-flags-changed reporting WRITE revoked, got %+v", sink.flagsChanged)
	}
}

func TestAddMembersRejoinFromPartedSendsJoinAgain(t *testing.T) {
	ch, conn, sink, _ := newTestChannel(t)
	ch.AddMembers([]handle.Handle{ch.SelfHandle()}, "")
	ch.Join(ch.SelfHandle())
	ch.Part(ch.SelfHandle(), "bye")
	if ch.state != stateParted {
		t.Fatalf("expected PARTED after self-part")
	}

	if err := ch.AddMembers([]handle.Handle{ch.SelfHandle()}, ""); err != nil {
		t.Fatalf("expected rejoin from PARTED to succeed: %v", err)
	}
	found := false
	for _, s := range conn.sent {
		if s.command == "JOIN" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a second JOIN to be sent, got %+v", conn.sent)
	}

	ch.Join(ch.SelfHandle())
	if len(sink.joinReadyCalls) != 2 {
		t.Fatalf("expected a fresh join-ready after rejoin, got %+v", sink.joinReadyCalls)
	}
}

func TestAddMembersSelfFailsWhileAlreadyJoining(t *testing.T) {
	ch, _, _, _ := newTestChannel(t)
	ch.AddMembers([]handle.Handle{ch.SelfHandle()}, "")

	if err := ch.AddMembers([]handle.Handle{ch.SelfHandle()}, ""); err == nil {
		t.Fatalf("expected an error re-adding self while already JOINING")
	}
}

func TestAddMembersInvitesOtherAndTracksRemotePending(t *testing.T) {
	ch, conn, _, reg := newTestChannel(t)
	ch.AddMembers([]handle.Handle{ch.SelfHandle()}, "")
	ch.Join(ch.SelfHandle())

	alice := reg.Ref(handle.KindContact, "alice")
	defer reg.Release(alice)

	if err := ch.AddMembers([]handle.Handle{alice}, ""); err != nil {
		t.Fatalf("AddMembers: %v", err)
	}
	if !ch.sets.InRemotePending(alice) {
		t.Fatalf("expected alice placed into remote-pending after invite")
	}
	if lastSent(conn).command != "INVITE" {
		t.Fatalf("expected an INVITE to be sent, got %+v", conn.sent)
	}

	if err := ch.AddMembers([]handle.Handle{alice}, ""); err == nil {
		t.Fatalf("expected a duplicate invite to fail since alice is already remote-pending")
	}
}

func TestSendMultiChunkActionFramesEachChunk(t *testing.T) {
	ch, conn, sink, _ := newTestChannel(t)
	ch.AddMembers([]handle.Handle{ch.SelfHandle()}, "")
	ch.Join(ch.SelfHandle())
	ch.maxMsgLen = 29 // "PRIVMSG #room :" (15) + CTCP ACTION framing (9) + a 5-byte budget

	if err := ch.Send(pending.TypeAction, "ABCDEFGHIJ"); err != nil {
		t.Fatalf("Send: %v", err)
	}

	var privmsgs []string
	for _, s := range conn.sent {
		if s.command == "PRIVMSG" {
			privmsgs = append(privmsgs, s.params[1])
		}
	}
	if len(privmsgs) < 2 {
		t.Fatalf("expected the action text to split into multiple PRIVMSGs, got %+v", privmsgs)
	}
	for _, p := range privmsgs {
		if !strings.HasPrefix(p, "\x01ACTION ") || !strings.HasSuffix(p, "\x01") {
			t.Fatalf("expected every chunk individually framed with CTCP ACTION, got %q", p)
		}
	}
	if len(sink.sent) != len(privmsgs) {
		t.Fatalf("expected one sent event per PRIVMSG chunk, got %d events for %d chunks", len(sink.sent), len(privmsgs))
	}
}

func TestKickSelfClosesChannel(t *testing.T) {
	ch, _, sink, reg := newTestChannel(t)
	ch.AddMembers([]handle.Handle{ch.SelfHandle()}, "")
	ch.Join(ch.SelfHandle())

	op := reg.Ref(handle.KindContact, "opuser")
	defer reg.Release(op)

	ch.Kick(ch.SelfHandle(), op, "begone")

	if sink.closed != 1 {
		t.Fatalf("expected exactly one closed emission, got %d", sink.closed)
	}
	if ch.state != stateParted {
		t.Fatalf("expected state PARTED after self-kick")
	}
}
