// Package mode implements the IRC channel mode bit flags, the inbound
// MODE-string parser, and the projection of mode changes onto the
// session-bus property bag and group-capability flags.
package mode

import (
	"strconv"
	"strings"

	"github.com/dalnet/ircmuc/internal/property"
)

// Flag is one bit of channel mode state. Bit positions follow IRC
// convention.
type Flag uint32

const (
	Creator Flag = 1 << iota
	Operator
	Voice
	Anonymous
	InviteOnly
	Moderated
	NoOutside
	Quiet
	Private
	Secret
	ServerReop
	TopicOpsOnly
	Key
	UserLimit
	Halfop
)

// GroupFlag mirrors the session-bus group capability bits a channel
// exposes to clients.
type GroupFlag uint32

const (
	CanAdd GroupFlag = 1 << iota
	CanRemove
	MessageRemove
)

// PasswordFlag mirrors the session-bus password-challenge capability bits.
type PasswordFlag uint32

const (
	Provide PasswordFlag = 1 << iota
)

// State is the channel's current mode/topic state.
type State struct {
	Flags       Flag
	Limit       uint
	Key         string
	Topic       string
	TopicSetter uint32
	TopicAt     int64
}

// letterSpec describes one MODE letter: whether it consumes a positional
// argument, and which Flag bit it toggles (0 for letters with no direct
// flag, like the privilege letters which are handled specially).
type letterSpec struct {
	takesArg bool
	flag     Flag
}

// letters is the table-driven replacement for the original per-letter
// switch: one row per recognized MODE letter.
var letters = map[byte]letterSpec{
	'o': {takesArg: true, flag: Operator},
	'h': {takesArg: true, flag: Halfop},
	'v': {takesArg: true, flag: Voice},
	'l': {takesArg: true, flag: UserLimit},
	'k': {takesArg: true, flag: Key},
	'a': {flag: Anonymous},
	'i': {flag: InviteOnly},
	'm': {flag: Moderated},
	'n': {flag: NoOutside},
	'q': {flag: Quiet},
	'p': {flag: Private},
	's': {flag: Secret},
	'r': {flag: ServerReop},
	't': {flag: TopicOpsOnly},
}

// Parsed is the outcome of tokenizing one inbound MODE argument string: the
// accumulated add/remove masks for flags not tied to a specific nick, plus
// the limit/key values carried along if those letters appeared, and whether
// this MODE concerned our own privilege letters (o/h/v for our own nick).
type Parsed struct {
	Add            Flag
	Remove         Flag
	Limit          uint
	HasLimit       bool
	Key            string
	HasKey         bool
	SelfPrivAdd    Flag // subset of {Operator, Halfop, Voice} granted to self
	SelfPrivRemove Flag // subset of {Operator, Halfop, Voice} revoked from self
}

// ParseModeArgs tokenizes the MODE argument string exactly as received
// after the channel name. selfNick is used case-insensitively to decide
// whether an o/h/v letter concerns us. ok is false if the string could not
// be parsed at all (missing sign prefix); per spec this is logged and
// dropped by the caller, never surfaced to clients.
func ParseModeArgs(argStr string, selfNick string) (Parsed, bool) {
	tokens := strings.Fields(argStr)
	if len(tokens) == 0 {
		return Parsed{}, false
	}

	signed := tokens[0]
	var removing bool
	switch signed[0] {
	case '+':
		removing = false
	case '-':
		removing = true
	default:
		return Parsed{}, false
	}
	letterRun := signed[1:]

	var p Parsed
	argIdx := 1

	nextArg := func() (string, bool) {
		if argIdx >= len(tokens) {
			return "", false
		}
		a := tokens[argIdx]
		argIdx++
		return a, true
	}

	for i := 0; i < len(letterRun); i++ {
		c := letterRun[i]
		if c == '+' {
			removing = false
			continue
		}
		if c == '-' {
			removing = true
			continue
		}
		spec, known := letters[c]
		if !known {
			continue
		}

		if !spec.takesArg {
			if removing {
				p.Remove |= spec.flag
			} else {
				p.Add |= spec.flag
			}
			continue
		}

		arg, ok := nextArg()
		if !ok {
			continue
		}

		switch c {
		case 'o', 'h', 'v':
			if strings.EqualFold(arg, selfNick) {
				if removing {
					p.SelfPrivRemove |= spec.flag
				} else {
					p.SelfPrivAdd |= spec.flag
				}
			}
			// Mode changes for other nicks are reflected in membership
			// sigils elsewhere, not in mode_state: only our own privilege
			// gain or loss is projected here.
		case 'l':
			if n, err := strconv.Atoi(arg); err == nil && n >= 0 {
				p.Limit = uint(n)
				p.HasLimit = true
				if removing {
					p.Remove |= Flag(UserLimit)
				} else {
					p.Add |= Flag(UserLimit)
				}
			}
		case 'k':
			p.Key = arg
			p.HasKey = true
			if removing {
				p.Remove |= Flag(Key)
			} else {
				p.Add |= Flag(Key)
			}
		}
	}

	return p, true
}

// mirroredBools are the five mode-derived boolean properties whose READ
// flag flips on any MODE observation, regardless of which letters appeared.
var mirroredBools = []property.ID{
	property.InviteOnly,
	property.Limited,
	property.Moderated,
	property.PasswordRequired,
	property.Private,
}

// Projection is everything a mode change needs to drive outward: the
// property-bag changes to apply, the group-flag delta, and whether WRITE
// should be granted or revoked on every property.
type Projection struct {
	PropertyChanges []property.Change
	GroupAdd        GroupFlag
	GroupRemove     GroupFlag
	GrantWriteAll   bool
	RevokeWriteAll  bool
}

// ApplyModeChange updates state in place (removes computed against the
// existing flags first, then adds masked against what remains, matching
// the original's `remove &= ~add; ... add &= ~flags; remove &= flags`
// ordering) and returns the Projection the caller should apply to the
// property bag and group flags.
func ApplyModeChange(state *State, add, remove Flag, limit uint, hasLimit bool, key string, hasKey bool) Projection {
	remove &^= add
	add &^= state.Flags
	remove &= state.Flags

	if hasLimit {
		state.Limit = limit
	}
	if hasKey {
		state.Key = key
	}

	var proj Projection
	combined := add | remove

	hadPriv := state.Flags&(Operator|Halfop) != 0

	if add&InviteOnly != 0 {
		if !hadPriv {
			proj.GroupRemove |= GroupFlag(CanAdd)
		}
	} else if remove&InviteOnly != 0 {
		proj.GroupAdd |= GroupFlag(CanAdd)
	}

	if combined&(Operator|Halfop) != 0 {
		if add&(Operator|Halfop) != 0 {
			proj.GroupAdd |= GroupFlag(CanAdd) | GroupFlag(CanRemove) | GroupFlag(MessageRemove)
			proj.GrantWriteAll = true
		} else if remove&(Operator|Halfop) != 0 {
			proj.GroupRemove |= GroupFlag(CanRemove) | GroupFlag(MessageRemove)
			newFlags := (state.Flags | add) &^ remove
			if newFlags&InviteOnly != 0 {
				proj.GroupRemove |= GroupFlag(CanAdd)
			}
			proj.RevokeWriteAll = true
		}
	}

	for bit := Flag(1); bit < (1 << 16); bit <<= 1 {
		if combined&bit == 0 {
			continue
		}
		propID, ok := toPropID(bit)
		if !ok {
			continue
		}
		proj.PropertyChanges = append(proj.PropertyChanges, property.Change{
			ID:    propID,
			Value: property.Bool(add&bit != 0),
		})
		if add&bit != 0 {
			switch bit {
			case UserLimit:
				proj.PropertyChanges = append(proj.PropertyChanges, property.Change{
					ID:    property.Limit,
					Value: property.Uint(state.Limit),
				})
			case Key:
				proj.PropertyChanges = append(proj.PropertyChanges, property.Change{
					ID:    property.Password,
					Value: property.Str(state.Key),
				})
			}
		}
	}

	state.Flags |= add
	state.Flags &^= remove

	return proj
}

// toPropID maps a single mode Flag bit to the boolean property it mirrors.
// Private is mirrored by both Private and Secret (either one flips the
// same "private" boolean).
func toPropID(bit Flag) (property.ID, bool) {
	switch bit {
	case InviteOnly:
		return property.InviteOnly, true
	case Moderated:
		return property.Moderated, true
	case Private, Secret:
		return property.Private, true
	case Key:
		return property.PasswordRequired, true
	case UserLimit:
		return property.Limited, true
	default:
		return 0, false
	}
}

// MirroredBoolIDs returns the five property ids whose READ flag flips on
// every MODE observation.
func MirroredBoolIDs() []property.ID {
	out := make([]property.ID, len(mirroredBools))
	copy(out, mirroredBools)
	return out
}

// EgressChange is one property change a client requested, destined for
// translation into outbound IRC commands.
type EgressChange struct {
	ID    property.ID
	Value property.Value
}

// Command is one outbound line the egress translator produces, already
// fully formatted save for the channel name (supplied by the caller).
type Command struct {
	Verb string // "MODE" or "TOPIC"
	Args []string
}

// CurrentBooleans supplies the pre-change values of the limited and
// password-required booleans, needed when a batch changes only the
// data-carrying property (limit or password) and the translator must know
// whether the corresponding boolean is already in effect.
type CurrentBooleans struct {
	Limited          bool
	PasswordRequired bool
}

// TranslateEgress turns a batch of changed properties into the outbound
// MODE/TOPIC lines spec §4.4 describes. Composite pairs (limit/limited,
// password/password-required) are reordered so the data-carrying property
// is processed before its boolean — this ordering is load-bearing: the
// boolean's translation reads the already-buffered data value.
func TranslateEgress(changes []EgressChange, current CurrentBooleans) []Command {
	ordered := reorderDataBeforeBool(changes)

	var (
		cmds           []Command
		limitValue     uint
		haveLimit      bool
		sawLimited     bool
		keyValue       string
		haveKey        bool
		sawPasswordReq bool
	)

	for _, c := range ordered {
		switch c.ID {
		case property.InviteOnly:
			cmds = append(cmds, modeCmd(c.Value.Bool(), 'i', nil))
		case property.Moderated:
			cmds = append(cmds, modeCmd(c.Value.Bool(), 'm', nil))
		case property.Private:
			cmds = append(cmds, modeCmd(c.Value.Bool(), 's', nil))
		case property.Subject:
			cmds = append(cmds, Command{Verb: "TOPIC", Args: []string{c.Value.Str()}})
		case property.Limit:
			limitValue = c.Value.Uint()
			haveLimit = true
		case property.Limited:
			sawLimited = true
			if c.Value.Bool() {
				if haveLimit {
					cmds = append(cmds, Command{Verb: "MODE", Args: []string{"+l", itoa(limitValue)}})
				}
			} else {
				cmds = append(cmds, Command{Verb: "MODE", Args: []string{"-l"}})
			}
		case property.Password:
			keyValue = c.Value.Str()
			haveKey = true
		case property.PasswordRequired:
			sawPasswordReq = true
			if c.Value.Bool() {
				if haveKey {
					cmds = append(cmds, Command{Verb: "MODE", Args: []string{"+k", keyValue}})
				}
			} else {
				cmds = append(cmds, Command{Verb: "MODE", Args: []string{"-k"}})
			}
		}
	}

	// Data-only changes: the boolean didn't move in this batch but is
	// already in effect, so the new data value still needs to reach the
	// server.
	if haveLimit && !sawLimited && current.Limited {
		cmds = append(cmds, Command{Verb: "MODE", Args: []string{"+l", itoa(limitValue)}})
	}
	if haveKey && !sawPasswordReq && current.PasswordRequired {
		cmds = append(cmds, Command{Verb: "MODE", Args: []string{"+k", keyValue}})
	}

	return cmds
}

// reorderDataBeforeBool stably moves Limited and PasswordRequired to the
// end of the batch, after every other change (and so after Limit and
// Password), preserving relative order within the moved and unmoved groups.
func reorderDataBeforeBool(changes []EgressChange) []EgressChange {
	out := make([]EgressChange, 0, len(changes))
	var deferredBool []EgressChange

	for _, c := range changes {
		switch c.ID {
		case property.Limited, property.PasswordRequired:
			deferredBool = append(deferredBool, c)
		default:
			out = append(out, c)
		}
	}
	out = append(out, deferredBool...)
	return out
}

func modeCmd(set bool, letter byte, arg []string) Command {
	sign := byte('+')
	if !set {
		sign = '-'
	}
	args := append([]string{string([]byte{sign, letter})}, arg...)
	return Command{Verb: "MODE", Args: args}
}

func itoa(u uint) string {
	return strconv.FormatUint(uint64(u), 10)
}

// ApplyTopic updates state's topic fields and returns the corresponding
// property-bag changes. Any of setter/at may be left zero when the caller
// only has partial information (e.g. a bare TOPIC line with no setter).
func ApplyTopic(state *State, text string, hasText bool, setter uint32, hasSetter bool, at int64, hasAt bool) []property.Change {
	var changes []property.Change
	if hasText {
		state.Topic = text
		changes = append(changes, property.Change{ID: property.Subject, Value: property.Str(text)})
	}
	if hasSetter {
		state.TopicSetter = setter
		changes = append(changes, property.Change{ID: property.SubjectContact, Value: property.Uint(uint(setter))})
	}
	if hasAt {
		state.TopicAt = at
		changes = append(changes, property.Change{ID: property.SubjectTimestamp, Value: property.Uint(uint(at))})
	}
	return changes
}
