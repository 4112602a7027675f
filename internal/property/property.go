// Package property implements the channel's ten-entry typed property bag:
// fixed ids and names (part of the external contract), per-property
// READ/WRITE flags, diffing, and batched change emission.
package property

import "fmt"

// ID identifies one of the fixed ten properties by stable numeric id.
type ID int

const (
	InviteOnly ID = iota
	Limit
	Limited
	Moderated
	Password
	PasswordRequired
	Private
	Subject
	SubjectTimestamp
	SubjectContact
	numProperties
)

// Flag is a bitmask of per-property access flags.
type Flag uint8

const (
	FlagRead Flag = 1 << iota
	FlagWrite
)

// Kind is the D-Bus-style type code exposed by ListProperties.
type Kind byte

const (
	KindBool Kind = 'b'
	KindUint Kind = 'u'
	KindStr  Kind = 's'
)

// Value is a tagged union over the three scalar types a property can hold.
// The zero Value carries no kind: it is not a NULL string (see NullStr) and
// compares unequal to every Value, itself included.
type Value struct {
	kind Kind
	b    bool
	u    uint
	s    string
	null bool
}

func Bool(b bool) Value   { return Value{kind: KindBool, b: b} }
func Uint(u uint) Value   { return Value{kind: KindUint, u: u} }
func Str(s string) Value  { return Value{kind: KindStr, s: s} }
func NullStr() Value      { return Value{kind: KindStr, null: true} }
func (v Value) Kind() Kind { return v.kind }
func (v Value) Bool() bool { return v.b }
func (v Value) Uint() uint { return v.u }
func (v Value) Str() string {
	return v.s
}
func (v Value) IsNull() bool { return v.null }

// Equal compares two values per spec: bools and uints by value, strings by
// content with NULL==NULL and NULL!=non-NULL, and any mismatched or unknown
// kind pairing as unequal.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindBool:
		return v.b == o.b
	case KindUint:
		return v.u == o.u
	case KindStr:
		if v.null || o.null {
			return v.null == o.null
		}
		return v.s == o.s
	default:
		return false
	}
}

type entry struct {
	name  string
	kind  Kind
	value Value
	flags Flag
}

// Bag is the fixed ten-property set owned by one channel.
type Bag struct {
	entries [numProperties]entry
}

var signatures = [numProperties]struct {
	name string
	kind Kind
}{
	InviteOnly:       {"invite-only", KindBool},
	Limit:            {"limit", KindUint},
	Limited:          {"limited", KindBool},
	Moderated:        {"moderated", KindBool},
	Password:         {"password", KindStr},
	PasswordRequired: {"password-required", KindBool},
	Private:          {"private", KindBool},
	Subject:          {"subject", KindStr},
	SubjectTimestamp: {"subject-timestamp", KindUint},
	SubjectContact:   {"subject-contact", KindUint},
}

// New builds a Bag with all properties at their zero value and no flags
// set.
func New() *Bag {
	bag := &Bag{}
	for id := ID(0); id < numProperties; id++ {
		sig := signatures[id]
		var zero Value
		switch sig.kind {
		case KindBool:
			zero = Bool(false)
		case KindUint:
			zero = Uint(0)
		case KindStr:
			zero = NullStr()
		}
		bag.entries[id] = entry{name: sig.name, kind: sig.kind, value: zero}
	}
	return bag
}

// Change is one {id, value} pair as accepted by ChangeProperties and
// SetProperties.
type Change struct {
	ID    ID
	Value Value
}

// ChangeProperties compares each change against the current value; for
// every one that actually differs, it applies the new value and reports it
// in the returned slice (to be emitted as one properties-changed event) and
// in readFlagged (to be emitted as one property-flags-changed event marking
// READ, since observing a value makes it known).
func (b *Bag) ChangeProperties(changes []Change) (changed []Change, readFlagged []ID) {
	for _, c := range changes {
		if int(c.ID) < 0 || c.ID >= numProperties {
			continue
		}
		e := &b.entries[c.ID]
		if e.value.Equal(c.Value) {
			continue
		}
		e.value = c.Value
		e.flags |= FlagRead
		changed = append(changed, Change{ID: c.ID, Value: c.Value})
		readFlagged = append(readFlagged, c.ID)
	}
	return changed, readFlagged
}

// FlagChange is one {id, flags} pair as emitted by SetPropertyFlags.
type FlagChange struct {
	ID    ID
	Flags Flag
}

// SetPropertyFlags computes (old | add) &^ remove for each id in ids (or
// every property if ids is nil), returning only the entries whose flag word
// actually changed.
func (b *Bag) SetPropertyFlags(ids []ID, add, remove Flag) []FlagChange {
	if ids == nil {
		ids = allIDs()
	}
	var changed []FlagChange
	for _, id := range ids {
		if int(id) < 0 || id >= numProperties {
			continue
		}
		e := &b.entries[id]
		next := (e.flags | add) &^ remove
		if next != e.flags {
			e.flags = next
			changed = append(changed, FlagChange{ID: id, Flags: next})
		}
	}
	return changed
}

func allIDs() []ID {
	ids := make([]ID, numProperties)
	for i := range ids {
		ids[i] = ID(i)
	}
	return ids
}

// Info is one row of ListProperties output.
type Info struct {
	ID    ID
	Name  string
	Kind  Kind
	Flags Flag
}

// ListProperties returns every entry with its id, name, type code and
// current flags.
func (b *Bag) ListProperties() []Info {
	out := make([]Info, 0, numProperties)
	for id := ID(0); id < numProperties; id++ {
		e := b.entries[id]
		out = append(out, Info{ID: id, Name: e.name, Kind: e.kind, Flags: e.flags})
	}
	return out
}

// ErrPermissionDenied is returned (wrapped) when a requested id lacks the
// needed READ or WRITE flag.
var ErrPermissionDenied = fmt.Errorf("permission denied")

// ErrInvalidArgument is returned (wrapped) for an unknown id or a value
// whose kind doesn't match the property's declared type.
var ErrInvalidArgument = fmt.Errorf("invalid argument")

// GetProperties returns the current values of ids, failing if any lacks
// READ.
func (b *Bag) GetProperties(ids []ID) ([]Change, error) {
	out := make([]Change, 0, len(ids))
	for _, id := range ids {
		if int(id) < 0 || id >= numProperties {
			return nil, fmt.Errorf("%w: unknown property id %d", ErrInvalidArgument, id)
		}
		e := b.entries[id]
		if e.flags&FlagRead == 0 {
			return nil, fmt.Errorf("%w: property %q is not readable", ErrPermissionDenied, e.name)
		}
		out = append(out, Change{ID: id, Value: e.value})
	}
	return out, nil
}

// SetProperties validates WRITE access and type-matching for every change,
// then returns the subset whose value actually differs from the current
// one (the set that should be forwarded to the mode/topic translator). It
// fails entirely (no partial application) if any id is unknown, lacks
// WRITE, or carries a value of the wrong kind.
func (b *Bag) SetProperties(changes []Change) ([]Change, error) {
	for _, c := range changes {
		if int(c.ID) < 0 || c.ID >= numProperties {
			return nil, fmt.Errorf("%w: unknown property id %d", ErrInvalidArgument, c.ID)
		}
		e := b.entries[c.ID]
		if e.flags&FlagWrite == 0 {
			return nil, fmt.Errorf("%w: property %q is not writable", ErrPermissionDenied, e.name)
		}
		if c.Value.Kind() != e.kind {
			return nil, fmt.Errorf("%w: property %q expects type %c, got %c", ErrInvalidArgument, e.name, e.kind, c.Value.Kind())
		}
	}

	var out []Change
	for _, c := range changes {
		if b.entries[c.ID].value.Equal(c.Value) {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

// Name returns the external contract name for id.
func (b *Bag) Name(id ID) string {
	if int(id) < 0 || id >= numProperties {
		return ""
	}
	return b.entries[id].name
}

// Value returns the current value of id without permission checks; used
// internally by the mode/topic translator which already holds WRITE.
func (b *Bag) Value(id ID) Value {
	if int(id) < 0 || id >= numProperties {
		return Value{}
	}
	return b.entries[id].value
}
