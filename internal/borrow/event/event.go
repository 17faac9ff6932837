package event

import (
	"encoding/json"
	"fmt"
	"io"
)

// Kind classifies a tracked lifetime event.
type Kind uint8

const (
	// KindNew records the creation of a variable binding.
	KindNew Kind = iota
	// KindBorrow records a reference being formed (&x), shared or exclusive.
	KindBorrow
	// KindMove records an ownership transfer from one binding to another.
	KindMove
	// KindDrop records a binding going out of scope.
	KindDrop
	// KindRcClone records a reference-counted handle being cloned.
	KindRcClone
	// KindCellBorrow records a runtime-checked interior-mutability borrow.
	KindCellBorrow
)

var kindNames = [...]string{
	KindNew:        "new",
	KindBorrow:     "borrow",
	KindMove:       "move",
	KindDrop:       "drop",
	KindRcClone:    "rc-clone",
	KindCellBorrow: "cell-borrow",
}

// String returns the wire name of the kind.
func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// MarshalJSON encodes the kind as its wire name so snapshots stay readable
// by the viewer and stable across releases.
func (k Kind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// UnmarshalJSON decodes a kind from its wire name.
func (k *Kind) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	for i, n := range kindNames {
		if n == name {
			*k = Kind(i)
			return nil
		}
	}
	return fmt.Errorf("unknown event kind %q", name)
}

// Event is one immutable fact about what the instrumented program did.
//
// Field usage by kind:
//
//	new          ID, Name, TypeName, ScopeDepth
//	borrow       ID (borrower), OwnerID, Exclusive
//	move         ID (destination), OwnerID (source)
//	drop         ID
//	rc-clone     ID (clone), OwnerID, Count
//	cell-borrow  ID (borrower), OwnerID, Exclusive
//
// Time is a strictly increasing logical timestamp, never wall time. Loc is a
// file:line:column source location string produced at transform time.
type Event struct {
	Time       uint64 `json:"time"`
	Kind       Kind   `json:"kind"`
	ID         uint64 `json:"id"`
	OwnerID    uint64 `json:"owner_id,omitempty"`
	Name       string `json:"name,omitempty"`
	TypeName   string `json:"type,omitempty"`
	Exclusive  bool   `json:"exclusive,omitempty"`
	Count      int    `json:"count,omitempty"`
	ScopeDepth int    `json:"scope_depth,omitempty"`
	Loc        string `json:"loc,omitempty"`
}

// String renders the event for debugging and reports.
func (e Event) String() string {
	switch e.Kind {
	case KindNew:
		return fmt.Sprintf("t%d new #%d %q %s at %s", e.Time, e.ID, e.Name, e.TypeName, e.Loc)
	case KindBorrow, KindCellBorrow:
		mode := "shared"
		if e.Exclusive {
			mode = "exclusive"
		}
		return fmt.Sprintf("t%d %s #%d -> #%d (%s) at %s", e.Time, e.Kind, e.ID, e.OwnerID, mode, e.Loc)
	case KindMove:
		return fmt.Sprintf("t%d move #%d -> #%d at %s", e.Time, e.OwnerID, e.ID, e.Loc)
	case KindDrop:
		return fmt.Sprintf("t%d drop #%d at %s", e.Time, e.ID, e.Loc)
	case KindRcClone:
		return fmt.Sprintf("t%d rc-clone #%d of #%d (count=%d) at %s", e.Time, e.ID, e.OwnerID, e.Count, e.Loc)
	}
	return fmt.Sprintf("t%d unknown event #%d", e.Time, e.ID)
}

// snapshotFile is the on-disk shape of an exported event snapshot.
type snapshotFile struct {
	Events []Event `json:"events"`
}

// Encode writes an event snapshot as JSON.
//
// The output is the interchange format between an instrumented run and the
// offline analysis commands (borrowtrace check / borrowtrace graph).
func Encode(w io.Writer, events []Event) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(snapshotFile{Events: events})
}

// Decode reads an event snapshot previously written by Encode.
func Decode(r io.Reader) ([]Event, error) {
	var f snapshotFile
	if err := json.NewDecoder(r).Decode(&f); err != nil {
		return nil, fmt.Errorf("failed to decode event snapshot: %w", err)
	}
	return f.Events, nil
}
