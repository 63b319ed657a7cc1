package engine

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// ParentID is a single provenance tag of the form "U:I:L". U is a UUID minted
// per send, I is the zero-based index of the message within the list produced
// by that send, and L is the total list length. Siblings of one split share U.
type ParentID struct {
	ID    string
	Index int
	Total int
}

// Mint allocates a fresh UUID and returns the tag U:index:total.
func Mint(index, total int) ParentID {
	return ParentID{ID: uuid.NewString(), Index: index, Total: total}
}

// ParseParentID parses the wire form "U:I:L". It rejects anything that is not
// a textual UUID followed by two decimal integers with 0 <= I < L and L >= 1.
func ParseParentID(s string) (ParentID, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return ParentID{}, &ParentIDError{Tag: s, Reason: "expected U:I:L"}
	}
	if _, err := uuid.Parse(parts[0]); err != nil {
		return ParentID{}, &ParentIDError{Tag: s, Reason: "malformed uuid"}
	}
	idx, err := strconv.Atoi(parts[1])
	if err != nil || idx < 0 {
		return ParentID{}, &ParentIDError{Tag: s, Reason: "malformed index"}
	}
	total, err := strconv.Atoi(parts[2])
	if err != nil || total < 1 {
		return ParentID{}, &ParentIDError{Tag: s, Reason: "malformed length"}
	}
	if idx >= total {
		return ParentID{}, &ParentIDError{Tag: s, Reason: "index out of range"}
	}
	return ParentID{ID: parts[0], Index: idx, Total: total}, nil
}

func (p ParentID) String() string {
	return fmt.Sprintf("%s:%d:%d", p.ID, p.Index, p.Total)
}

// IsLastSibling reports whether this tag is the final piece of its split.
func (p ParentID) IsLastSibling() bool {
	return p.Index == p.Total-1
}

// MarshalText implements encoding.TextMarshaler so parents serialize as
// their wire form inside checkpoint files.
func (p ParentID) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *ParentID) UnmarshalText(text []byte) error {
	parsed, err := ParseParentID(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Parents is an ordered provenance sequence, oldest tag first. One tag is
// appended per port traversal.
type Parents []ParentID

// Clone returns an independent copy so downstream appends never alias the
// sender's slice.
func (ps Parents) Clone() Parents {
	if ps == nil {
		return nil
	}
	out := make(Parents, len(ps))
	copy(out, ps)
	return out
}

// GroupKey returns the first depth tags, used as an aggregation bucket key.
func (ps Parents) GroupKey(depth int) Parents {
	if depth > len(ps) {
		depth = len(ps)
	}
	return ps[:depth].Clone()
}

// Key renders the sequence as a single string usable as a map key.
func (ps Parents) Key() string {
	strs := make([]string, len(ps))
	for i, p := range ps {
		strs[i] = p.String()
	}
	return strings.Join(strs, "/")
}

func (ps Parents) Equal(other Parents) bool {
	if len(ps) != len(other) {
		return false
	}
	for i := range ps {
		if ps[i] != other[i] {
			return false
		}
	}
	return true
}

// HasPrefix reports whether prefix is a prefix of ps.
func (ps Parents) HasPrefix(prefix Parents) bool {
	if len(prefix) > len(ps) {
		return false
	}
	for i := range prefix {
		if ps[i] != prefix[i] {
			return false
		}
	}
	return true
}

// LongestCommonPrefix returns the longest sequence that is a prefix of every
// input. With no inputs the result is empty.
func LongestCommonPrefix(seqs ...Parents) Parents {
	if len(seqs) == 0 {
		return nil
	}
	shortest := seqs[0]
	for _, s := range seqs[1:] {
		if len(s) < len(shortest) {
			shortest = s
		}
	}
	var common Parents
	for i := range shortest {
		tag := shortest[i]
		for _, s := range seqs {
			if s[i] != tag {
				return common.Clone()
			}
		}
		common = shortest[:i+1]
	}
	return common.Clone()
}
