package domain

// FormulaType tags a Formula node.
type FormulaType string

const (
	FormulaGroup FormulaType = "group"
	FormulaAnd   FormulaType = "and"
	FormulaOr    FormulaType = "or"
)

// Formula is a boolean expression over group completion flags. A "group" node
// carries GroupID; "and"/"or" nodes carry both Left and Right.
type Formula struct {
	Type    FormulaType `json:"type" yaml:"type"`
	GroupID string      `json:"groupId,omitempty" yaml:"groupId,omitempty"`
	Left    *Formula    `json:"left,omitempty" yaml:"left,omitempty"`
	Right   *Formula    `json:"right,omitempty" yaml:"right,omitempty"`
}

func GroupRef(groupID string) *Formula {
	return &Formula{Type: FormulaGroup, GroupID: groupID}
}

func And(left, right *Formula) *Formula {
	return &Formula{Type: FormulaAnd, Left: left, Right: right}
}

func Or(left, right *Formula) *Formula {
	return &Formula{Type: FormulaOr, Left: left, Right: right}
}

// Clone deep-copies the tree. A nil formula clones to nil.
func (f *Formula) Clone() *Formula {
	if f == nil {
		return nil
	}
	out := *f
	out.Left = f.Left.Clone()
	out.Right = f.Right.Clone()
	return &out
}

// GroupRefs lists referenced group ids in left-to-right order, duplicates included.
func (f *Formula) GroupRefs() []string {
	if f == nil {
		return nil
	}
	if f.Type == FormulaGroup {
		return []string{f.GroupID}
	}
	return append(f.Left.GroupRefs(), f.Right.GroupRefs()...)
}
