package domain

// Branch is a company branch (department) owning by-branch data.
type Branch struct {
	Ref    string `json:"ref"`
	Suffix string `json:"suffix"`
	Name   string `json:"name,omitempty"`
	Parent string `json:"parent,omitempty"`
}

// Empty reports whether the branch is the empty reference.
func (b Branch) Empty() bool {
	return IsEmptyRef(b.Ref)
}

// BranchFromRecord maps a "cat.branches" record.
func BranchFromRecord(r Record) Branch {
	return Branch{
		Ref:    r.Ref(),
		Suffix: r.String("suffix"),
		Name:   r.String("name"),
		Parent: r.String("parent"),
	}
}

// Principal is the authentication outcome for one request.
type Principal struct {
	User          string
	Branch        Branch
	Authenticated bool
}
