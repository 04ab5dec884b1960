package crawler

import "fmt"

// Role is the tier a note occupies within a cologne.
type Role string

// Closed set of note roles.
const (
	RoleTop     Role = "top"
	RoleMiddle  Role = "middle"
	RoleBase    Role = "base"
	RoleGeneral Role = "general"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleTop, RoleMiddle, RoleBase, RoleGeneral:
		return true
	}
	return false
}

// NoteEntry is one note name with the role it plays on a page.
type NoteEntry struct {
	Name string
	Role Role
}

// NoteLayout is the note section of a cologne page. It is either FlatNotes
// or PyramidNotes; a page without a note section has a nil layout.
type NoteLayout interface {
	// Entries flattens the layout into role-tagged note names in page order.
	Entries() []NoteEntry
	isNoteLayout()
}

// FlatNotes is the "Fragrance Notes" layout: one undifferentiated list.
type FlatNotes struct {
	Notes []string
}

// Entries implements NoteLayout.
func (f FlatNotes) Entries() []NoteEntry {
	out := make([]NoteEntry, 0, len(f.Notes))
	for _, n := range f.Notes {
		out = append(out, NoteEntry{Name: n, Role: RoleGeneral})
	}
	return out
}

func (FlatNotes) isNoteLayout() {}

// PyramidNotes is the "Perfume Pyramid" layout. Each tier may be empty.
type PyramidNotes struct {
	Top    []string
	Middle []string
	Base   []string
}

// Entries implements NoteLayout.
func (p PyramidNotes) Entries() []NoteEntry {
	out := make([]NoteEntry, 0, len(p.Top)+len(p.Middle)+len(p.Base))
	for _, n := range p.Top {
		out = append(out, NoteEntry{Name: n, Role: RoleTop})
	}
	for _, n := range p.Middle {
		out = append(out, NoteEntry{Name: n, Role: RoleMiddle})
	}
	for _, n := range p.Base {
		out = append(out, NoteEntry{Name: n, Role: RoleBase})
	}
	return out
}

func (PyramidNotes) isNoteLayout() {}

// VoteCells is the number of numeric cells the vote table must contain.
const VoteCells = 19

// Longevity buckets.
type Longevity struct {
	VeryWeak    int `json:"very_weak"`
	Weak        int `json:"weak"`
	Moderate    int `json:"moderate"`
	LongLasting int `json:"long_lasting"`
	Eternal     int `json:"eternal"`
}

// Sillage buckets.
type Sillage struct {
	Intimate int `json:"intimate"`
	Moderate int `json:"moderate"`
	Strong   int `json:"strong"`
	Enormous int `json:"enormous"`
}

// Gender buckets.
type Gender struct {
	Female     int `json:"female"`
	MoreFemale int `json:"more_female"`
	Unisex     int `json:"unisex"`
	MoreMale   int `json:"more_male"`
	Male       int `json:"male"`
}

// PriceValue buckets.
type PriceValue struct {
	WayOverpriced int `json:"way_overpriced"`
	Overpriced    int `json:"overpriced"`
	OK            int `json:"ok"`
	GoodValue     int `json:"good_value"`
	GreatValue    int `json:"great_value"`
}

// VoteTable is the structured form of the 19-cell vote grid.
type VoteTable struct {
	Longevity  Longevity  `json:"longevity"`
	Sillage    Sillage    `json:"sillage"`
	Gender     Gender     `json:"gender"`
	PriceValue PriceValue `json:"price_value"`
}

// NewVoteTable maps the positional cells onto named counters. Negative
// values are clamped to zero.
func NewVoteTable(cells []int) (VoteTable, error) {
	if len(cells) < VoteCells {
		return VoteTable{}, fmt.Errorf("%w: got %d cells, need %d", ErrVoteTableShort, len(cells), VoteCells)
	}
	c := make([]int, VoteCells)
	for i := range c {
		c[i] = max(cells[i], 0)
	}
	return VoteTable{
		Longevity:  Longevity{VeryWeak: c[0], Weak: c[1], Moderate: c[2], LongLasting: c[3], Eternal: c[4]},
		Sillage:    Sillage{Intimate: c[5], Moderate: c[6], Strong: c[7], Enormous: c[8]},
		Gender:     Gender{Female: c[9], MoreFemale: c[10], Unisex: c[11], MoreMale: c[12], Male: c[13]},
		PriceValue: PriceValue{WayOverpriced: c[14], Overpriced: c[15], OK: c[16], GoodValue: c[17], GreatValue: c[18]},
	}, nil
}

// Cells returns the counters back in positional order.
func (v VoteTable) Cells() []int {
	return []int{
		v.Longevity.VeryWeak, v.Longevity.Weak, v.Longevity.Moderate, v.Longevity.LongLasting, v.Longevity.Eternal,
		v.Sillage.Intimate, v.Sillage.Moderate, v.Sillage.Strong, v.Sillage.Enormous,
		v.Gender.Female, v.Gender.MoreFemale, v.Gender.Unisex, v.Gender.MoreMale, v.Gender.Male,
		v.PriceValue.WayOverpriced, v.PriceValue.Overpriced, v.PriceValue.OK, v.PriceValue.GoodValue, v.PriceValue.GreatValue,
	}
}

// NoteCandidate is a parsed note page awaiting persistence.
type NoteCandidate struct {
	Name        string
	Group       string
	Description string
	URL         string
}

// CologneCandidate is a parsed cologne page awaiting persistence.
type CologneCandidate struct {
	Name       string
	Brand      string
	LaunchYear *int
	Accords    []string
	Notes      NoteLayout
	Votes      VoteTable
	URL        string
}

// Candidate holds exactly one of the two candidate kinds.
type Candidate struct {
	Note    *NoteCandidate
	Cologne *CologneCandidate
}

// Note is a persisted note row.
type Note struct {
	ID          int64
	Name        string
	Group       string
	Description string
	URL         string
}

// Cologne is a persisted cologne row.
type Cologne struct {
	ID         int64
	Name       string
	Brand      string
	LaunchYear *int
	Accords    []string
	Votes      VoteTable
	URL        string
}

// CologneNote links a cologne to a note under a role.
type CologneNote struct {
	CologneID int64
	NoteID    int64
	Role      Role
}
