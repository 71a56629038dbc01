package story

// Set is an ordered collection of stories indexed by ID. It owns the
// identity of its members: Get always returns the pointer that was added.
type Set struct {
	items []*Story
	index map[ID]*Story
}

// NewSet builds a set from stories. Later stories with an ID already present
// are ignored.
func NewSet(stories ...*Story) *Set {
	set := &Set{index: make(map[ID]*Story, len(stories))}

	for _, s := range stories {
		set.Add(s)
	}

	return set
}

// Add appends s unless a story with the same ID is already present.
// Returns false if s was not added.
func (set *Set) Add(s *Story) bool {
	if s == nil {
		return false
	}

	if _, exists := set.index[s.ID]; exists {
		return false
	}

	set.items = append(set.items, s)
	set.index[s.ID] = s

	return true
}

// Get returns the story with the given ID.
func (set *Set) Get(id ID) (*Story, bool) {
	s, ok := set.index[id]

	return s, ok
}

// Has reports whether a story with the given ID is present.
func (set *Set) Has(id ID) bool {
	_, ok := set.index[id]

	return ok
}

// Len returns the number of stories.
func (set *Set) Len() int {
	return len(set.items)
}

// Stories returns the members in insertion order. The slice is a copy; the
// stories are not.
func (set *Set) Stories() []*Story {
	out := make([]*Story, len(set.items))
	copy(out, set.items)

	return out
}

// Filter returns the members for which keep returns true, in order.
func (set *Set) Filter(keep func(*Story) bool) []*Story {
	var out []*Story

	for _, s := range set.items {
		if keep(s) {
			out = append(out, s)
		}
	}

	return out
}

// BlockersOf returns the stories blocking s that are members of the set.
func (set *Set) BlockersOf(s *Story) []*Story {
	var out []*Story

	for _, b := range s.Blockers {
		if !b.Resolved {
			continue
		}

		if blocker, ok := set.index[b.StoryID]; ok {
			out = append(out, blocker)
		}
	}

	return out
}

// link marks every blocker record whose story is a member as resolved.
func (set *Set) link() {
	for _, s := range set.items {
		for i := range s.Blockers {
			b := &s.Blockers[i]
			b.Resolved = b.StoryID != 0 && set.Has(b.StoryID)
		}
	}
}
