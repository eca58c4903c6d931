package container

// tagset is a small set-over-map helper used by the tag index: membership
// and union-of-tags queries.
type tagset map[string]struct{}

func newTagset(tags ...string) tagset {
	s := make(tagset, len(tags))
	for _, t := range tags {
		s[t] = struct{}{}
	}
	return s
}

func (s tagset) has(tag string) bool {
	_, ok := s[tag]
	return ok
}

func (s tagset) add(tag string) { s[tag] = struct{}{} }

func (s tagset) remove(tag string) { delete(s, tag) }

// union reports whether any of tags is present in s: the predicate the
// tag index uses to decide whether a job belongs to a Get(tags, ...) result.
func (s tagset) union(tags []string) bool {
	for _, t := range tags {
		if s.has(t) {
			return true
		}
	}
	return false
}
