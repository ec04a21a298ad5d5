package utils

// Set implements a set for the E type using the underlying `map[E]struct{}`.
type Set[E comparable] map[E]struct{}

// MakeSet returns an empty Set of the given type. The optional size is used
// as capacity hint.
func MakeSet[E comparable](size ...int) Set[E] {
	if len(size) == 0 {
		return make(Set[E])
	}
	return make(Set[E], size[0])
}

// SetWith creates a Set[E] with the given elements inserted.
func SetWith[E comparable](elements ...E) Set[E] {
	s := MakeSet[E](len(elements))
	s.Insert(elements...)
	return s
}

// Has returns true if the Set has the given element.
func (s Set[E]) Has(element E) bool {
	_, found := s[element]
	return found
}

// Insert elements into the set.
func (s Set[E]) Insert(elements ...E) {
	for _, element := range elements {
		s[element] = struct{}{}
	}
}

// Sub returns `s - s2`: the elements in s that are not in s2.
func (s Set[E]) Sub(s2 Set[E]) Set[E] {
	sub := MakeSet[E](len(s))
	for element := range s {
		if !s2.Has(element) {
			sub.Insert(element)
		}
	}
	return sub
}

// Equal returns whether the two sets have exactly the same elements.
func (s Set[E]) Equal(s2 Set[E]) bool {
	if len(s) != len(s2) {
		return false
	}
	for element := range s {
		if !s2.Has(element) {
			return false
		}
	}
	return true
}
