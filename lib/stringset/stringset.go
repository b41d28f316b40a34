package stringset

import "sort"

// StringSet is a set of strings.
type StringSet map[string]struct{}

// New builds a set from elems.
func New(elems ...string) StringSet {
	set := make(StringSet, len(elems))
	set.Add(elems...)
	return set
}

// Add inserts elems into the set.
func (set StringSet) Add(elems ...string) {
	for _, str := range elems {
		set[str] = struct{}{}
	}
}

// Len returns the set size.
func (set StringSet) Len() int {
	return len(set)
}

// Contains checks if the set includes str.
func (set StringSet) Contains(str string) bool {
	_, ok := set[str]
	return ok
}

// Sorted returns the set contents in lexical order.
func (set StringSet) Sorted() []string {
	if set.Len() == 0 {
		return nil
	}
	result := make([]string, 0, set.Len())
	for str := range set {
		result = append(result, str)
	}
	sort.Strings(result)
	return result
}
