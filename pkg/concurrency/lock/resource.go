package lock

import (
	"slices"
	"strings"
)

// ResourceName identifies a node in the resource hierarchy as an ordered,
// non-empty path of segments, e.g. database/users/3 for page 3 of the users
// table. ResourceNames are immutable values: Child returns a new name and
// never aliases the receiver's backing array.
type ResourceName struct {
	segments []string
}

func NewResourceName(segments ...string) ResourceName {
	return ResourceName{segments: slices.Clone(segments)}
}

// Child returns the name of this resource's child with the given segment.
func (n ResourceName) Child(segment string) ResourceName {
	child := make([]string, 0, len(n.segments)+1)
	child = append(child, n.segments...)
	child = append(child, segment)
	return ResourceName{segments: child}
}

// Parent returns the name of this resource's parent, or false for a
// top-level name.
func (n ResourceName) Parent() (ResourceName, bool) {
	if len(n.segments) <= 1 {
		return ResourceName{}, false
	}
	return ResourceName{segments: n.segments[:len(n.segments)-1]}, true
}

// Segments returns a copy of the path segments.
func (n ResourceName) Segments() []string {
	return slices.Clone(n.segments)
}

// Equals reports structural equality of the two paths.
func (n ResourceName) Equals(other ResourceName) bool {
	return slices.Equal(n.segments, other.segments)
}

// IsDescendantOf reports whether other's segments are a strict prefix of
// this name's segments.
func (n ResourceName) IsDescendantOf(other ResourceName) bool {
	if len(n.segments) <= len(other.segments) {
		return false
	}
	return slices.Equal(n.segments[:len(other.segments)], other.segments)
}

func (n ResourceName) String() string {
	return strings.Join(n.segments, "/")
}
