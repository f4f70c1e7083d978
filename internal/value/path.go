package value

import (
	"fmt"
	"strconv"
	"strings"
)

// Path addresses a node in the case file tree. The textual form uses
// slash-separated names with optional array indexes:
//
//	"Customer"
//	"Customer/Orders"
//	"Customer/Orders[2]"
//
// An index of -1 means "the container itself" rather than one element.
type Path struct {
	parts []PathPart
}

// PathPart is one step in a Path.
type PathPart struct {
	Name  string
	Index int // -1 when no index was given
}

// ParsePath parses the textual form. An empty string yields the root
// path (zero parts).
func ParsePath(s string) (Path, error) {
	s = strings.Trim(s, "/")
	if s == "" {
		return Path{}, nil
	}
	segments := strings.Split(s, "/")
	parts := make([]PathPart, 0, len(segments))
	for _, seg := range segments {
		if seg == "" {
			return Path{}, fmt.Errorf("empty path segment in %q", s)
		}
		part := PathPart{Name: seg, Index: -1}
		if open := strings.IndexByte(seg, '['); open >= 0 {
			if !strings.HasSuffix(seg, "]") {
				return Path{}, fmt.Errorf("malformed index in path segment %q", seg)
			}
			idx, err := strconv.Atoi(seg[open+1 : len(seg)-1])
			if err != nil || idx < 0 {
				return Path{}, fmt.Errorf("malformed index in path segment %q", seg)
			}
			part.Name = seg[:open]
			part.Index = idx
			if part.Name == "" {
				return Path{}, fmt.Errorf("missing name in path segment %q", seg)
			}
		}
		parts = append(parts, part)
	}
	return Path{parts: parts}, nil
}

// MustParsePath is ParsePath that panics on error. For tests and
// compile-time-constant paths.
func MustParsePath(s string) Path {
	p, err := ParsePath(s)
	if err != nil {
		panic(err)
	}
	return p
}

// Parts returns the path steps in order.
func (p Path) Parts() []PathPart {
	return p.parts
}

// IsRoot reports whether the path has no steps.
func (p Path) IsRoot() bool {
	return len(p.parts) == 0
}

// Name returns the final step's name, or "" for the root.
func (p Path) Name() string {
	if len(p.parts) == 0 {
		return ""
	}
	return p.parts[len(p.parts)-1].Name
}

// Index returns the final step's array index, -1 when the final step
// carries none (and for the root).
func (p Path) Index() int {
	if len(p.parts) == 0 {
		return -1
	}
	return p.parts[len(p.parts)-1].Index
}

// Parent returns the path without its final step.
func (p Path) Parent() Path {
	if len(p.parts) == 0 {
		return p
	}
	return Path{parts: p.parts[:len(p.parts)-1]}
}

// Child returns the path extended with one unindexed step.
func (p Path) Child(name string) Path {
	parts := make([]PathPart, len(p.parts), len(p.parts)+1)
	copy(parts, p.parts)
	return Path{parts: append(parts, PathPart{Name: name, Index: -1})}
}

// WithIndex returns a copy of the path whose final step carries the
// given array index.
func (p Path) WithIndex(index int) Path {
	if len(p.parts) == 0 {
		return p
	}
	parts := make([]PathPart, len(p.parts))
	copy(parts, p.parts)
	parts[len(parts)-1].Index = index
	return Path{parts: parts}
}

// String renders the textual form.
func (p Path) String() string {
	var b strings.Builder
	for i, part := range p.parts {
		if i > 0 {
			b.WriteByte('/')
		}
		b.WriteString(part.Name)
		if part.Index >= 0 {
			fmt.Fprintf(&b, "[%d]", part.Index)
		}
	}
	return b.String()
}
