// Package targeting decides whether a student is addressed by an assignment.
//
// An assignment is addressed through any number of targets, each naming exactly one class, group
// or student. A student is in scope when at least one target matches; the three addressing modes
// are unioned, never ranked.
package targeting

import (
	"errors"
	"fmt"
	"time"
)

// Kind enumerates the addressing modes of a target.
type Kind string

const (
	KindClass   Kind = "class"
	KindGroup   Kind = "group"
	KindStudent Kind = "student"
)

// ErrIntegrity marks a stored target whose type does not agree with the foreign key that is set.
// It signals corrupted data rather than a bad request.
var ErrIntegrity = errors.New("assignment target integrity violation")

// Target addresses an assignment at a single class, group or student.
// The zero value is invalid; use ClassTarget, GroupTarget or StudentTarget.
type Target struct {
	kind Kind
	id   uint
}

// ClassTarget addresses every actively enrolled student of a class.
func ClassTarget(classID uint) Target { return Target{kind: KindClass, id: classID} }

// GroupTarget addresses every member of a group.
func GroupTarget(groupID uint) Target { return Target{kind: KindGroup, id: groupID} }

// StudentTarget addresses one student directly.
func StudentTarget(studentID uint) Target { return Target{kind: KindStudent, id: studentID} }

// Kind reports the addressing mode.
func (t Target) Kind() Kind { return t.kind }

// ID returns the class, group or student identifier depending on Kind.
func (t Target) ID() uint { return t.id }

// Valid reports whether the target was built through one of the constructors with a non-zero id.
func (t Target) Valid() bool {
	switch t.kind {
	case KindClass, KindGroup, KindStudent:
		return t.id != 0
	default:
		return false
	}
}

func (t Target) String() string {
	return fmt.Sprintf("%s:%d", t.kind, t.id)
}

// Columns flattens the target into the nullable storage columns.
func (t Target) Columns() (classID, groupID, studentID *uint) {
	id := t.id
	switch t.kind {
	case KindClass:
		classID = &id
	case KindGroup:
		groupID = &id
	case KindStudent:
		studentID = &id
	}
	return classID, groupID, studentID
}

// FromColumns rebuilds a target from its storage representation. Exactly one of the identifiers
// must be set and it must agree with targetType.
func FromColumns(targetType string, classID, groupID, studentID *uint) (Target, error) {
	set := 0
	for _, ptr := range []*uint{classID, groupID, studentID} {
		if ptr != nil {
			set++
		}
	}
	if set != 1 {
		return Target{}, fmt.Errorf("%w: %d foreign keys set for type %q", ErrIntegrity, set, targetType)
	}

	var target Target
	switch Kind(targetType) {
	case KindClass:
		if classID == nil {
			return Target{}, fmt.Errorf("%w: class target without class id", ErrIntegrity)
		}
		target = ClassTarget(*classID)
	case KindGroup:
		if groupID == nil {
			return Target{}, fmt.Errorf("%w: group target without group id", ErrIntegrity)
		}
		target = GroupTarget(*groupID)
	case KindStudent:
		if studentID == nil {
			return Target{}, fmt.Errorf("%w: student target without student id", ErrIntegrity)
		}
		target = StudentTarget(*studentID)
	default:
		return Target{}, fmt.Errorf("%w: unknown target type %q", ErrIntegrity, targetType)
	}

	if !target.Valid() {
		return Target{}, fmt.Errorf("%w: zero identifier for %s target", ErrIntegrity, targetType)
	}
	return target, nil
}

// Scope is the set of classes and groups a student currently belongs to.
type Scope struct {
	ClassIDs map[uint]struct{}
	GroupIDs map[uint]struct{}
}

// Enrollment is a class membership record as fetched by the caller.
type Enrollment struct {
	ClassID uint
	Active  bool
}

// ResolveScope builds the scope of a student from its enrollments and group memberships.
// Inactive enrollments (transferred, withdrawn, ...) do not contribute.
func ResolveScope(enrollments []Enrollment, groupIDs []uint) Scope {
	scope := Scope{
		ClassIDs: make(map[uint]struct{}, len(enrollments)),
		GroupIDs: make(map[uint]struct{}, len(groupIDs)),
	}
	for _, enrollment := range enrollments {
		if enrollment.Active && enrollment.ClassID != 0 {
			scope.ClassIDs[enrollment.ClassID] = struct{}{}
		}
	}
	for _, id := range groupIDs {
		if id != 0 {
			scope.GroupIDs[id] = struct{}{}
		}
	}
	return scope
}

// Empty reports whether the student belongs to no class and no group.
func (s Scope) Empty() bool {
	return len(s.ClassIDs) == 0 && len(s.GroupIDs) == 0
}

// ClassIDList returns the class ids as a slice, for building storage queries.
func (s Scope) ClassIDList() []uint { return keys(s.ClassIDs) }

// GroupIDList returns the group ids as a slice, for building storage queries.
func (s Scope) GroupIDList() []uint { return keys(s.GroupIDs) }

// Matches reports whether a single target addresses the student.
func (s Scope) Matches(target Target, studentID uint) bool {
	switch target.kind {
	case KindStudent:
		return studentID != 0 && target.id == studentID
	case KindClass:
		_, ok := s.ClassIDs[target.id]
		return ok
	case KindGroup:
		_, ok := s.GroupIDs[target.id]
		return ok
	default:
		return false
	}
}

// IsTargeted reports whether any of the targets addresses the student.
func IsTargeted(targets []Target, studentID uint, scope Scope) bool {
	for _, target := range targets {
		if scope.Matches(target, studentID) {
			return true
		}
	}
	return false
}

// Addressed pairs a target with the per-target overrides stored alongside it.
type Addressed struct {
	Target  Target
	DueDate *time.Time
	Locked  bool
}

// Matching returns the addressed targets that reach the student, preserving input order.
// A student reached through several targets gets all of them.
func Matching(addressed []Addressed, studentID uint, scope Scope) []Addressed {
	out := make([]Addressed, 0, len(addressed))
	for _, a := range addressed {
		if scope.Matches(a.Target, studentID) {
			out = append(out, a)
		}
	}
	return out
}

// EffectiveDueDate returns the latest due-date override among the matching unlocked targets,
// falling back to the assignment's own due date.
func EffectiveDueDate(assignmentDue time.Time, matching []Addressed) time.Time {
	due := assignmentDue
	overridden := false
	for _, a := range matching {
		if a.Locked || a.DueDate == nil {
			continue
		}
		if !overridden || a.DueDate.After(due) {
			due = *a.DueDate
			overridden = true
		}
	}
	return due
}

// AllLocked reports whether every matching target is locked. An empty slice is not locked.
func AllLocked(matching []Addressed) bool {
	if len(matching) == 0 {
		return false
	}
	for _, a := range matching {
		if !a.Locked {
			return false
		}
	}
	return true
}

func keys(set map[uint]struct{}) []uint {
	out := make([]uint, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}
