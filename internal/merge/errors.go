package merge

import (
	"errors"
	"fmt"
)

// Fatal conditions. Any of these aborts the whole merge run.
var (
	ErrVersionMismatch = errors.New("merge: firmware SDK version mismatch")
	ErrTypeMismatch    = errors.New("merge: incompatible type configuration")
	ErrUnknownType     = errors.New("merge: unknown type value")
	ErrAnchorNotFound  = errors.New("merge: structural anchor not found")
	ErrMarkerNotFound  = errors.New("merge: template marker not found")
	ErrImpulseNotFound = errors.New("merge: impulse not found in variable table")
	ErrBadMacroValue   = errors.New("merge: macro value is not numeric")
)

// IsFatal reports whether err carries one of the fatal merge conditions.
func IsFatal(err error) bool {
	for _, target := range []error{
		ErrVersionMismatch, ErrTypeMismatch, ErrUnknownType,
		ErrAnchorNotFound, ErrMarkerNotFound, ErrImpulseNotFound, ErrBadMacroValue,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// Version is a firmware SDK version as declared by the metadata header.
type Version struct {
	Major, Minor, Patch string
}

func (v Version) String() string {
	part := func(s string) string {
		if s == "" {
			return "?"
		}
		return s
	}
	return part(v.Major) + "." + part(v.Minor) + "." + part(v.Patch)
}

// VersionMismatchError details a failed version gate.
type VersionMismatchError struct {
	Source, Destination Version
}

func (e *VersionMismatchError) Error() string {
	return fmt.Sprintf("merge: firmware SDK version mismatch: source %s, destination %s (rebuild both impulses with the same SDK version)",
		e.Source, e.Destination)
}

// Is makes errors.Is(err, ErrVersionMismatch) hold.
func (e *VersionMismatchError) Is(target error) bool { return target == ErrVersionMismatch }

// TypeMismatchError details two impulses requesting different post-processing
// algorithms of the same category.
type TypeMismatchError struct {
	Macro       string
	Source      string
	Destination string
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("merge: incompatible type configuration for %s: source %s, destination %s",
		e.Macro, e.Source, e.Destination)
}

// Is makes errors.Is(err, ErrTypeMismatch) hold.
func (e *TypeMismatchError) Is(target error) bool { return target == ErrTypeMismatch }
