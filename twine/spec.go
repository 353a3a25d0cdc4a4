package twine

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// SpecName is the leading component of every specification string.
const SpecName = "twine"

// SpecVersion is the version new blocks declare.
const SpecVersion = "2.0.0"

// DefaultSpec is the specification string of blocks built without a subspec.
const DefaultSpec = SpecName + "/" + SpecVersion

// Specification is the parsed "v" field of a block:
//
//	twine/<semver>[/<subspec>/<semver>]
//
// The twine version must be 2.x. A subspec names an application format
// layered on top, versioned independently.
type Specification struct {
	version    *semver.Version
	subspec    string
	subVersion *semver.Version
}

// ParseSpecification parses and validates s.
func ParseSpecification(s string) (Specification, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 2 && len(parts) != 4 {
		return Specification{}, NewError(KindParse, "specification %q: expected twine/<version>[/<name>/<version>]", s)
	}
	if parts[0] != SpecName {
		return Specification{}, NewError(KindParse, "specification %q: must start with %q", s, SpecName)
	}
	v, err := semver.StrictNewVersion(parts[1])
	if err != nil {
		return Specification{}, WrapError(KindParse, fmt.Sprintf("specification %q", s), err)
	}
	if v.Major() != 2 {
		return Specification{}, NewError(KindInvalidTwineFormat, "specification %q: unsupported major version %d", s, v.Major())
	}
	spec := Specification{version: v}
	if len(parts) == 4 {
		if parts[2] == "" {
			return Specification{}, NewError(KindParse, "specification %q: empty subspec name", s)
		}
		sv, err := semver.StrictNewVersion(parts[3])
		if err != nil {
			return Specification{}, WrapError(KindParse, fmt.Sprintf("specification %q: subspec", s), err)
		}
		spec.subspec = parts[2]
		spec.subVersion = sv
	}
	return spec, nil
}

// NewSpecification returns the current twine specification, optionally
// extended with a subspec ("" for none).
func NewSpecification(subspec, subVersion string) (Specification, error) {
	if subspec == "" {
		return ParseSpecification(DefaultSpec)
	}
	return ParseSpecification(DefaultSpec + "/" + subspec + "/" + subVersion)
}

func (s Specification) String() string {
	if s.version == nil {
		return ""
	}
	out := SpecName + "/" + s.version.String()
	if s.subspec != "" {
		out += "/" + s.subspec + "/" + s.subVersion.String()
	}
	return out
}

// Version is the twine version.
func (s Specification) Version() *semver.Version { return s.version }

// Subspec returns the subspec name and version, if any.
func (s Specification) Subspec() (string, *semver.Version, bool) {
	return s.subspec, s.subVersion, s.subspec != ""
}

// Satisfies checks the twine version against a semver constraint such as
// "^2.0" or ">= 2.1, < 3".
func (s Specification) Satisfies(constraint string) (bool, error) {
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return false, WrapError(KindParse, "constraint", err)
	}
	return s.version != nil && c.Check(s.version), nil
}

// SubspecSatisfies checks the subspec name and version. It is false when the
// block carries no subspec or a different one.
func (s Specification) SubspecSatisfies(name, constraint string) (bool, error) {
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return false, WrapError(KindParse, "constraint", err)
	}
	return s.subspec == name && s.subVersion != nil && c.Check(s.subVersion), nil
}
