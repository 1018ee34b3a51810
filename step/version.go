package step

import (
	"github.com/hashicorp/go-version"
	"github.com/pkg/errors"
)

// ParseVersion parses dotted module versions such as 10.0.1.3
func ParseVersion(v string) (*version.Version, error) {
	if v == "" {
		return nil, errors.Wrap(ErrInvalidVersion, "version must not be empty")
	}

	parsed, err := version.NewVersion(v)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidVersion, "[%s]: %s", v, err.Error())
	}

	return parsed, nil
}

// SameVersion compares two version strings numerically, so that 9.0.1 and
// 9.0.1.0 are the same version. Unparsable versions never match.
func SameVersion(a, b string) bool {
	va, err := ParseVersion(a)
	if err != nil {
		return false
	}

	vb, err := ParseVersion(b)
	if err != nil {
		return false
	}

	return va.Equal(vb)
}

func compareVersions(a, b string) int {
	va, errA := ParseVersion(a)
	vb, errB := ParseVersion(b)
	if errA != nil || errB != nil {
		switch {
		case a < b:
			return -1
		case a > b:
			return 1
		}
		return 0
	}

	return va.Compare(vb)
}
