package models

import (
	"fmt"
	"regexp"
)

var schoolYearPattern = regexp.MustCompile(`^(\d{2})[_/](\d{2})$`)

// SchoolYear partitions all reconciliation state. The zero value is invalid.
type SchoolYear struct {
	start string
	end   string
}

// ParseSchoolYear accepts both the storage form ("24_25") and the display form ("24/25").
func ParseSchoolYear(raw string) (SchoolYear, error) {
	m := schoolYearPattern.FindStringSubmatch(raw)
	if m == nil {
		return SchoolYear{}, fmt.Errorf("invalid school year %q", raw)
	}
	return SchoolYear{start: m[1], end: m[2]}, nil
}

// MustSchoolYear parses raw and panics on malformed input.
func MustSchoolYear(raw string) SchoolYear {
	sy, err := ParseSchoolYear(raw)
	if err != nil {
		panic(err)
	}
	return sy
}

// Path returns the underscore form used in store paths.
func (s SchoolYear) Path() string {
	return s.start + "_" + s.end
}

// Display returns the slash form used in cached and rendered fields.
func (s SchoolYear) Display() string {
	return s.start + "/" + s.end
}

// IsZero reports whether the school year was never parsed.
func (s SchoolYear) IsZero() bool {
	return s.start == "" && s.end == ""
}

// Matches reports whether raw, in either form, names this school year.
func (s SchoolYear) Matches(raw string) bool {
	other, err := ParseSchoolYear(raw)
	if err != nil {
		return false
	}
	return other == s
}

func (s SchoolYear) String() string {
	return s.Display()
}
