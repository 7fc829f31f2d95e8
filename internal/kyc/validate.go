package kyc

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/pezkuwi/pezkuwi_wallet/internal/apperr"
)

const minNameRunes = 2

// Validate checks required fields before anything is hashed or stored.
// Missing fields yield ErrIncompleteForm, malformed ones ErrInvalidForm.
func Validate(f Form) error {
	var missing, invalid []string

	names := []struct {
		field    string
		value    string
		required bool
	}{
		{"fullName", f.FullName, true},
		{"fatherName", f.FatherName, true},
		{"motherName", f.MotherName, true},
		{"grandfatherName", f.GrandfatherName, false},
		{"greatGrandfatherName", f.GreatGrandfatherName, false},
	}
	for _, n := range names {
		v := strings.TrimSpace(n.value)
		switch {
		case v == "" && n.required:
			missing = append(missing, n.field)
		case v != "" && utf8.RuneCountInString(v) < minNameRunes:
			invalid = append(invalid, n.field)
		}
	}

	switch {
	case f.Region == "":
		missing = append(missing, "region")
	case !f.Region.Valid():
		invalid = append(invalid, "region")
	}

	spouse := strings.TrimSpace(f.SpouseName)
	switch f.MaritalStatus {
	case "":
		missing = append(missing, "maritalStatus")
	case Married:
		if spouse == "" {
			missing = append(missing, "spouseName")
		} else if utf8.RuneCountInString(spouse) < minNameRunes {
			invalid = append(invalid, "spouseName")
		}
	case Single:
		if spouse != "" {
			invalid = append(invalid, "spouseName")
		}
	default:
		invalid = append(invalid, "maritalStatus")
	}

	orders := make(map[int]bool, len(f.Children))
	for i, c := range f.Children {
		if strings.TrimSpace(c.Name) == "" {
			missing = append(missing, fmt.Sprintf("children[%d].name", i))
		}
		if c.Order < 1 || orders[c.Order] {
			invalid = append(invalid, fmt.Sprintf("children[%d].order", i))
		}
		orders[c.Order] = true
	}
	if f.NumberOfChildren != nil && *f.NumberOfChildren != len(f.Children) {
		invalid = append(invalid, "numberOfChildren")
	}

	if len(missing) > 0 {
		return apperr.Wrapf(ErrIncompleteForm, nil, "missing %s", strings.Join(missing, ", "))
	}
	if len(invalid) > 0 {
		return apperr.Wrapf(ErrInvalidForm, nil, "invalid %s", strings.Join(invalid, ", "))
	}
	return nil
}
