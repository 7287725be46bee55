package transform

import (
	"strconv"
	"strings"
)

var monthNames = map[string]int{
	"jan": 1, "january": 1,
	"feb": 2, "february": 2,
	"mar": 3, "march": 3,
	"apr": 4, "april": 4,
	"may": 5,
	"jun": 6, "june": 6,
	"jul": 7, "july": 7,
	"aug": 8, "august": 8,
	"sep": 9, "september": 9,
	"oct": 10, "october": 10,
	"nov": 11, "november": 11,
	"dec": 12, "december": 12,
}

// NormalizeMonth maps a 1-12 numeral or a case-insensitive English month
// name or abbreviation to its number. Anything else is nil.
func NormalizeMonth(month string) *int {
	month = strings.TrimSpace(month)
	if month == "" {
		return nil
	}
	if m, err := strconv.Atoi(month); err == nil {
		if m < 1 || m > 12 {
			return nil
		}
		return &m
	}
	if m, ok := monthNames[strings.ToLower(month)]; ok {
		return &m
	}
	return nil
}

// extractYearFromMedlineDate reads the leading year of a MedlineDate such as
// "2020 Jan-Feb", "2020 Spring" or "2020-2021".
func extractYearFromMedlineDate(medlineDate string) *int {
	parts := strings.Fields(medlineDate)
	if len(parts) == 0 {
		return nil
	}
	return parseInt(strings.Split(parts[0], "-")[0])
}

func parseInt(s string) *int {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return nil
	}
	return &v
}

func optionalString(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func firstNonBlank(values []string) *string {
	for _, v := range values {
		if s := optionalString(v); s != nil {
			return s
		}
	}
	return nil
}
