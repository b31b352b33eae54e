package extract

import "strings"

// formulaPrefixes are the leading characters spreadsheet tools evaluate.
const formulaPrefixes = "+-=@\t"

// CSVSafe prefixes values that a spreadsheet would treat as a formula with a
// single quote. All other values are returned unchanged.
func CSVSafe(value string) string {
	if value == "" || !strings.ContainsRune(formulaPrefixes, rune(value[0])) {
		return value
	}
	return "'" + value
}

// normalizeSpace collapses whitespace runs to one space and trims the ends.
func normalizeSpace(value string) string {
	return strings.Join(strings.Fields(value), " ")
}
