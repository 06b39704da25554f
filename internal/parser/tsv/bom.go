package tsv

import "strings"

const utf8BOM = "\uFEFF"

// stripBOM removes a UTF-8 BOM from the start of the first physical line.
func stripBOM(line string) string {
	return strings.TrimPrefix(line, utf8BOM)
}
