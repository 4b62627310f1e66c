package storage

import "strings"

// likeEscaper escapes LIKE wildcards so queries match literally. Used with ESCAPE '\'.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// SubstringPattern returns the LIKE pattern matching the folded query anywhere.
func SubstringPattern(query string) string {
	return "%" + likeEscaper.Replace(Fold(query)) + "%"
}
