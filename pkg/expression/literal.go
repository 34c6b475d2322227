package expression

import (
	"strconv"
	"strings"
)

// Coerce turns literal text into a typed value: integers, floats, booleans and null.
// Text starting with a minus sign is left as a string; it is too often an identifier,
// a date fragment or a flag rather than a negative number.
func Coerce(s string) any {
	text := strings.TrimSpace(s)
	switch text {
	case "":
		return s
	case "true", "True":
		return true
	case "false", "False":
		return false
	case "null", "None":
		return nil
	}
	if text[0] < '0' || text[0] > '9' {
		return s
	}
	if i, err := strconv.ParseInt(text, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(text, 64); err == nil {
		return f
	}
	return s
}
