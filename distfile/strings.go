package distfile

import "strings"

// ParseStrings parses a .strings-format table into a flat key/value map:
//
//	"KEY1" = "VALUE1";
//	"KEY2"='VALUE2';
//	"KEY3" = 'A value
//	that spans
//	multiple lines.
//	';
//
// Keys and values may each independently use single or double quotes; the
// closing quote must match the opening quote for that field. Values may span
// lines and may contain the quote character escaped with a backslash. The
// alternative quote character is allowed literally. //-style comments and
// blank lines outside values are skipped. Entries that do not terminate
// with quote-semicolon at end of line are ignored.
func ParseStrings(s string) map[string]string {
	parsed := make(map[string]string)

	i := 0
	for i < len(s) {
		i = skipSpace(s, i)
		if i >= len(s) {
			break
		}

		// Comment line
		if strings.HasPrefix(s[i:], "//") {
			i = skipLine(s, i)
			continue
		}

		key, next, ok := scanKey(s, i)
		if !ok {
			i = skipLine(s, i)
			continue
		}
		i = skipSpace(s, next)

		if i >= len(s) || s[i] != '=' {
			i = skipLine(s, i)
			continue
		}
		i = skipSpace(s, i+1)

		value, next, ok := scanValue(s, i)
		if !ok {
			i = skipLine(s, i)
			continue
		}
		i = next

		if key != "" {
			parsed[key] = value
		}
	}

	return parsed
}

func skipSpace(s string, i int) int {
	for i < len(s) && (s[i] == ' ' || s[i] == '\t' || s[i] == '\n' || s[i] == '\r') {
		i++
	}
	return i
}

func skipLine(s string, i int) int {
	for i < len(s) && s[i] != '\n' {
		i++
	}
	if i < len(s) {
		i++
	}
	return i
}

// scanKey reads a key, quoted with either quote character or bare. A bare
// key runs to the = sign and is trimmed.
func scanKey(s string, i int) (key string, next int, ok bool) {
	if i >= len(s) {
		return "", i, false
	}

	if quote := s[i]; quote == '"' || quote == '\'' {
		end := strings.IndexByte(s[i+1:], quote)
		if end < 0 {
			return "", i, false
		}
		return s[i+1 : i+1+end], i + 1 + end + 1, true
	}

	end := strings.IndexByte(s[i:], '=')
	if end < 0 {
		return "", i, false
	}
	key = strings.TrimSpace(s[i : i+end])
	if key == "" || strings.ContainsAny(key, "\"'\n") {
		return "", i, false
	}
	return key, i + end, true
}

// scanValue reads a quoted value terminated by its opening quote followed by
// a semicolon at end of line. Backslash-escaped quote characters inside the
// value are un-escaped.
func scanValue(s string, i int) (value string, next int, ok bool) {
	if i >= len(s) {
		return "", i, false
	}
	quote := s[i]
	if quote != '"' && quote != '\'' {
		return "", i, false
	}

	for j := i + 1; j < len(s); j++ {
		if s[j] != quote {
			continue
		}
		// Terminator is quote + ';' at end of line
		if j+1 >= len(s) || s[j+1] != ';' {
			continue
		}
		if j+2 < len(s) && s[j+2] != '\n' && s[j+2] != '\r' {
			continue
		}
		raw := s[i+1 : j]
		value = strings.ReplaceAll(raw, `\`+string(quote), string(quote))
		return value, j + 2, true
	}
	return "", i, false
}
