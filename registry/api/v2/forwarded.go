package v2

import (
	"fmt"
	"strings"
)

// parseForwardedHeader parses the first element of the given Forwarded header
// value (rfc7239) into a map of parameters. It returns the parameter map of
// the first element, the rest of the header value following the first comma,
// and an error if the element is malformed. Parameter names are lowercased;
// values are unquoted when given as quoted-strings.
func parseForwardedHeader(forwarded string) (map[string]string, string, error) {
	params := map[string]string{}

	rest := forwarded
	for {
		rest = strings.TrimLeft(rest, " \t")
		if rest == "" {
			break
		}

		if rest[0] == ',' {
			// end of the first forwarded element
			rest = rest[1:]
			return params, rest, nil
		}

		if len(params) > 0 {
			if rest[0] != ';' {
				return nil, "", fmt.Errorf("unexpected character %q in forwarded header", rest[0])
			}
			rest = strings.TrimLeft(rest[1:], " \t")
		}

		// parameter name up to '='
		eq := strings.IndexByte(rest, '=')
		if eq < 0 {
			return nil, "", fmt.Errorf("missing '=' in forwarded header parameter")
		}
		name := strings.ToLower(strings.TrimRight(rest[:eq], " \t"))
		if name == "" || strings.ContainsAny(name, " \t;,\"") {
			return nil, "", fmt.Errorf("invalid parameter name %q in forwarded header", name)
		}
		rest = strings.TrimLeft(rest[eq+1:], " \t")

		var value string
		if len(rest) > 0 && rest[0] == '"' {
			// quoted-string value
			var b strings.Builder
			i := 1
			closed := false
			for i < len(rest) {
				c := rest[i]
				if c == '\\' && i+1 < len(rest) {
					b.WriteByte(rest[i+1])
					i += 2
					continue
				}
				if c == '"' {
					closed = true
					i++
					break
				}
				b.WriteByte(c)
				i++
			}
			if !closed {
				return nil, "", fmt.Errorf("unterminated quoted string in forwarded header")
			}
			value = b.String()
			rest = rest[i:]
		} else {
			end := strings.IndexAny(rest, " \t;,")
			if end < 0 {
				value = rest
				rest = ""
			} else {
				value = rest[:end]
				rest = rest[end:]
			}
			if value == "" {
				return nil, "", fmt.Errorf("empty value in forwarded header parameter %q", name)
			}
		}

		if _, exists := params[name]; exists {
			return nil, "", fmt.Errorf("duplicate parameter %q in forwarded header", name)
		}
		params[name] = value
	}

	return params, "", nil
}
