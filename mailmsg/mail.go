package mailmsg

import (
	"strings"

	"gosmtpd/protocol"
)

// Header is one parsed header field. Raw preserves the spelling the client
// sent (used when Name is HeaderUnknown); Name resolves to a known variant
// when the spelling matches one of the canonical names case-insensitively.
type Header struct {
	Name  HeaderName
	Raw   string
	Value string
}

// Mail is a fully reassembled message: an ordered list of headers (order of
// appearance on the wire, duplicates preserved) plus an opaque body. Body
// lines end in LF rather than CRLF; otherwise the body is kept as sent, and
// this module does not decode MIME content.
type Mail struct {
	Headers []Header
	Body    []byte
}

// Get returns the value of the first header matching name, and whether one
// was found.
func (m *Mail) Get(name HeaderName) (string, bool) {
	for _, h := range m.Headers {
		if h.Name == name {
			return h.Value, true
		}
	}
	return "", false
}

// GetRaw returns the value of the first header whose raw spelling matches
// rawName case-insensitively — useful for headers this module doesn't
// canonicalise.
func (m *Mail) GetRaw(rawName string) (string, bool) {
	for _, h := range m.Headers {
		if strings.EqualFold(h.Raw, rawName) {
			return h.Value, true
		}
	}
	return "", false
}

// ParseMail reassembles a Mail from the DATA payload with the terminating
// "\r\n.\r\n" sentinel already stripped by the session loop (§4.3).
//
// Lines are split on LF; a blank line (or lone CR) ends the header section.
// A continuation line (leading SP or HTAB) folds into the previous header's
// value. Otherwise the line splits on the first colon; the value is trimmed
// and internal whitespace runs collapse to a single space. An unterminated
// header section (no blank line before EOF) is a parse error. Body lines
// lose a trailing CR and are rejoined with LF.
func ParseMail(data []byte) (*Mail, error) {
	lines := strings.Split(string(data), "\n")

	var headers []Header
	bodyStart := -1

	for i, line := range lines {
		trimmed := strings.TrimRight(line, "\r")
		if trimmed == "" {
			bodyStart = i + 1
			break
		}

		if len(trimmed) > 0 && (trimmed[0] == ' ' || trimmed[0] == '\t') {
			if len(headers) == 0 {
				return nil, protocol.NewParseError("mail: continuation line before any header")
			}
			last := &headers[len(headers)-1]
			last.Value = collapseSpace(last.Value + " " + strings.TrimSpace(trimmed))
			continue
		}

		colon := strings.IndexByte(trimmed, ':')
		if colon < 0 {
			return nil, protocol.NewParseError("mail: malformed header line: " + trimmed)
		}
		rawName := strings.TrimSpace(trimmed[:colon])
		value := collapseSpace(strings.TrimSpace(trimmed[colon+1:]))

		name := HeaderUnknown
		if n, ok := canonicalNames[strings.ToLower(rawName)]; ok {
			name = n
		}
		headers = append(headers, Header{Name: name, Raw: rawName, Value: value})
	}

	if bodyStart == -1 {
		return nil, protocol.NewParseError("mail: unterminated header section")
	}

	bodyLines := lines[bodyStart:]
	for i, line := range bodyLines {
		bodyLines[i] = strings.TrimSuffix(line, "\r")
	}
	body := strings.Join(bodyLines, "\n")
	return &Mail{Headers: headers, Body: []byte(body)}, nil
}

func collapseSpace(s string) string {
	fields := strings.Fields(s)
	return strings.Join(fields, " ")
}
