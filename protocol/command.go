package protocol

import (
	"strings"
	"unicode/utf8"
)

// Verb identifies the tagged SMTP command variant.
type Verb int

// The closed set of known SMTP verbs, plus Unknown for anything else.
const (
	HELO Verb = iota
	EHLO
	MAIL
	RCPT
	DATA
	RSET
	VRFY
	EXPN
	HELP
	NOOP
	QUIT
	AUTH
	STARTTLS
	Unknown
)

func (v Verb) String() string {
	switch v {
	case HELO:
		return "HELO"
	case EHLO:
		return "EHLO"
	case MAIL:
		return "MAIL"
	case RCPT:
		return "RCPT"
	case DATA:
		return "DATA"
	case RSET:
		return "RSET"
	case VRFY:
		return "VRFY"
	case EXPN:
		return "EXPN"
	case HELP:
		return "HELP"
	case NOOP:
		return "NOOP"
	case QUIT:
		return "QUIT"
	case AUTH:
		return "AUTH"
	case STARTTLS:
		return "STARTTLS"
	default:
		return "UNKNOWN"
	}
}

var verbTable = map[string]Verb{
	"HELO":     HELO,
	"EHLO":     EHLO,
	"MAIL":     MAIL,
	"RCPT":     RCPT,
	"DATA":     DATA,
	"RSET":     RSET,
	"VRFY":     VRFY,
	"EXPN":     EXPN,
	"HELP":     HELP,
	"NOOP":     NOOP,
	"QUIT":     QUIT,
	"AUTH":     AUTH,
	"STARTTLS": STARTTLS,
}

// Command is a parsed request line: the tagged verb, the raw verb token as
// the client sent it (preserved for Unknown), and the remaining argument
// text with the verb and CRLF stripped.
type Command struct {
	Verb    Verb
	Raw     string // verb token trimmed and uppercased, only meaningful for Unknown
	Data    string // argument text after the verb, trimmed of CRLF
}

// ParseCommand lexes a single command-buffer line (already known to end in
// CRLF) into a Command. Per §4.2: decode UTF-8 lossily, split on the first
// ASCII space, uppercase+trim the verb, map it to a known variant or Unknown.
func ParseCommand(line string) (Command, error) {
	if !utf8.ValidString(line) {
		line = strings.ToValidUTF8(line, "�")
	}
	line = strings.TrimRight(line, "\r\n")

	verbToken := line
	data := ""
	if idx := strings.IndexByte(line, ' '); idx >= 0 {
		verbToken = line[:idx]
		data = strings.TrimSpace(line[idx+1:])
	}
	verbToken = strings.ToUpper(strings.TrimSpace(verbToken))

	if verbToken == "" {
		return Command{}, NewParseError("empty command line")
	}

	if v, ok := verbTable[verbToken]; ok {
		return Command{Verb: v, Data: data}, nil
	}
	return Command{Verb: Unknown, Raw: verbToken, Data: data}, nil
}

// parseAngleAddr extracts the text between the first '<' and the matching
// '>' in s, or the whole trimmed string if no angle brackets are present.
func parseAngleAddr(s string) string {
	s = strings.TrimSpace(s)
	start := strings.IndexByte(s, '<')
	if start < 0 {
		return s
	}
	end := strings.IndexByte(s[start+1:], '>')
	if end < 0 {
		return s[start+1:]
	}
	return s[start+1 : start+1+end]
}

// ParseMailCommandData extracts the address between '<' and '>' out of a
// MAIL command's argument text (e.g. "FROM:<a@b> SIZE=100").
func ParseMailCommandData(data string) string {
	return parseAngleAddr(stripVerbPrefix(data, "FROM:"))
}

// ParseRcptCommandData extracts the address between '<' and '>' out of a
// RCPT command's argument text (e.g. "TO:<a@b>").
func ParseRcptCommandData(data string) string {
	return parseAngleAddr(stripVerbPrefix(data, "TO:"))
}

// ParseCommandParams splits the ESMTP parameter words that follow the
// "<FROM|TO>:<addr>" portion of a MAIL/RCPT argument (e.g. "SIZE=1024
// BODY=8BITMIME") into a key/value map. Flags with no "=" map to "".
func ParseCommandParams(data string) map[string]string {
	end := strings.IndexByte(data, '>')
	if end < 0 {
		return nil
	}
	rest := strings.TrimSpace(data[end+1:])
	if rest == "" {
		return nil
	}

	params := make(map[string]string)
	for _, word := range strings.Fields(rest) {
		if eq := strings.IndexByte(word, '='); eq >= 0 {
			params[strings.ToUpper(word[:eq])] = word[eq+1:]
		} else {
			params[strings.ToUpper(word)] = ""
		}
	}
	return params
}

func stripVerbPrefix(data, prefix string) string {
	data = strings.TrimSpace(data)
	if len(data) >= len(prefix) && strings.EqualFold(data[:len(prefix)], prefix) {
		return data[len(prefix):]
	}
	return data
}
