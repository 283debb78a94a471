package mailmsg

// HeaderName is the closed-ish enum of known header fields, with Unknown
// preserving any other spelling verbatim (per §4.3).
type HeaderName int

const (
	HeaderFrom HeaderName = iota
	HeaderTo
	HeaderCc
	HeaderBcc
	HeaderSubject
	HeaderDate
	HeaderMessageID
	HeaderContentType
	HeaderContentTransferEncoding
	HeaderMIMEVersion
	HeaderReplyTo
	HeaderReturnPath
	HeaderReceived
	HeaderUnknown
)

var canonicalNames = map[string]HeaderName{
	"from":                      HeaderFrom,
	"to":                        HeaderTo,
	"cc":                        HeaderCc,
	"bcc":                       HeaderBcc,
	"subject":                   HeaderSubject,
	"date":                      HeaderDate,
	"message-id":                HeaderMessageID,
	"content-type":              HeaderContentType,
	"content-transfer-encoding": HeaderContentTransferEncoding,
	"mime-version":              HeaderMIMEVersion,
	"reply-to":                  HeaderReplyTo,
	"return-path":               HeaderReturnPath,
	"received":                  HeaderReceived,
}

var displayNames = map[HeaderName]string{
	HeaderFrom:                    "From",
	HeaderTo:                      "To",
	HeaderCc:                      "Cc",
	HeaderBcc:                     "Bcc",
	HeaderSubject:                 "Subject",
	HeaderDate:                    "Date",
	HeaderMessageID:               "Message-Id",
	HeaderContentType:             "Content-Type",
	HeaderContentTransferEncoding: "Content-Transfer-Encoding",
	HeaderMIMEVersion:             "Mime-Version",
	HeaderReplyTo:                 "Reply-To",
	HeaderReturnPath:              "Return-Path",
	HeaderReceived:                "Received",
}

func (h HeaderName) String() string {
	if s, ok := displayNames[h]; ok {
		return s
	}
	return "Unknown"
}
