// Package auth implements AUTH mechanism decoders for PLAIN, LOGIN,
// CRAM-MD5, CRAM-SHA256 and XOAUTH2. The EHLO advertisement in §4.4
// lists all of these except CRAM-SHA256. Checking the decoded
// credentials is left to the embedder's OnAuth hook; this package
// ships no password-checking Authenticator.
//
// Decoder adapts the teacher's auth/auth.go handlers (PlainHandler,
// LoginHandler, CramHandler, XOAuth2Handler), which each owned a
// net.Conn and a private bufio/textproto reader to drive their
// challenge/response round trips. That duplicated the session's own
// buffered reader and risked losing bytes already buffered there; here
// a Decoder instead calls back into a respond function the session
// loop supplies, so there is exactly one reader per connection.
package auth

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"hash"
	"os"
	"regexp"
	"strings"
	"time"
)

var oauthUserRe = regexp.MustCompile(`user=([^,\x01]+)`)

// Mechanism names an AUTH mechanism by the literal token a client sends
// on the AUTH command line.
type Mechanism string

const (
	MechPlain      Mechanism = "PLAIN"
	MechLogin      Mechanism = "LOGIN"
	MechCramMD5    Mechanism = "CRAM-MD5"
	MechCramSHA256 Mechanism = "CRAM-SHA256"
	MechXOAuth2    Mechanism = "XOAUTH2"
)

// Credentials is what a Decoder extracts from an AUTH exchange. Extra
// carries mechanism-specific values a verifier needs beyond identity and
// secret (the CRAM mechanisms populate "challenge").
type Credentials struct {
	Identity string
	Secret   string
	Extra    map[string]string
}

// Respond is called by a Decoder to send a base64-encoded challenge (334
// reply) and block for the client's base64-encoded response line. An
// empty challenge still prompts with a bare "334 " line, per RFC 4954.
type Respond func(challenge string) (response string, err error)

// Decoder drives one mechanism's AUTH round trip. initial is the base64
// text the client supplied inline after "AUTH <mechanism>", or "" if it
// gave none and a challenge round is required.
type Decoder interface {
	Mechanism() Mechanism
	Exchange(initial string, respond Respond) (Credentials, error)
}

// NewDecoder returns the Decoder for mechanism, or an error if this
// package has no built-in decoder for it (GSSAPI, DIGEST-MD5 and NTLM
// are advertised per §4.4's literal list but are not implemented here;
// an embedder wanting them supplies its own on_auth logic instead).
func NewDecoder(mechanism string) (Decoder, error) {
	switch Mechanism(strings.ToUpper(mechanism)) {
	case MechPlain:
		return plainDecoder{}, nil
	case MechLogin:
		return loginDecoder{}, nil
	case MechCramMD5:
		return cramDecoder{mech: MechCramMD5, hashFunc: md5.New}, nil
	case MechCramSHA256:
		return cramDecoder{mech: MechCramSHA256, hashFunc: sha256.New}, nil
	case MechXOAuth2:
		return xoauth2Decoder{}, nil
	default:
		return nil, fmt.Errorf("auth: mechanism %q has no built-in decoder", mechanism)
	}
}

type plainDecoder struct{}

func (plainDecoder) Mechanism() Mechanism { return MechPlain }

func (plainDecoder) Exchange(initial string, respond Respond) (Credentials, error) {
	data := initial
	if data == "" {
		resp, err := respond("")
		if err != nil {
			return Credentials{}, err
		}
		data = resp
	}

	decoded, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return Credentials{}, fmt.Errorf("auth: invalid base64 in PLAIN response")
	}

	parts := strings.SplitN(string(decoded), "\x00", 3)
	if len(parts) != 3 {
		return Credentials{}, fmt.Errorf("auth: malformed PLAIN response")
	}
	return Credentials{Identity: parts[1], Secret: parts[2]}, nil
}

type loginDecoder struct{}

func (loginDecoder) Mechanism() Mechanism { return MechLogin }

func (loginDecoder) Exchange(initial string, respond Respond) (Credentials, error) {
	userB64 := initial
	if userB64 == "" {
		resp, err := respond("Username:")
		if err != nil {
			return Credentials{}, err
		}
		userB64 = resp
	}
	user, err := base64.StdEncoding.DecodeString(userB64)
	if err != nil {
		return Credentials{}, fmt.Errorf("auth: invalid base64 username")
	}

	passB64, err := respond("Password:")
	if err != nil {
		return Credentials{}, err
	}
	pass, err := base64.StdEncoding.DecodeString(passB64)
	if err != nil {
		return Credentials{}, fmt.Errorf("auth: invalid base64 password")
	}

	return Credentials{Identity: string(user), Secret: string(pass)}, nil
}

// cramDecoder implements CRAM-MD5/CRAM-SHA256 (RFC 2195-style): the
// server issues a unique challenge and the client responds with
// "username hexhmac". Secret in the returned Credentials is that hex
// digest, not a password; a verifier must recompute the HMAC over
// Extra["challenge"] with the account's stored password and compare.
type cramDecoder struct {
	mech     Mechanism
	hashFunc func() hash.Hash
}

func (d cramDecoder) Mechanism() Mechanism { return d.mech }

func (d cramDecoder) Exchange(_ string, respond Respond) (Credentials, error) {
	challenge := fmt.Sprintf("<%d.%d@localhost>", time.Now().UnixNano(), os.Getpid())
	resp, err := respond(base64.StdEncoding.EncodeToString([]byte(challenge)))
	if err != nil {
		return Credentials{}, err
	}

	decoded, err := base64.StdEncoding.DecodeString(resp)
	if err != nil {
		return Credentials{}, fmt.Errorf("auth: invalid base64 CRAM response")
	}
	parts := strings.SplitN(string(decoded), " ", 2)
	if len(parts) != 2 {
		return Credentials{}, fmt.Errorf("auth: malformed CRAM response")
	}

	return Credentials{
		Identity: parts[0],
		Secret:   parts[1],
		Extra:    map[string]string{"challenge": challenge},
	}, nil
}

// VerifyCramResponse recomputes the HMAC digest cramDecoder expects and
// reports whether it matches the client-supplied digest.
func VerifyCramResponse(mech Mechanism, password, challenge, digest string) bool {
	var hashFunc func() hash.Hash
	switch mech {
	case MechCramMD5:
		hashFunc = md5.New
	case MechCramSHA256:
		hashFunc = sha256.New
	default:
		return false
	}
	h := hmac.New(hashFunc, []byte(password))
	h.Write([]byte(challenge))
	want := hex.EncodeToString(h.Sum(nil))
	return hmac.Equal([]byte(want), []byte(digest))
}

type xoauth2Decoder struct{}

func (xoauth2Decoder) Mechanism() Mechanism { return MechXOAuth2 }

func (xoauth2Decoder) Exchange(initial string, respond Respond) (Credentials, error) {
	data := initial
	if data == "" {
		resp, err := respond("")
		if err != nil {
			return Credentials{}, err
		}
		data = resp
	}

	decoded, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return Credentials{}, fmt.Errorf("auth: invalid base64 XOAUTH2 response")
	}

	matches := oauthUserRe.FindStringSubmatch(string(decoded))
	if len(matches) < 2 {
		return Credentials{}, fmt.Errorf("auth: username not found in XOAUTH2 string")
	}
	return Credentials{Identity: matches[1], Secret: string(decoded)}, nil
}

// RedactSecret returns args with any credential payload masked, for
// logging AUTH commands without leaking them.
func RedactSecret(args []string) []string {
	if len(args) == 0 {
		return args
	}
	out := make([]string, len(args))
	copy(out, args)
	if len(out) > 1 {
		out[1] = "[redacted]"
	}
	return out
}
