package address

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromStringRoundTrip(t *testing.T) {
	cases := []struct {
		local, domain string
	}{
		{"alice", "example.com"},
		{"a.b-c+tag", "sub.example.org"},
		{"bob", "x.co"},
	}
	for _, c := range cases {
		addr, err := FromString(c.local + "@" + c.domain)
		require.NoError(t, err)
		assert.Equal(t, c.local, addr.Local)
		assert.Equal(t, c.domain, addr.Domain)
		assert.Equal(t, c.local+"@"+c.domain, addr.String())
	}
}

func TestFromStringRejectsEmptyParts(t *testing.T) {
	_, err := FromString("@example.com")
	assert.Error(t, err)

	_, err = FromString("alice@")
	assert.Error(t, err)

	_, err = FromString("no-at-sign")
	assert.Error(t, err)
}

func TestNewEnforcesLengthBounds(t *testing.T) {
	longLocal := strings.Repeat("a", MaxLocalPartLength+1)
	_, err := New(longLocal, "example.com")
	assert.Error(t, err)

	longDomain := strings.Repeat("a", MaxDomainLength+1)
	_, err = New("alice", longDomain)
	assert.Error(t, err)

	_, err = New("alice", "example.com")
	assert.NoError(t, err)
}

func TestValidateDomainSupportsIDN(t *testing.T) {
	assert.True(t, ValidateDomain("例え.jp"))
	assert.True(t, ValidateDomain("example.com"))
	assert.False(t, ValidateDomain(""))
	assert.False(t, ValidateDomain("-leading-hyphen.com"))
}

func TestFromCommandArg(t *testing.T) {
	addr, err := FromCommandArg("alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, "alice", addr.Local)
	assert.Equal(t, "example.com", addr.Domain)
}
