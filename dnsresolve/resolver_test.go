package dnsresolve

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClientImplementsResolver(t *testing.T) {
	var _ Resolver = (*Client)(nil)
	var _ Resolver = (*StdResolver)(nil)
}

func TestNewClientStoresServer(t *testing.T) {
	c := NewClient("8.8.8.8:53")
	assert.Equal(t, "8.8.8.8:53", c.Server)
}

func TestJoinTXTConcatenatesParts(t *testing.T) {
	assert.Equal(t, "v=spf1 -all", joinTXT([]string{"v=spf1 ", "-all"}))
	assert.Equal(t, "", joinTXT(nil))
}

func TestNewStdResolverUsesDefaultResolver(t *testing.T) {
	r := NewStdResolver()
	assert.NotNil(t, r.Resolver)
}
