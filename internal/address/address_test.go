package address

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse_HostPortVariants(t *testing.T) {
	tests := []struct {
		in       string
		wantHost string
		wantPort uint16
	}{
		{"localhost", "localhost", DefaultPort},
		{"localhost:1234", "localhost", 1234},
		{"127.0.0.1:1234", "127.0.0.1", 1234},
		{"[::1]:4321", "::1", 4321},
		{"::1", "::1", DefaultPort},
		{"2001:db8::1", "2001:db8::1", DefaultPort},
		{"example.com", "example.com", DefaultPort},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			a := Parse(tt.in)
			assert.Equal(t, tt.wantHost, a.Host())
			assert.Equal(t, tt.wantPort, a.Port())
		})
	}
}

func TestEqual_UnresolvedHostAndPortOnly(t *testing.T) {
	a := Address{host: "10.0.0.1", port: 7687, key: "example.com", dns: true}
	b := Address{host: "10.0.0.2", port: 7687, key: "example.com", dns: true}
	assert.True(t, a.Equal(b), "same unresolved host + port must compare equal regardless of resolved IP")

	c := Address{host: "10.0.0.1", port: 7688, key: "example.com", dns: true}
	assert.False(t, a.Equal(c))
}

func TestString_ReBracketsIPv6(t *testing.T) {
	a := Parse("[::1]:4321")
	assert.Equal(t, "[::1]:4321", a.String())

	b := Parse("localhost:1234")
	assert.Equal(t, "localhost:1234", b.String())
}

func TestNew_NormalizesIPLiteral(t *testing.T) {
	a := New("127.0.0.1", 7687)
	assert.True(t, a.DNSResolved(), "an IP literal host needs no further DNS resolution")
	assert.Equal(t, "127.0.0.1", a.UnresolvedHost())
}

func TestNew_HostnameNotPreResolved(t *testing.T) {
	a := New("example.com", 7687)
	assert.False(t, a.DNSResolved())
	assert.Equal(t, "example.com", a.UnresolvedHost())
}
