package rpcore

import (
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestParseAddressRoundTrip(t *testing.T) {
	t.Parallel()

	addr, err := ParseAddress("jspark://10.0.0.5:9090")
	require.NoError(t, err)
	require.Equal(t, Address{Host: "10.0.0.5", Port: 9090}, addr)
	require.Equal(t, "jspark://10.0.0.5:9090", addr.String())
}

func TestParseAddressRejectsInvalid(t *testing.T) {
	t.Parallel()

	cases := []string{
		"",
		"10.0.0.5:9090",
		"jspark://10.0.0.5",
		"jspark://:9090",
		"jspark://10.0.0.5:not-a-port",
		"http://10.0.0.5:9090",
	}

	for _, raw := range cases {
		_, err := ParseAddress(raw)
		require.ErrorIsf(t, err, ErrInvalidAddress, "input %q", raw)
	}
}

func TestAddressIsClientOnly(t *testing.T) {
	t.Parallel()

	require.True(t, ClientOnlyAddress.IsClientOnly())
	require.False(t, testAddr(1).IsClientOnly())
}

// TestParseAddressRoundTripProperty verifies ParseAddress(addr.String()) ==
// addr for generated hosts and ports, not just the hand-picked cases above.
func TestParseAddressRoundTripProperty(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		addr := Address{
			Host: rapid.StringMatching(`[a-z][a-z0-9.-]{0,40}[a-z0-9]`).Draw(t, "host"),
			Port: rapid.IntRange(1, 65535).Draw(t, "port"),
		}

		parsed, err := ParseAddress(addr.String())
		if err != nil {
			t.Fatalf("parsing %q: %v", addr.String(), err)
		}
		if parsed != addr {
			t.Fatalf("round trip mismatch: %v != %v", parsed, addr)
		}
	})
}

func TestAddressStructuralEquality(t *testing.T) {
	t.Parallel()

	a := Address{Host: "h", Port: 1}
	b := Address{Host: "h", Port: 1}
	c := Address{Host: "h", Port: 2}

	require.Equal(t, a, b)
	require.NotEqual(t, a, c)
	require.True(t, a == b)
	require.False(t, a == c)
}
