package wsframe

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodePathRoundTripTCP(t *testing.T) {
	r := require.New(t)

	path := EncodePath("morille", "tcp", "example.com", 443, nil)
	r.Equal("/morille/tcp/example.com/443", path)

	target, err, matched := DecodePath("morille", path, "")
	r.NoError(err)
	r.True(matched)
	r.Equal("tcp", target.Proto)
	r.Equal("example.com", target.Dest.Host)
	r.EqualValues(443, target.Dest.Port)
	r.False(target.HasTimeoutOption)
}

func TestEncodeDecodePathUDPWithTimeout(t *testing.T) {
	r := require.New(t)

	timeout := uint64(30)
	path := EncodePath("morille", "udp", "10.0.0.1", 53, &timeout)

	parsedPath, query, _ := splitPathAndQuery(path)
	target, err, matched := DecodePath("morille", parsedPath, query)
	r.NoError(err)
	r.True(matched)
	r.Equal("udp", target.Proto)
	r.True(target.HasTimeoutOption)
	r.EqualValues(30, target.TimeoutSec)
}

func TestDecodePathPrefixMismatchIsNotFound(t *testing.T) {
	r := require.New(t)

	_, err, matched := DecodePath("morille", "/other/tcp/example.com/443", "")
	r.Error(err)
	r.False(matched)
}

func TestDecodePathMalformedIsBadRequest(t *testing.T) {
	r := require.New(t)

	_, err, matched := DecodePath("morille", "/morille/tcp/example.com", "")
	r.Error(err)
	r.True(matched)
}

func TestDecodePathUnsupportedProto(t *testing.T) {
	r := require.New(t)

	_, err, matched := DecodePath("morille", "/morille/socks5/example.com/1080", "")
	r.Error(err)
	r.True(matched)
}

// splitPathAndQuery mirrors how an *http.Request splits a raw request URI
// into req.URL.Path and req.URL.RawQuery, for tests that build a path via
// EncodePath and feed it back through DecodePath.
func splitPathAndQuery(full string) (path, query string, ok bool) {
	for i := 0; i < len(full); i++ {
		if full[i] == '?' {
			return full[:i], full[i+1:], true
		}
	}
	return full, "", false
}
