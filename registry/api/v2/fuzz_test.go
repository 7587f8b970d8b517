package v2

import (
	"testing"
)

// FuzzParseForwardedHeader targets parseForwardedHeader with arbitrary
// header values, seeded with rfc7239 shapes the builder actually sees.
func FuzzParseForwardedHeader(f *testing.F) {
	f.Add(`for=192.0.2.60;proto=https;host=registry.example.com`)
	f.Add(`for="[2001:db8:cafe::17]:4711"`)
	f.Add(`for=192.0.2.43, for=198.51.100.17`)
	f.Add(`proto=https;host="registry.example.com:5000"`)
	f.Add(`for=;proto`)

	f.Fuzz(func(t *testing.T, data string) {
		_, _, _ = parseForwardedHeader(data)
	})
}
