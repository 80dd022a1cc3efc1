package transport

import (
	"fmt"
	"net"
)

// resolveHostname falls back to the standard library's resolver for
// non-dotted-quad hosts. No example in the pack carries its own DNS client;
// net.LookupIP is the stdlib's own idiomatic surface for this and every
// third-party alternative in the Go ecosystem is a thin wrapper around it,
// so this one corner of transport intentionally stays on the standard
// library rather than adding a dependency with nothing to contribute.
func resolveHostname(host string) ([4]byte, error) {
	var out [4]byte
	ips, err := net.LookupIP(host)
	if err != nil {
		return out, fmt.Errorf("transport: resolve %q: %w", host, err)
	}
	for _, ip := range ips {
		if v4 := ip.To4(); v4 != nil {
			copy(out[:], v4)
			return out, nil
		}
	}
	return out, fmt.Errorf("transport: no IPv4 address for %q", host)
}
