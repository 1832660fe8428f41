package project

import (
	"fmt"
	"strconv"
	"strings"
)

// forbidden lists the characters that never appear raw in a path segment.
// '%' is included so escaping stays reversible.
const forbidden = `%<>:"/\|?*`

// Escape makes name safe to use as a single path segment by replacing every
// forbidden character (and any control character) with %XX, the uppercase hex
// of its byte value. Empty, "." and ".." names are escaped wholesale.
func Escape(name string) string {
	switch name {
	case "":
		return "%00"
	case ".":
		return "%2E"
	case "..":
		return "%2E%2E"
	}
	var b strings.Builder
	b.Grow(len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c < 0x20 || c == 0x7f || strings.IndexByte(forbidden, c) >= 0 {
			fmt.Fprintf(&b, "%%%02X", c)
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

// Unescape reverses Escape. Malformed escapes are kept verbatim.
func Unescape(segment string) string {
	if segment == "%00" {
		return ""
	}
	if !strings.Contains(segment, "%") {
		return segment
	}
	var b strings.Builder
	b.Grow(len(segment))
	for i := 0; i < len(segment); i++ {
		c := segment[i]
		if c == '%' && i+2 < len(segment) {
			if n, err := strconv.ParseUint(segment[i+1:i+3], 16, 8); err == nil {
				b.WriteByte(byte(n))
				i += 2
				continue
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}
