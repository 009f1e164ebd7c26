package osc

import (
	"fmt"
	"strings"
)

// FormatDatagram renders a datagram as a hexdump: a "size N" header, then
// sixteen bytes per line in groups of four with a printable ASCII gutter.
func FormatDatagram(datagram []byte) string {
	lines := []string{fmt.Sprintf("size %d", len(datagram))}
	for index := 0; index < len(datagram); index += 16 {
		end := min(index+16, len(datagram))
		var groups []string
		var gutter strings.Builder
		for g := index; g < end; g += 4 {
			var hexes []string
			for _, c := range datagram[g:min(g+4, end)] {
				hexes = append(hexes, fmt.Sprintf("%02x", c))
				if c > 31 && c < 127 {
					gutter.WriteByte(c)
				} else {
					gutter.WriteByte('.')
				}
			}
			groups = append(groups, strings.Join(hexes, " "))
		}
		lines = append(lines, fmt.Sprintf("%4d   %-53s|%s|", index, strings.Join(groups, "  "), gutter.String()))
	}
	return strings.Join(lines, "\n")
}
