package relay

import "strings"

// Markers bounding a textual patch block embedded in free-form model output.
const (
	patchBeginMarker = "*** Begin Patch"
	patchEndMarker   = "*** End Patch"
)

// ExtractPatches scans text for non-overlapping patch blocks and returns each
// complete bounded span, markers included, in order of appearance. A begin
// marker with no following end marker is discarded rather than emitted
// partially.
func ExtractPatches(text string) []string {
	var patches []string
	rest := text
	for {
		begin := strings.Index(rest, patchBeginMarker)
		if begin < 0 {
			break
		}
		end := strings.Index(rest[begin:], patchEndMarker)
		if end < 0 {
			break
		}
		stop := begin + end + len(patchEndMarker)
		patches = append(patches, rest[begin:stop])
		rest = rest[stop:]
	}
	return patches
}

// StripPatches removes every complete patch block from text and trims the
// remainder. Unterminated blocks are left in place, matching ExtractPatches.
func StripPatches(text string) string {
	rest := text
	var out strings.Builder
	for {
		begin := strings.Index(rest, patchBeginMarker)
		if begin < 0 {
			break
		}
		end := strings.Index(rest[begin:], patchEndMarker)
		if end < 0 {
			break
		}
		out.WriteString(rest[:begin])
		rest = rest[begin+end+len(patchEndMarker):]
	}
	out.WriteString(rest)
	return strings.TrimSpace(out.String())
}
