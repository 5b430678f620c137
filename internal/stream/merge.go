// internal/stream/merge.go
package stream

// maxOverlapRunes bounds the overlap search between accumulated text
// and an incoming chunk.
const maxOverlapRunes = 4096

// appendChunkWithOverlap appends chunk to full, dropping any prefix of
// chunk that the tail of full already contains. Backends occasionally
// redeliver buffered output; searching for the longest suffix of the
// accumulated text that is a prefix of the chunk makes delivery
// idempotent. Returns the overlap length (in runes) and the text that
// was actually appended.
func appendChunkWithOverlap(full, chunk string) (string, int, string) {
	if chunk == "" {
		return full, 0, ""
	}
	if full == "" {
		return chunk, 0, chunk
	}

	fullRunes := []rune(full)
	chunkRunes := []rune(chunk)

	tailLen := len(fullRunes)
	if tailLen > maxOverlapRunes {
		tailLen = maxOverlapRunes
	}
	headLen := len(chunkRunes)
	if headLen > maxOverlapRunes {
		headLen = maxOverlapRunes
	}
	tail := fullRunes[len(fullRunes)-tailLen:]
	head := chunkRunes[:headLen]

	maxOverlap := tailLen
	if headLen < maxOverlap {
		maxOverlap = headLen
	}

	overlap := 0
	for n := maxOverlap; n >= 1; n-- {
		if runesEqual(tail[len(tail)-n:], head[:n]) {
			overlap = n
			break
		}
	}

	if overlap == 0 {
		return full + chunk, 0, chunk
	}

	suffix := string(chunkRunes[overlap:])
	return full + suffix, overlap, suffix
}

func runesEqual(a, b []rune) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
