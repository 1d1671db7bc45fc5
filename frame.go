package sio

import (
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"
)

// boundary delimits multiplexed packets inside one polling body: the
// UTF-8 encoding of U+FFFD surrounds each packet's declared length.
const boundary = "�"

// splitFramed extracts every packet multiplexed into a polling body:
// ...<boundary><len><boundary><text><boundary><len2><boundary><text2>...
// A declared length that does not match the character count of its text
// drops that fragment with a warning; the rest of the body still yields.
func splitFramed(body string, log zerolog.Logger) []string {
	parts := strings.Split(body, boundary)
	var texts []string
	for i := 1; i+1 < len(parts); i += 2 {
		length, text := parts[i], parts[i+1]
		if length == strconv.Itoa(utf8.RuneCountInString(text)) {
			texts = append(texts, text)
			continue
		}
		log.Warn().
			Str("declared_length", length).
			Str("packet_text", text).
			Msg("invalid declared length, fragment dropped")
	}
	return texts
}
