package outbound

// MaxMessageLength is the Bot API ceiling for a message text, in characters.
const MaxMessageLength = 4096

// Split cuts text into ordered chunks of at most max runes.
// Each cut is placed after the last newline before the ceiling, else after
// the last space, else exactly at the ceiling. Concatenating the chunks gives
// back text.
func Split(text string, max int) []string {
	if max <= 0 {
		max = MaxMessageLength
	}
	runes := []rune(text)
	if len(runes) <= max {
		return []string{text}
	}

	var chunks []string
	for len(runes) > max {
		cut := lastIndex(runes[:max], '\n')
		if cut <= 0 {
			cut = lastIndex(runes[:max], ' ')
		}
		if cut <= 0 {
			cut = max
		} else {
			cut++
		}
		chunks = append(chunks, string(runes[:cut]))
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		chunks = append(chunks, string(runes))
	}
	return chunks
}

func lastIndex(runes []rune, r rune) int {
	for i := len(runes) - 1; i >= 0; i-- {
		if runes[i] == r {
			return i
		}
	}
	return -1
}
