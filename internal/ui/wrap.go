package ui

// wrapRunes breaks text into display lines at most width runes wide.
// Breaks land on spaces when a word still fits on a fresh line; words
// longer than the width are split mid-word. Embedded newlines always
// break. Always returns at least one line.
func wrapRunes(text []rune, width int) [][]rune {
	if width <= 0 {
		return nil
	}
	var lines [][]rune
	var line []rune
	var word []rune

	flushWord := func() {
		for len(word) > 0 {
			space := width - len(line)
			if len(word) <= space {
				line = append(line, word...)
				word = nil
				return
			}
			if space == 0 || (len(line) > 0 && len(word) <= width) {
				lines = append(lines, line)
				line = nil
				continue
			}
			line = append(line, word[:space]...)
			lines = append(lines, line)
			line = nil
			word = word[space:]
		}
	}

	for _, r := range text {
		switch r {
		case '\n':
			flushWord()
			lines = append(lines, line)
			line = nil
		case ' ':
			flushWord()
			if len(line) < width {
				line = append(line, ' ')
			} else {
				lines = append(lines, line)
				line = nil
			}
		default:
			word = append(word, r)
		}
	}
	flushWord()
	if len(line) > 0 {
		lines = append(lines, line)
	}
	if len(lines) == 0 {
		lines = append(lines, nil)
	}
	return lines
}
