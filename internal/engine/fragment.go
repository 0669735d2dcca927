package engine

import "strings"

// splitLevels orders the separators tried when a unit does not fit: whole
// paragraphs first, then sentences, clause punctuation, finally single
// words. A word is atomic and is never split even when it alone exceeds
// the limit.
var splitLevels = []struct {
	seps []string
	join string
}{
	{seps: []string{"\n\n"}, join: "\n\n"},
	{seps: []string{"\n"}, join: "\n"},
	{seps: []string{". ", "! ", "? "}, join: " "},
	{seps: []string{", ", "; ", ": "}, join: " "},
	{seps: []string{" "}, join: " "},
}

// Fragment splits text into pieces of at most max characters, preferring
// the largest structural unit that fits. Fragments are trimmed and empty
// ones dropped.
func Fragment(text string, max int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if max <= 0 || fits(text, max) {
		return []string{text}
	}
	return split(text, max, 0)
}

func split(text string, max, level int) []string {
	if fits(text, max) {
		return []string{text}
	}
	if level >= len(splitLevels) {
		// A single word longer than max stays whole.
		return []string{text}
	}

	units := splitUnits(text, splitLevels[level].seps)
	if len(units) == 1 {
		return split(text, max, level+1)
	}

	join := splitLevels[level].join
	var out []string
	var current string
	flush := func() {
		if trimmed := strings.TrimSpace(current); trimmed != "" {
			out = append(out, trimmed)
		}
		current = ""
	}

	for _, unit := range units {
		if strings.TrimSpace(unit) == "" {
			continue
		}
		if !fits(unit, max) {
			flush()
			out = append(out, split(strings.TrimSpace(unit), max, level+1)...)
			continue
		}
		candidate := unit
		if current != "" {
			candidate = current + join + unit
		}
		if fits(candidate, max) {
			current = candidate
		} else {
			flush()
			current = unit
		}
	}
	flush()
	return out
}

// splitUnits cuts text on any of the separators, keeping sentence-final
// punctuation attached to its sentence.
func splitUnits(text string, seps []string) []string {
	units := []string{text}
	for _, sep := range seps {
		var next []string
		keep := ""
		// Separators like ". " keep their punctuation on the left unit.
		if len(sep) == 2 && sep[1] == ' ' && sep[0] != ' ' {
			keep = string(sep[0])
		}
		for _, unit := range units {
			parts := strings.Split(unit, sep)
			for i, part := range parts {
				if i < len(parts)-1 {
					part += keep
				}
				next = append(next, part)
			}
		}
		units = next
	}
	return units
}

func fits(text string, max int) bool {
	return len([]rune(text)) <= max
}
