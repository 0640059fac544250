package ticket

import (
	"strings"
	"unicode"
)

// Presentation forms B, indexed by base letter. Each entry is the isolated
// form; final, initial and medial follow at +1, +2, +3. dual marks letters
// that join on both sides, the rest only join to the letter before them.
type arabicForm struct {
	isolated rune
	dual     bool
}

var arabicForms = map[rune]arabicForm{
	0x0621: {0xFE80, false},
	0x0622: {0xFE81, false},
	0x0623: {0xFE83, false},
	0x0624: {0xFE85, false},
	0x0625: {0xFE87, false},
	0x0626: {0xFE89, true},
	0x0627: {0xFE8D, false},
	0x0628: {0xFE8F, true},
	0x0629: {0xFE93, false},
	0x062A: {0xFE95, true},
	0x062B: {0xFE99, true},
	0x062C: {0xFE9D, true},
	0x062D: {0xFEA1, true},
	0x062E: {0xFEA5, true},
	0x062F: {0xFEA9, false},
	0x0630: {0xFEAB, false},
	0x0631: {0xFEAD, false},
	0x0632: {0xFEAF, false},
	0x0633: {0xFEB1, true},
	0x0634: {0xFEB5, true},
	0x0635: {0xFEB9, true},
	0x0636: {0xFEBD, true},
	0x0637: {0xFEC1, true},
	0x0638: {0xFEC5, true},
	0x0639: {0xFEC9, true},
	0x063A: {0xFECD, true},
	0x0641: {0xFED1, true},
	0x0642: {0xFED5, true},
	0x0643: {0xFED9, true},
	0x0644: {0xFEDD, true},
	0x0645: {0xFEE1, true},
	0x0646: {0xFEE5, true},
	0x0647: {0xFEE9, true},
	0x0648: {0xFEED, false},
	0x0649: {0xFEEF, false},
	0x064A: {0xFEF1, true},
}

// Lam followed by one of these alefs becomes a single ligature (isolated form;
// final is +1).
var lamAlef = map[rune]rune{
	0x0622: 0xFEF5,
	0x0623: 0xFEF7,
	0x0625: 0xFEF9,
	0x0627: 0xFEFB,
}

const (
	lam     = 0x0644
	tatweel = 0x0640
	hamza   = 0x0621
)

func isHaraka(r rune) bool {
	return r >= 0x064B && r <= 0x0652 || r == 0x0670
}

func isRTL(r rune) bool {
	return r >= 0x0590 && r <= 0x08FF || r >= 0xFB1D && r <= 0xFDFF || r >= 0xFE70 && r <= 0xFEFF
}

func hasRTL(s string) bool {
	for _, r := range s {
		if isRTL(r) {
			return true
		}
	}
	return false
}

func joinsForward(r rune) bool {
	if r == tatweel {
		return true
	}
	f, ok := arabicForms[r]
	return ok && f.dual
}

func joinsBackward(r rune) bool {
	if r == tatweel {
		return true
	}
	_, ok := arabicForms[r]
	return ok && r != hamza
}

// neighbour returns the closest rune from i in direction step, skipping
// harakat, or 0 when there is none.
func neighbour(runes []rune, i, step int) rune {
	for j := i + step; j >= 0 && j < len(runes); j += step {
		if !isHaraka(runes[j]) {
			return runes[j]
		}
	}
	return 0
}

// shapeArabic replaces Arabic letters with their contextual presentation
// forms. The PDF writer draws code points as glyphs without any shaping.
func shapeArabic(s string) string {
	if !hasRTL(s) {
		return s
	}
	runes := []rune(s)
	out := make([]rune, 0, len(runes))
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		form, ok := arabicForms[r]
		if !ok {
			out = append(out, r)
			continue
		}
		prev := joinsForward(neighbour(runes, i, -1))

		if r == lam && i+1 < len(runes) {
			if lig, ok := lamAlef[runes[i+1]]; ok {
				if prev {
					lig++
				}
				out = append(out, lig)
				i++
				continue
			}
		}

		next := form.dual && joinsBackward(neighbour(runes, i, 1))
		switch {
		case prev && next:
			out = append(out, form.isolated+3)
		case next:
			out = append(out, form.isolated+2)
		case prev && r != hamza:
			out = append(out, form.isolated+1)
		default:
			out = append(out, form.isolated)
		}
	}
	return string(out)
}

var mirrored = map[rune]rune{'(': ')', ')': '(', '[': ']', ']': '[', '<': '>', '>': '<'}

// Digits keep their order inside right-to-left text, Arabic-Indic ones too.
func isLTR(r rune) bool {
	return unicode.IsDigit(r) || !isRTL(r) && unicode.IsLetter(r)
}

// visualOrder lays out one right-to-left line for left-to-right drawing:
// the line is reversed, then runs of Latin text and digits are put back in
// reading order.
func visualOrder(line string) string {
	runes := []rune(line)
	n := len(runes)
	out := make([]rune, n)
	for i, r := range runes {
		out[n-1-i] = r
	}

	for i := 0; i < n; {
		if !isLTR(out[i]) {
			if m, ok := mirrored[out[i]]; ok {
				out[i] = m
			}
			i++
			continue
		}
		end := i + 1
		for j := i + 1; j < n; j++ {
			if isLTR(out[j]) {
				end = j + 1
				continue
			}
			if isRTL(out[j]) {
				break
			}
		}
		for a, b := i, end-1; a < b; a, b = a+1, b-1 {
			out[a], out[b] = out[b], out[a]
		}
		i = end
	}
	return string(out)
}

// printable drops code points outside the basic multilingual plane; the
// font's width table does not reach them.
func printable(s string) string {
	return strings.Map(func(r rune) rune {
		if r > 0xFFFF {
			return '?'
		}
		return r
	}, s)
}
