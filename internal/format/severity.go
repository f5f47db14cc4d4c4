package format

import "strings"

const (
	severityCells = 6
	emptyCell     = "\u2b1c\ufe0f" // white square + variation selector
)

// Tier maps a severity onto 1..5 using inclusive upper bounds 2, 4, 6, 8.
func Tier(severity int) int {
	switch {
	case severity <= 2:
		return 1
	case severity <= 4:
		return 2
	case severity <= 6:
		return 3
	case severity <= 8:
		return 4
	default:
		return 5
	}
}

var tierCells = [...]struct {
	glyph  string
	filled int
}{
	1: {"🟦", 2},
	2: {"🟩", 3},
	3: {"🟨", 4},
	4: {"🟧", 5},
	5: {"🟥", 6},
}

// SeverityBar renders a fixed six-cell bar whose color and fill grow with the tier.
func SeverityBar(severity int) string {
	c := tierCells[Tier(severity)]
	return strings.Repeat(c.glyph, c.filled) + strings.Repeat(emptyCell, severityCells-c.filled)
}
