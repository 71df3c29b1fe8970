package card

// Line is a set of cells, as [row, column] pairs, that wins when every cell
// is marked.
type Line struct {
	Name  string
	Cells [Size][2]int
}

// Lines lists every winning pattern: five rows, five columns and the two
// diagonals.
var Lines = buildLines()

func buildLines() []Line {
	lines := make([]Line, 0, 2*Size+2)
	for r := range Size {
		l := Line{Name: "row " + string(rune('1'+r))}
		for c := range Size {
			l.Cells[c] = [2]int{r, c}
		}
		lines = append(lines, l)
	}
	for c := range Size {
		l := Line{Name: "column " + Letters[c]}
		for r := range Size {
			l.Cells[r] = [2]int{r, c}
		}
		lines = append(lines, l)
	}
	diag := Line{Name: "diagonal"}
	anti := Line{Name: "anti-diagonal"}
	for i := range Size {
		diag.Cells[i] = [2]int{i, i}
		anti.Cells[i] = [2]int{i, Size - 1 - i}
	}
	return append(lines, diag, anti)
}

// Marked reports whether the cell at r, c counts as called. The centre is
// always marked.
func (g Grid) Marked(r, c int, called Set) bool {
	if r == centre && c == centre {
		return true
	}
	return called.Has(g[r][c])
}

// IsWinner reports whether any full row, column or diagonal of g is marked by
// called. Only set membership matters, never the order of the draw.
func IsWinner(g Grid, called Set) bool {
	_, ok := WinningLine(g, called)
	return ok
}

// WinningLine returns the first completed line of g.
func WinningLine(g Grid, called Set) (Line, bool) {
next:
	for _, l := range Lines {
		for _, cell := range l.Cells {
			if !g.Marked(cell[0], cell[1], called) {
				continue next
			}
		}
		return l, true
	}
	return Line{}, false
}
