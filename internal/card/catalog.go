package card

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/lox/bingohall/internal/randutil"
)

// ErrUnknownCard is returned for card numbers outside the catalog.
var ErrUnknownCard = errors.New("unknown card")

// Catalog is the fixed set of cards participants choose from. Card numbers
// run from 1 to Len() and map to the same grid for the process lifetime.
type Catalog struct {
	cards []Card
}

// Generate builds count cards deterministically from seed.
func Generate(seed int64, count int) *Catalog {
	cards := make([]Card, count)
	for i := range cards {
		n := i + 1
		cards[i] = Card{Number: n, Grid: generateGrid(seed, n)}
	}
	return &Catalog{cards: cards}
}

func generateGrid(seed int64, number int) Grid {
	rng := randutil.Derive(seed, uint64(number))
	var g Grid
	for c := range Size {
		pool := make([]int, span)
		for i := range pool {
			pool[i] = c*span + i + 1
		}
		rng.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })
		for r := range Size {
			g[r][c] = pool[r]
		}
	}
	g[centre][centre] = Free
	return g
}

// Len returns the number of cards.
func (c *Catalog) Len() int {
	return len(c.cards)
}

// Card returns the card with the given number.
func (c *Catalog) Card(number int) (Card, error) {
	if number < 1 || number > len(c.cards) {
		return Card{}, fmt.Errorf("%w: %d", ErrUnknownCard, number)
	}
	return c.cards[number-1], nil
}

// Cards returns a copy of every card in number order.
func (c *Catalog) Cards() []Card {
	return append([]Card(nil), c.cards...)
}

// yamlCard mirrors the column-oriented layout card printers use.
type yamlCard struct {
	ID int   `yaml:"card_id"`
	B  []int `yaml:"B"`
	I  []int `yaml:"I"`
	N  []int `yaml:"N"`
	G  []int `yaml:"G"`
	O  []int `yaml:"O"`
}

func (y yamlCard) grid() (Grid, error) {
	var g Grid
	cols := [Size][]int{y.B, y.I, y.N, y.G, y.O}
	for c, col := range cols {
		if c == centre && len(col) == Size-1 {
			col = append(append(append([]int(nil), col[:centre]...), Free), col[centre:]...)
		}
		if len(col) != Size {
			return g, fmt.Errorf("column %s has %d numbers", Letters[c], len(col))
		}
		for r, n := range col {
			g[r][c] = n
		}
	}
	g[centre][centre] = Free
	return g, g.Validate()
}

// LoadCatalog reads cards from a YAML file. Card ids must be exactly
// 1..len(cards) with no gaps.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading card catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes a YAML card catalog.
func ParseCatalog(data []byte) (*Catalog, error) {
	var raw []yamlCard
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decoding card catalog: %w", err)
	}
	if len(raw) == 0 {
		return nil, errors.New("card catalog is empty")
	}

	sort.Slice(raw, func(i, j int) bool { return raw[i].ID < raw[j].ID })
	cards := make([]Card, len(raw))
	for i, rc := range raw {
		if rc.ID != i+1 {
			return nil, fmt.Errorf("card ids must run 1..%d, found %d at position %d", len(raw), rc.ID, i+1)
		}
		g, err := rc.grid()
		if err != nil {
			return nil, fmt.Errorf("card %d: %w", rc.ID, err)
		}
		cards[i] = Card{Number: rc.ID, Grid: g}
	}
	return &Catalog{cards: cards}, nil
}
