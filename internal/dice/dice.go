// Package dice rolls dice for the table, either locally or through a dice
// service listening on the room's broadcast channel.
package dice

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"regexp"
	"strconv"
	"strings"
	"sync"
)

var ErrInvalidNotation = errors.New("invalid dice notation")
var ErrTimeout = errors.New("dice roll timed out")

const maxDice = 100

type Result struct {
	Total int    `json:"total"`
	Rolls []int  `json:"rolls"`
	Label string `json:"label,omitempty"`
}

type Roller interface {
	Roll(ctx context.Context, notation, label string) (Result, error)
	Name() string
}

// Spec is parsed notation: Count dice with Sides faces plus Modifier.
type Spec struct {
	Count    int
	Sides    int
	Modifier int
}

var notationRegex = regexp.MustCompile(`(?i)^(\d*)d(\d+)([+-]\d+)?$`)

// Parse reads notation of the form [count]d<sides>[+|-modifier], e.g.
// "d6", "2d8+1", "1D20-2".
func Parse(notation string) (Spec, error) {
	m := notationRegex.FindStringSubmatch(strings.TrimSpace(notation))
	if m == nil {
		return Spec{}, fmt.Errorf("%w: %q", ErrInvalidNotation, notation)
	}

	spec := Spec{Count: 1}
	var err error
	if m[1] != "" {
		if spec.Count, err = strconv.Atoi(m[1]); err != nil {
			return Spec{}, fmt.Errorf("%w: %q", ErrInvalidNotation, notation)
		}
	}
	if spec.Sides, err = strconv.Atoi(m[2]); err != nil {
		return Spec{}, fmt.Errorf("%w: %q", ErrInvalidNotation, notation)
	}
	if m[3] != "" {
		if spec.Modifier, err = strconv.Atoi(m[3]); err != nil {
			return Spec{}, fmt.Errorf("%w: %q", ErrInvalidNotation, notation)
		}
	}
	if spec.Count < 1 || spec.Count > maxDice || spec.Sides < 1 {
		return Spec{}, fmt.Errorf("%w: %q", ErrInvalidNotation, notation)
	}
	return spec, nil
}

// Local rolls with a pseudorandom source. It is safe for concurrent use.
type Local struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewLocal returns a roller seeded with seed. The same seed replays the
// same rolls.
func NewLocal(seed int64) *Local {
	return &Local{rng: rand.New(rand.NewSource(seed))}
}

func (l *Local) Name() string { return "Built-in" }

func (l *Local) Roll(_ context.Context, notation, label string) (Result, error) {
	spec, err := Parse(notation)
	if err != nil {
		return Result{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	res := Result{Rolls: make([]int, spec.Count), Label: label}
	for i := range res.Rolls {
		res.Rolls[i] = l.rng.Intn(spec.Sides) + 1
		res.Total += res.Rolls[i]
	}
	res.Total += spec.Modifier
	return res, nil
}
