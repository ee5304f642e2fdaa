package domain

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

const (
	maxDice  = 100
	maxSides = 1000
)

var ErrBadDiceExpression = errors.New("bad dice expression")

// DiceRoll is the dice_roll payload.
type DiceRoll struct {
	ID         string `json:"id"`
	Expression string `json:"expression"`
	Results    []int  `json:"results"`
	Modifier   int    `json:"modifier,omitempty"`
	Total      int    `json:"total"`
}

// ChatMessage is the chat_message payload.
type ChatMessage struct {
	Text string `json:"text"`
}

// Roll evaluates NdM, NdM+K or NdM-K ("d20" means 1d20).
func Roll(expr string) (DiceRoll, error) {
	n, sides, mod, err := parseDice(expr)
	if err != nil {
		return DiceRoll{}, err
	}
	roll := DiceRoll{
		ID:         uuid.NewString(),
		Expression: strings.ToLower(strings.ReplaceAll(expr, " ", "")),
		Results:    make([]int, n),
		Modifier:   mod,
	}
	for i := range roll.Results {
		roll.Results[i] = 1 + rand.IntN(sides)
		roll.Total += roll.Results[i]
	}
	roll.Total += mod
	return roll, nil
}

func parseDice(expr string) (n, sides, mod int, err error) {
	s := strings.ToLower(strings.ReplaceAll(expr, " ", ""))
	count, rest, ok := strings.Cut(s, "d")
	if !ok {
		return 0, 0, 0, fmt.Errorf("%w: %q", ErrBadDiceExpression, expr)
	}
	n = 1
	if count != "" {
		if n, err = strconv.Atoi(count); err != nil {
			return 0, 0, 0, fmt.Errorf("%w: %q", ErrBadDiceExpression, expr)
		}
	}
	sidesStr, modStr := rest, ""
	if i := strings.IndexAny(rest, "+-"); i >= 0 {
		sidesStr, modStr = rest[:i], rest[i:]
	}
	if sides, err = strconv.Atoi(sidesStr); err != nil {
		return 0, 0, 0, fmt.Errorf("%w: %q", ErrBadDiceExpression, expr)
	}
	if modStr != "" {
		if mod, err = strconv.Atoi(modStr); err != nil {
			return 0, 0, 0, fmt.Errorf("%w: %q", ErrBadDiceExpression, expr)
		}
	}
	if n < 1 || n > maxDice || sides < 2 || sides > maxSides {
		return 0, 0, 0, fmt.Errorf("%w: %q out of range", ErrBadDiceExpression, expr)
	}
	return n, sides, mod, nil
}
