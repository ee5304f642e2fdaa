package domain

import (
	"errors"
	"math/rand/v2"
	"strconv"
	"strings"
)

const (
	SessionCodeLen = 6
	// HubAddressPrefix + code is the hub's transport address.
	HubAddressPrefix = "room_"

	minSessionCode = 100000
	maxSessionCode = 999999
)

var ErrInvalidCode = errors.New("session code must be 6 digits")

// SessionCode is the short code a hub shares with players. There is no
// central allocator; two hubs picking the same code is an accepted risk.
type SessionCode string

func NewSessionCode() SessionCode {
	n := minSessionCode + rand.IntN(maxSessionCode-minSessionCode+1)
	return SessionCode(strconv.Itoa(n))
}

func ParseSessionCode(raw string) (SessionCode, error) {
	raw = strings.TrimSpace(raw)
	if len(raw) != SessionCodeLen {
		return "", ErrInvalidCode
	}
	for i := 0; i < len(raw); i++ {
		if raw[i] < '0' || raw[i] > '9' {
			return "", ErrInvalidCode
		}
	}
	return SessionCode(raw), nil
}

func (c SessionCode) HubAddress() string { return HubAddressPrefix + string(c) }

func (c SessionCode) String() string { return string(c) }
