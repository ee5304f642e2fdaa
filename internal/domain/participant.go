// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	MaxUsernameLen = 36
	// participantIDPrefix doubles as the spoke endpoint address prefix.
	participantIDPrefix = "user_"
)

var (
	ErrUsernameTooLong = errors.New("username too long")
	ErrUsernameEmpty   = errors.New("username empty")
)

// ParticipantID identifies one participant process. A spoke also uses it as
// its transport address.
type ParticipantID string

// NewParticipantID returns user_<unix-ms>_<random>. Collisions are unlikely,
// not impossible.
func NewParticipantID() ParticipantID {
	random := strings.ReplaceAll(uuid.NewString(), "-", "")
	return ParticipantID(fmt.Sprintf("%s%d_%s", participantIDPrefix, time.Now().UnixMilli(), random[:9]))
}

// NormalizeUsername trims the name and checks its length.
func NormalizeUsername(name string) (string, error) {
	name = strings.TrimSpace(name)
	if len(name) == 0 {
		return "", ErrUsernameEmpty
	}
	if len(name) > MaxUsernameLen {
		return "", ErrUsernameTooLong
	}
	return name, nil
}

type Role int

const (
	RoleSpoke Role = iota
	RoleHub
)

func (r Role) String() string {
	if r == RoleHub {
		return "hub"
	}
	return "spoke"
}
