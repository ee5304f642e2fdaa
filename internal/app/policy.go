package app

import "github.com/dkeye/tablelink/internal/core"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	DropFrame
	CloseConnection
)

// Policy decides what happens to a channel whose send buffer is full.
type Policy interface {
	OnBackPressure(conn core.Channel) BackpressureAction
}

// SimplePolicy drops the frame, or closes the slow channel when CloseSlow is set.
type SimplePolicy struct {
	CloseSlow bool
}

func (p SimplePolicy) OnBackPressure(core.Channel) BackpressureAction {
	if p.CloseSlow {
		return CloseConnection
	}
	return DropFrame
}
