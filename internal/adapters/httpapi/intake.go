package httpapi

import (
	"errors"

	"github.com/alejandrodnm/autopilot/internal/domain"
	"github.com/alejandrodnm/autopilot/internal/ports"
)

// ErrIntakeFull is returned when the signal buffer has no room.
var ErrIntakeFull = errors.New("signal intake full")

// Intake implementa ports.SignalSource para señales recibidas por HTTP.
type Intake struct {
	ch chan domain.Signal
}

var _ ports.SignalSource = (*Intake)(nil)

// NewIntake crea un intake con el buffer dado.
func NewIntake(buffer int) *Intake {
	if buffer <= 0 {
		buffer = 64
	}
	return &Intake{ch: make(chan domain.Signal, buffer)}
}

// Signals devuelve el canal que consume el engine.
func (in *Intake) Signals() <-chan domain.Signal { return in.ch }

// Push encola una señal ya validada sin bloquear.
func (in *Intake) Push(sig domain.Signal) error {
	select {
	case in.ch <- sig:
		return nil
	default:
		return ErrIntakeFull
	}
}
