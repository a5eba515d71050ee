package integrators

import (
	"fmt"

	"github.com/san-kum/quadgrid/internal/sim"
)

// New returns the integration scheme registered under name. The empty
// string selects RK4.
func New(name string) (sim.Integrator, error) {
	switch name {
	case "", "rk4":
		return NewRK4(), nil
	case "euler":
		return NewEuler(), nil
	}
	return nil, fmt.Errorf("unknown integrator %q", name)
}
