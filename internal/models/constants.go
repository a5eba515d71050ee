package models

import "math"

// Physical constants for the Crazyflie-class quadrotor used throughout the
// evaluation harness.
const (
	DefaultMass      = 0.027 // kg
	DefaultGravity   = 9.81  // m/s^2
	DefaultDragCoeff = 0.01  // N*s/m, lumped linear drag

	// Actuator limits. MaxThrust is the collective limit across all four
	// rotors; MaxBodyRate bounds each commanded body rate.
	MaxThrust   = 0.638   // N
	MaxBodyRate = math.Pi // rad/s
)
