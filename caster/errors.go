package caster

import "errors"

var (
	ErrNotConnected       = errors.New("caster: not connected")
	ErrNotInitialized     = errors.New("caster: not initialized")
	ErrAlreadyInitialized = errors.New("caster: already initialized")
	ErrInvalidMotor       = errors.New("caster: invalid motor")
	ErrInvalidVelocity    = errors.New("caster: velocity command is not finite")
)
