// Package caster drives the two wheel motors of a Caster base through a
// dual-channel controller on CAN.
//
// Hardware holds the joint state and runs the two periodic cycles a host
// control loop needs: UpdateHardwareStatus reads encoder counts and RPM into
// the joints, and WriteCommandsToHardware ramps the commanded wheel
// velocities through the Limiter and sends them as RPM setpoints. Runner
// calls both at a fixed period for hosts without their own scheduler.
package caster
