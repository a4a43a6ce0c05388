// Package autocontrol implements the per-direction window state machine:
// Idle -> Approaching -> Active -> Completing -> Idle. Each tick it decides
// whether to stage set-points, engage the actuator, hold, or stop, and
// returns that decision as an explicit result consumed synchronously by
// the coordinator. Charge and discharge run independent machines.
package autocontrol
