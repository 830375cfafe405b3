// Package estop implements the machinery emergency stop subsystem.
//
// Each zone is a stop circuit over a list of machines. Triggering a zone moves its
// running machinery to emergency_stop. Resetting it resumes non-critical machinery
// and leaves critical machinery stopped until an operator restarts it.
package estop
