// Package engine provides the program execution engine. It owns the current
// program, starts it on a worker goroutine, and runs an unconditional,
// step-by-step fault-isolated teardown of the robot collaborators after every
// run, whether the program completed, failed or was stopped.
package engine
