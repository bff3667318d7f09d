// Package robot defines the hardware collaborators a running program drives
// (motion, camera, sensors) and a simulated robot implementing all of them for
// development machines and tests.
package robot
