// Package axes holds the per-axis data model shared by the motion planner
// and the step actuator: dense per-axis value arrays, physical axis limits,
// the commanded position and the end-stop check bitfield.
package axes

// MaxAxes is the fixed number of axes the motion core is built for. All
// per-axis arrays are dense of this length; robots with fewer axes leave the
// trailing entries cleared.
const MaxAxes = 3

// NumberedCommandNone marks a block or command that is not tracked by a
// numbered command index.
const NumberedCommandNone = -1
