// Package planner turns a carbon-intensity forecast into energy-bounded
// charge and discharge plans. The allocator is greedy: periods are ranked
// by intensity (direction depends on the mode) and energy is allocated
// against a budget until the budget or the periods run out.
package planner
