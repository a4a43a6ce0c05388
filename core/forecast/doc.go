// Package forecast normalizes heterogeneous carbon-intensity forecast
// payloads into an ordered sequence of periods. Payloads arrive as the raw
// state of a host entity plus its attributes; several upstream integrations
// put the forecast in the state, others only in attributes, and the parser
// tolerates both.
package forecast
