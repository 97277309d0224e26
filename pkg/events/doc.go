// Package events delivers the follow-on events produced by the policy state
// reducer.
//
// Every published event is wrapped in an Envelope carrying a unique ID, the
// topic name, and the time it was published:
//
//	{"id":"...","topic":"system.alert.tool_degraded","published_at":"...","payload":{...}}
//
// Publishers implement policystate.Publisher:
//
//   - LogPublisher writes events to a structured logger.
//   - JSONLPublisher writes newline-delimited envelopes to an io.Writer.
//   - Recorder keeps envelopes in memory for tests and the CLI.
//   - Multi fans out to several publishers.
//
// The reducer treats publishing as best effort, so a publisher only reports
// failures; it never retries.
package events
