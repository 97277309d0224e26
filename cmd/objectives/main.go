// Objectives runs the objective policy lifecycle: A/B evaluation of
// objective variants and the policy state reducer.
//
// Usage:
//
//	# Show which variant a run is routed to
//	objectives route --objective tool-selection --run-id run-42
//
//	# Evaluate every variant of an objective against an evidence bundle
//	objectives evaluate --evidence bundle.json
//
//	# Replay a file of reward events through the reducer
//	objectives reduce events.jsonl
//
//	# Inspect policy state and the audit trail
//	objectives state list --type TOOL_RELIABILITY
//	objectives audit query --policy tool:search --output csv
//
//	# Run the service with metrics and health endpoints
//	objectives serve --config /etc/objectives/config.yaml --events -
package main

func main() {
	Execute()
}
