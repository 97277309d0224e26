// Package consumer feeds reward events to the policy state reducer.
//
// A Decoder validates inbound JSON against an embedded JSON schema and
// decodes it into policystate.RewardAssignedEvent. A Dispatcher hashes each
// event's (policy type, policy ID) onto a fixed set of partition workers,
// so events for one policy are reduced serially and in order while
// different policies proceed in parallel. Failed reductions are retried
// with exponential backoff.
//
// LineSource reads newline-delimited JSON from any io.Reader:
//
//	decoder, _ := consumer.NewDecoder(true)
//	d := consumer.NewDispatcher(reducer, consumer.DispatcherConfig{Partitions: 8})
//	d.Start(ctx)
//	stats, err := consumer.NewLineSource(os.Stdin, decoder).Run(ctx, d)
//	d.Close()
package consumer
