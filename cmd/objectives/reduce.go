package main

import (
	"fmt"
	"sync"

	"github.com/spf13/cobra"

	"mercator-hq/objectives/pkg/cli"
	"mercator-hq/objectives/pkg/consumer"
	"mercator-hq/objectives/pkg/telemetry/metrics"
)

var reduceFlags struct {
	progress bool
	output   string
}

var reduceCmd = &cobra.Command{
	Use:   "reduce [events.jsonl]",
	Short: "Reduce a file of reward events into policy state",
	Long: `Read newline-delimited RewardAssignedEvent JSON and reduce each event.

Events are dispatched the same way the service consumes them: one worker per
partition, events for the same policy applied in order, failed reductions
retried with backoff. Redelivered events are recognised by their
idempotency key and skipped.

Lines that fail to decode are logged and counted as invalid. The command
exits non-zero when any event could not be reduced.

Examples:
  objectives reduce events.jsonl
  cat events.jsonl | objectives reduce --progress
  objectives reduce events.jsonl --output json`,
	Args: cobra.MaximumNArgs(1),
	RunE: reduceRun,
}

func init() {
	rootCmd.AddCommand(reduceCmd)

	reduceCmd.Flags().BoolVar(&reduceFlags.progress, "progress", false, "show progress on stderr")
	reduceCmd.Flags().StringVarP(&reduceFlags.output, "output", "o", "text", "summary format: text, json")
}

// reduceSummary counts results as they arrive from the partition workers.
type reduceSummary struct {
	mu sync.Mutex

	Lines       int `json:"lines"`
	Applied     int `json:"applied"`
	Duplicates  int `json:"duplicates"`
	Invalid     int `json:"invalid"`
	Failed      int `json:"failed"`
	Transitions int `json:"transitions"`
	Alerts      int `json:"alerts_emitted"`
}

func (s *reduceSummary) add(res consumer.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch metrics.Outcome(res) {
	case metrics.OutcomeDuplicate:
		s.Duplicates++
	case metrics.OutcomeInvalid:
		s.Invalid++
	case metrics.OutcomeFailed:
		s.Failed++
	default:
		s.Applied++
		if res.Output.TransitionOccurred {
			s.Transitions++
		}
		if res.Output.AlertEmitted {
			s.Alerts++
		}
	}
}

func (s *reduceSummary) reject() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Invalid++
}

func (s *reduceSummary) String() string {
	return fmt.Sprintf(`Lines read:        %d
Applied:           %d
Duplicates:        %d
Invalid:           %d
Failed:            %d
Transitions:       %d
Alerts emitted:    %d`, s.Lines, s.Applied, s.Duplicates, s.Invalid, s.Failed, s.Transitions, s.Alerts)
}

func reduceRun(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseOutputFormat(reduceFlags.output)
	if err != nil {
		return err
	}
	if format == cli.FormatCSV {
		return cli.NewConfigError("output", "csv is not supported for the reduce summary")
	}

	path := "-"
	if len(args) == 1 {
		path = args[0]
	}
	in, err := openInput(cmd, path)
	if err != nil {
		return cli.NewConfigError("events", err.Error())
	}
	defer in.Close()

	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	store, err := a.openStore()
	if err != nil {
		return cli.NewCommandError("reduce", err)
	}
	publisher, err := a.openPublisher()
	if err != nil {
		return err
	}
	decoder, err := consumer.NewDecoder(a.cfg.Consumer.SchemaValidationEnabled(), consumer.WithDecoderLogger(a.logger))
	if err != nil {
		return cli.NewCommandError("reduce", err)
	}

	ctx, stop := cli.SignalContext(commandContext(cmd))
	defer stop()

	var progress cli.ProgressReporter = noProgress{}
	if reduceFlags.progress {
		progress = cli.NewProgressReporter(cmd.ErrOrStderr()).WithRedrawEvery(100)
	}
	progress.Start(0)

	summary := &reduceSummary{}
	dispatcher := a.newDispatcher(a.newReducer(store, publisher), func(res consumer.Result) {
		summary.add(res)
		progress.Add(metrics.Outcome(res))
	})
	dispatcher.Start(ctx)

	source := consumer.NewLineSource(in, decoder)
	source.OnReject = func(e *consumer.DecodeError) {
		summary.reject()
		progress.Add(metrics.OutcomeInvalid)
		a.logger.Warn("rejected reward event", "line", e.Line, "error", e)
	}
	stats, runErr := source.Run(ctx, dispatcher)
	dispatcher.Close()
	summary.Lines = stats.Lines

	if runErr != nil {
		progress.Error(runErr)
		return cli.NewCommandError("reduce", runErr)
	}
	progress.Finish()

	if err := cli.NewFormatter(format).FormatTo(cmd.OutOrStdout(), summary); err != nil {
		return err
	}
	if summary.Failed > 0 {
		return cli.NewCommandError("reduce", fmt.Errorf("%d events could not be reduced", summary.Failed))
	}
	return nil
}

type noProgress struct{}

func (noProgress) Start(int64) {}
func (noProgress) Add(string) {}
func (noProgress) Finish() {}
func (noProgress) Error(error) {}
