/*
Package cli provides command-line helpers for the objectives command.

Output Formatting:

Results print as text, JSON or CSV. Listings implement Tabular so the text
formatter can align them and the CSV formatter can emit them:

	format, err := cli.ParseOutputFormat(flags.output)
	if err != nil {
		return err
	}
	return cli.NewFormatter(format).FormatTo(os.Stdout, rows)

Progress Reporting:

Replays of reward event files report per-outcome counts:

	progress := cli.NewProgressReporter(os.Stderr)
	progress.Start(0)
	progress.Add("applied")
	progress.Finish()

Signal Handling:

	ctx, stop := cli.SignalContext(context.Background())
	defer stop()
*/
package cli
