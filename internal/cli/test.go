package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

// NewTestCmd создаёт группу команд для управления тестами.
func NewTestCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "test",
		Short: "Manage tests",
	}

	cmd.AddCommand(
		newTestListCmd(clientFn, outputFn),
		newTestStartCmd(clientFn, outputFn),
		newTestStopCmd(clientFn, outputFn),
		newTestConfirmCmd(clientFn, outputFn),
		newTestEventsCmd(clientFn, outputFn),
		newTestRunsCmd(clientFn, outputFn),
	)

	return cmd
}

func newTestListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List active tests",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			tests, err := client.ListTests()
			if err != nil {
				return err
			}

			headers := []string{"TEST_ID", "RUN_ID", "STARTED", "DURATION", "PENDING_CYCLE"}
			rows := make([][]string, len(tests))
			for i, t := range tests {
				rows[i] = []string{
					t.TestID,
					t.RunID,
					shortTime(t.StartTime),
					fmt.Sprintf("%.0fs", t.DurationSec),
					optInt(t.PendingCycle),
				}
			}

			out.Print(headers, rows, tests)
			return nil
		},
	}
}

func newTestStartCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "start TEST_ID",
		Short: "Start a test",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			resp, err := client.StartTest(args[0])
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Test %s started", resp.TestID))
			return nil
		},
	}
}

func newTestStopCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "stop TEST_ID",
		Short: "Stop a running test",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			resp, err := client.StopTest(args[0])
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Test %s stopped", resp.TestID))
			return nil
		},
	}
}

func newTestConfirmCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var decline bool

	cmd := &cobra.Command{
		Use:   "confirm TEST_ID",
		Short: "Confirm the next cycle (or decline with --decline)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			resp, err := client.ConfirmTest(args[0], !decline)
			if err != nil {
				return err
			}

			if decline {
				out.Success(fmt.Sprintf("Test %s: cycle declined", resp.TestID))
			} else {
				out.Success(fmt.Sprintf("Test %s: cycle confirmed", resp.TestID))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&decline, "decline", false, "Decline the next cycle (the test finishes as failed)")

	return cmd
}

func newTestEventsCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "events TEST_ID",
		Short: "Show status events of a test from the run journal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			events, err := client.ListEvents(args[0], limit)
			if err != nil {
				return err
			}

			headers := []string{"ID", "TIME", "STATUS", "STAGE", "CYCLE", "MESSAGE"}
			rows := make([][]string, len(events))
			for i, e := range events {
				rows[i] = []string{
					strconv.FormatInt(e.ID, 10),
					shortTime(e.Timestamp),
					e.Status,
					optInt(e.Stage),
					optInt(e.Cycle),
					e.Message,
				}
			}

			out.Print(headers, rows, events)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of events (latest)")

	return cmd
}

func newTestRunsCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs [TEST_ID]",
		Short: "List runs from the run journal",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			var testID string
			if len(args) == 1 {
				testID = args[0]
			}

			runs, err := client.ListRuns(testID, limit)
			if err != nil {
				return err
			}

			headers := []string{"RUN_ID", "TEST_ID", "STATUS", "STAGE", "CYCLE", "STARTED", "MESSAGE"}
			rows := make([][]string, len(runs))
			for i, r := range runs {
				rows[i] = []string{
					r.RunID,
					r.TestID,
					r.Status,
					optInt(r.Stage),
					optInt(r.Cycle),
					shortTime(r.StartedAt),
					r.Message,
				}
			}

			out.Print(headers, rows, runs)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of results")

	return cmd
}
