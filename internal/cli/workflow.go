package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

// NewWorkflowCmd создаёт группу команд для просмотра workflow.
func NewWorkflowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workflow",
		Short: "Inspect the loaded workflow",
	}

	cmd.AddCommand(newWorkflowShowCmd(clientFn, outputFn))

	return cmd
}

func newWorkflowShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show workflow stages",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			wf, err := client.GetWorkflow()
			if err != nil {
				return err
			}

			if !out.jsonMode {
				background := wf.Background
				if background == "" {
					background = "-"
				}
				out.Success(fmt.Sprintf("Workflow %s: %d cycles, background %s", wf.Name, wf.MaxCycles, background))
			}

			headers := []string{"POS", "NAME", "KIND", "ACTION", "CAPTURE"}
			rows := make([][]string, len(wf.Stages))
			for i, s := range wf.Stages {
				capture := ""
				if s.Capture {
					capture = "yes"
				}
				rows[i] = []string{strconv.Itoa(s.Position), s.Name, s.Kind, s.Action, capture}
			}

			out.Print(headers, rows, wf)
			return nil
		},
	}
}
