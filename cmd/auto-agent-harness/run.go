package main

import "github.com/spf13/cobra"

func newRunCmd(apiAddr *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Trigger or cancel a project's run",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "start PROJECT_ID",
		Short: "Trigger a run (fails with conflict if one is already active)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var result map[string]any
			if err := newAPIClient(*apiAddr).do("POST", "/api/v1/projects/"+args[0]+"/runs", nil, &result); err != nil {
				return err
			}
			return printJSON(result)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "cancel PROJECT_ID",
		Short: "Cancel a project's in-flight run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return newAPIClient(*apiAddr).do("POST", "/api/v1/projects/"+args[0]+"/runs/cancel", nil, nil)
		},
	})
	return cmd
}
