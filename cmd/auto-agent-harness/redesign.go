package main

import "github.com/spf13/cobra"

func newRedesignCmd(apiAddr *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "redesign",
		Short: "Trigger, approve, or cancel a redesign session",
	}
	cmd.AddCommand(newRedesignStartCmd(apiAddr))
	cmd.AddCommand(newRedesignApproveCmd(apiAddr))
	cmd.AddCommand(&cobra.Command{
		Use:   "cancel SESSION_ID",
		Short: "Cancel a redesign session's in-flight run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return newAPIClient(*apiAddr).do("POST", "/api/v1/redesign/sessions/"+args[0]+"/cancel", nil, nil)
		},
	})
	return cmd
}

func newRedesignStartCmd(apiAddr *string) *cobra.Command {
	var styleBrief string
	cmd := &cobra.Command{
		Use:   "start PROJECT_ID",
		Short: "Start a redesign session for a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := map[string]any{"project_id": args[0], "style_brief": styleBrief}
			var session map[string]any
			if err := newAPIClient(*apiAddr).do("POST", "/api/v1/redesign/sessions", req, &session); err != nil {
				return err
			}
			return printJSON(session)
		},
	}
	cmd.Flags().StringVar(&styleBrief, "style-brief", "", "free-text style brief guiding extraction")
	return cmd
}

func newRedesignApproveCmd(apiAddr *string) *cobra.Command {
	var phase string
	cmd := &cobra.Command{
		Use:   "approve SESSION_ID",
		Short: "Approve a pending redesign phase, waking any suspended require_phase_approval call",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := map[string]any{"phase": phase}
			return newAPIClient(*apiAddr).do("POST", "/api/v1/redesign/sessions/"+args[0]+"/approve", req, nil)
		},
	}
	cmd.Flags().StringVar(&phase, "phase", "", "phase key to approve (globals, config, components, pages)")
	_ = cmd.MarkFlagRequired("phase")
	return cmd
}
