package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newProjectCmd(apiAddr *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "project",
		Short: "Create, list, get, or remove projects, or update a project's spec",
	}
	cmd.AddCommand(newProjectCreateCmd(apiAddr))
	cmd.AddCommand(newProjectListCmd(apiAddr))
	cmd.AddCommand(newProjectGetCmd(apiAddr))
	cmd.AddCommand(newProjectDeleteCmd(apiAddr))
	cmd.AddCommand(newProjectUpdateSpecCmd(apiAddr))
	return cmd
}

func newProjectCreateCmd(apiAddr *string) *cobra.Command {
	var workspacePath, specFile, modelID string
	var yolo, requireTDD, envConfigPolicy bool

	cmd := &cobra.Command{
		Use:   "create NAME",
		Short: "Create a project from a spec file and register its workspace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			specText, err := os.ReadFile(specFile)
			if err != nil {
				return usageErr(fmt.Errorf("reading spec file: %w", err))
			}
			req := map[string]any{
				"name":           args[0],
				"workspace_path": workspacePath,
				"spec_text":      string(specText),
				"agent_settings": map[string]any{
					"ModelID":         modelID,
					"YoloMode":        yolo,
					"RequireTDD":      requireTDD,
					"EnvConfigPolicy": envConfigPolicy,
				},
			}
			var project map[string]any
			if err := newAPIClient(*apiAddr).do("POST", "/api/v1/projects", req, &project); err != nil {
				return err
			}
			return printJSON(project)
		},
	}
	cmd.Flags().StringVar(&workspacePath, "workspace", "", "absolute path to the project workspace")
	cmd.Flags().StringVar(&specFile, "spec", "", "path to the app spec text file")
	cmd.Flags().StringVar(&modelID, "model", "", "default model id for spawned agents")
	cmd.Flags().BoolVar(&yolo, "yolo", false, "skip confirmation prompts in spawned agents")
	cmd.Flags().BoolVar(&requireTDD, "require-tdd", false, "require tests before implementation")
	cmd.Flags().BoolVar(&envConfigPolicy, "env-config-policy", false, "enforce environment-driven configuration")
	_ = cmd.MarkFlagRequired("workspace")
	_ = cmd.MarkFlagRequired("spec")
	return cmd
}

func newProjectListCmd(apiAddr *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every registered project",
		RunE: func(cmd *cobra.Command, args []string) error {
			var projects []map[string]any
			if err := newAPIClient(*apiAddr).do("GET", "/api/v1/projects", nil, &projects); err != nil {
				return err
			}
			return printJSON(projects)
		},
	}
}

func newProjectGetCmd(apiAddr *string) *cobra.Command {
	return &cobra.Command{
		Use:   "get ID",
		Short: "Show one project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var project map[string]any
			if err := newAPIClient(*apiAddr).do("GET", "/api/v1/projects/"+args[0], nil, &project); err != nil {
				return err
			}
			return printJSON(project)
		},
	}
}

func newProjectDeleteCmd(apiAddr *string) *cobra.Command {
	return &cobra.Command{
		Use:   "rm ID",
		Short: "Delete a project (fails if it has an active run)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return newAPIClient(*apiAddr).do("DELETE", "/api/v1/projects/"+args[0], nil, nil)
		},
	}
}

func newProjectUpdateSpecCmd(apiAddr *string) *cobra.Command {
	var specFile string
	cmd := &cobra.Command{
		Use:   "update-spec ID",
		Short: "Submit a revised spec and reconcile the feature backlog against it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			specText, err := os.ReadFile(specFile)
			if err != nil {
				return usageErr(fmt.Errorf("reading spec file: %w", err))
			}
			req := map[string]any{"spec_text": string(specText)}
			var result map[string]any
			if err := newAPIClient(*apiAddr).do("POST", "/api/v1/projects/"+args[0]+"/spec", req, &result); err != nil {
				return err
			}
			return printJSON(result)
		},
	}
	cmd.Flags().StringVar(&specFile, "spec", "", "path to the revised spec text file")
	_ = cmd.MarkFlagRequired("spec")
	return cmd
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
