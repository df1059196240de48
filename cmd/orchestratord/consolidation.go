package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cuemby/orchestrator/pkg/client"
	"github.com/cuemby/orchestrator/pkg/types"
)

var consolidationCmd = &cobra.Command{
	Use:   "consolidation",
	Short: "Manage consolidations",
}

func init() {
	consolidationCmd.AddCommand(consolidationCreateCmd)
	consolidationCmd.AddCommand(consolidationAnalyzeCmd)
	consolidationCmd.AddCommand(consolidationResolveCmd)
	consolidationCmd.AddCommand(consolidationExportCmd)
	consolidationCmd.AddCommand(consolidationLsCmd)
	consolidationCmd.AddCommand(consolidationRmCmd)

	consolidationCreateCmd.Flags().String("project", "", "Project scope")
	consolidationCreateCmd.Flags().String("base", "", "Base revision")
	consolidationCreateCmd.Flags().StringSlice("worker", nil, "Participant worker id (repeatable)")
	_ = consolidationCreateCmd.MarkFlagRequired("project")
	_ = consolidationCreateCmd.MarkFlagRequired("base")
	_ = consolidationCreateCmd.MarkFlagRequired("worker")

	consolidationResolveCmd.Flags().String("file", "", "JSON file of resolutions ([]types.Resolution)")
	_ = consolidationResolveCmd.MarkFlagRequired("file")

	consolidationExportCmd.Flags().String("branch", "", "Target branch for the merge commit")
	consolidationExportCmd.Flags().String("message", "consolidated merge", "Commit message")
	_ = consolidationExportCmd.MarkFlagRequired("branch")
}

var consolidationCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a consolidation over a set of workers",
	RunE: func(cmd *cobra.Command, args []string) error {
		project, _ := cmd.Flags().GetString("project")
		base, _ := cmd.Flags().GetString("base")
		workers, _ := cmd.Flags().GetStringSlice("worker")

		c := client.NewClient(clientAddr(cmd))
		con, err := c.CreateConsolidation(cmd.Context(), project, base, workers)
		if err != nil {
			return err
		}
		fmt.Println(con.ID)
		return nil
	},
}

var consolidationAnalyzeCmd = &cobra.Command{
	Use:   "analyze <id>",
	Short: "Analyze per-worker diffs and detect conflicts",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := client.NewClient(clientAddr(cmd))
		preview, err := c.AnalyzeConsolidation(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(preview)
	},
}

var consolidationResolveCmd = &cobra.Command{
	Use:   "resolve <id>",
	Short: "Apply resolutions and produce a merge plan",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("file")
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read resolutions file: %w", err)
		}
		var resolutions []types.Resolution
		if err := json.Unmarshal(data, &resolutions); err != nil {
			return fmt.Errorf("parse resolutions file: %w", err)
		}

		c := client.NewClient(clientAddr(cmd))
		plan, err := c.ResolveConsolidation(cmd.Context(), args[0], resolutions)
		if err != nil {
			return err
		}
		return printJSON(plan)
	},
}

var consolidationExportCmd = &cobra.Command{
	Use:   "export <id>",
	Short: "Apply the merge plan and commit to a target branch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		branch, _ := cmd.Flags().GetString("branch")
		message, _ := cmd.Flags().GetString("message")

		c := client.NewClient(clientAddr(cmd))
		result, err := c.ExportConsolidation(cmd.Context(), args[0], branch, message)
		if err != nil {
			return err
		}
		return printJSON(result)
	},
}

var consolidationLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List consolidations",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := client.NewClient(clientAddr(cmd))
		consolidations, err := c.ListConsolidations(cmd.Context())
		if err != nil {
			return err
		}
		for _, con := range consolidations {
			fmt.Printf("%s\t%-10s\t%s\n", con.ID, con.Status, con.BaseRevision)
		}
		return nil
	},
}

var consolidationRmCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Delete a consolidation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := client.NewClient(clientAddr(cmd))
		if err := c.DeleteConsolidation(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("removed %s\n", args[0])
		return nil
	},
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
