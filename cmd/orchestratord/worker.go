package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cuemby/orchestrator/pkg/client"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Manage workers",
}

func init() {
	workerCmd.AddCommand(workerLsCmd)
	workerCmd.AddCommand(workerSpawnCmd)
	workerCmd.AddCommand(workerTerminateCmd)
	workerCmd.AddCommand(workerLogsCmd)
	workerCmd.AddCommand(workerStatsCmd)

	workerSpawnCmd.Flags().String("project", "", "Project scope (repository root)")
	workerSpawnCmd.Flags().String("name", "", "Worker name")
	workerSpawnCmd.Flags().String("type", "", "Worker type tag")
	workerSpawnCmd.Flags().String("task", "", "Task description")
	workerSpawnCmd.Flags().String("base", "", "Base revision")
	workerSpawnCmd.Flags().String("branch", "", "Custom branch name (auto-generated if empty)")
	workerSpawnCmd.Flags().String("command", "", "Command to run inside the working copy")
	workerSpawnCmd.Flags().Int("count", 1, "Number of workers to spawn (1-10)")
	_ = workerSpawnCmd.MarkFlagRequired("project")
	_ = workerSpawnCmd.MarkFlagRequired("name")
	_ = workerSpawnCmd.MarkFlagRequired("base")

	workerLogsCmd.Flags().Int("offset", 0, "Line offset")
	workerLogsCmd.Flags().Int("count", 100, "Line count")

	workerTerminateCmd.Flags().String("reason", "user_initiated", "Termination reason")

	workerLsCmd.Flags().String("status", "", "Filter by status")
	workerLsCmd.Flags().String("project", "", "Filter by project")
}

var workerLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List workers",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")
		project, _ := cmd.Flags().GetString("project")

		c := client.NewClient(clientAddr(cmd))
		workers, err := c.ListWorkers(cmd.Context(), status, project)
		if err != nil {
			return err
		}
		for _, w := range workers {
			fmt.Printf("%s\t%-10s\t%-20s\t%s\n", w.ID, w.Status, w.Name, w.Branch)
		}
		return nil
	},
}

var workerSpawnCmd = &cobra.Command{
	Use:   "spawn",
	Short: "Spawn one or more workers",
	RunE: func(cmd *cobra.Command, args []string) error {
		project, _ := cmd.Flags().GetString("project")
		name, _ := cmd.Flags().GetString("name")
		typ, _ := cmd.Flags().GetString("type")
		task, _ := cmd.Flags().GetString("task")
		base, _ := cmd.Flags().GetString("base")
		branch, _ := cmd.Flags().GetString("branch")
		command, _ := cmd.Flags().GetString("command")
		count, _ := cmd.Flags().GetInt("count")

		c := client.NewClient(clientAddr(cmd))
		workers, err := c.SpawnWorkers(cmd.Context(), client.SpawnRequest{
			ProjectScope: project,
			Name:         name,
			Type:         typ,
			Task:         task,
			BaseRevision: base,
			Branch:       branch,
			Command:      command,
			Count:        count,
		})
		if err != nil {
			return err
		}
		for _, w := range workers {
			fmt.Printf("spawned %s (%s) on branch %s\n", w.ID, w.Name, w.Branch)
		}
		return nil
	},
}

var workerTerminateCmd = &cobra.Command{
	Use:   "terminate <id>",
	Short: "Terminate a worker",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reason, _ := cmd.Flags().GetString("reason")
		c := client.NewClient(clientAddr(cmd))
		if err := c.TerminateWorker(cmd.Context(), args[0], reason); err != nil {
			return err
		}
		fmt.Printf("terminated %s\n", args[0])
		return nil
	},
}

var workerLogsCmd = &cobra.Command{
	Use:   "logs <id>",
	Short: "Fetch buffered worker logs",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		offset, _ := cmd.Flags().GetInt("offset")
		count, _ := cmd.Flags().GetInt("count")

		c := client.NewClient(clientAddr(cmd))
		stdout, stderr, err := c.WorkerLogs(cmd.Context(), args[0], offset, count)
		if err != nil {
			return err
		}
		for _, line := range stdout {
			fmt.Println("[stdout]", line)
		}
		for _, line := range stderr {
			fmt.Println("[stderr]", line)
		}
		return nil
	},
}

var workerStatsCmd = &cobra.Command{
	Use:   "stats <id>",
	Short: "Fetch worker resource statistics",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := client.NewClient(clientAddr(cmd))
		stats, err := c.WorkerStats(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("memory: %d bytes (peak %d)\ncpu: %.1f%% (avg %.1f%%)\nuptime: %dms\n",
			stats.CurrentMemoryBytes, stats.PeakMemoryBytes,
			stats.CurrentCPUPercent, stats.AverageCPUPercent, stats.UptimeMillis)
		return nil
	},
}
