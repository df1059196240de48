package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/orchestrator/pkg/client"
	"github.com/cuemby/orchestrator/pkg/coordinator"
)

var coordinateCmd = &cobra.Command{
	Use:   "coordinate",
	Short: "Barrier, election, and partitioning primitives",
}

func init() {
	coordinateCmd.AddCommand(barrierCmd)
	coordinateCmd.AddCommand(electionCmd)
	coordinateCmd.AddCommand(partitionCmd)

	barrierCreateCmd.Flags().StringSlice("expected", nil, "Expected participant worker ids")
	barrierCreateCmd.Flags().Duration("timeout", 30*time.Second, "Barrier deadline")
	_ = barrierCreateCmd.MarkFlagRequired("expected")
	barrierCmd.AddCommand(barrierCreateCmd)

	barrierSignalCmd.Flags().String("worker", "", "Signalling worker id")
	_ = barrierSignalCmd.MarkFlagRequired("worker")
	barrierCmd.AddCommand(barrierSignalCmd)

	electionConductCmd.Flags().StringSlice("candidates", nil, "Candidate worker ids")
	electionConductCmd.Flags().Duration("timeout", 30*time.Second, "Election deadline")
	_ = electionConductCmd.MarkFlagRequired("candidates")
	electionCmd.AddCommand(electionConductCmd)

	electionVoteCmd.Flags().String("voter", "", "Voting worker id")
	electionVoteCmd.Flags().String("candidate", "", "Chosen candidate id")
	_ = electionVoteCmd.MarkFlagRequired("voter")
	_ = electionVoteCmd.MarkFlagRequired("candidate")
	electionCmd.AddCommand(electionVoteCmd)

	partitionCmd.Flags().String("task", "{}", "Task JSON object")
	partitionCmd.Flags().Int("agents", 1, "Number of agents")
	partitionCmd.Flags().String("strategy", "round-robin", "Partitioning strategy (round-robin, hash)")
	partitionCmd.Flags().String("key", "", "Partition key (for hash strategy)")
}

var barrierCmd = &cobra.Command{
	Use:   "barrier",
	Short: "Barrier synchronization",
}

var barrierCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a barrier over a set of participants",
	RunE: func(cmd *cobra.Command, args []string) error {
		expected, _ := cmd.Flags().GetStringSlice("expected")
		timeout, _ := cmd.Flags().GetDuration("timeout")

		c := client.NewClient(clientAddr(cmd))
		id, err := c.CreateBarrier(cmd.Context(), expected, timeout)
		if err != nil {
			return err
		}
		fmt.Println(id)
		return nil
	},
}

var barrierSignalCmd = &cobra.Command{
	Use:   "signal <id>",
	Short: "Signal arrival at a barrier",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		worker, _ := cmd.Flags().GetString("worker")
		c := client.NewClient(clientAddr(cmd))
		return c.SignalBarrier(cmd.Context(), args[0], worker)
	},
}

var electionCmd = &cobra.Command{
	Use:   "election",
	Short: "Leader election by vote",
}

var electionConductCmd = &cobra.Command{
	Use:   "conduct",
	Short: "Start an election over a set of candidates",
	RunE: func(cmd *cobra.Command, args []string) error {
		candidates, _ := cmd.Flags().GetStringSlice("candidates")
		timeout, _ := cmd.Flags().GetDuration("timeout")

		c := client.NewClient(clientAddr(cmd))
		id, err := c.CreateElection(cmd.Context(), candidates, timeout)
		if err != nil {
			return err
		}
		fmt.Println(id)
		return nil
	},
}

var electionVoteCmd = &cobra.Command{
	Use:   "vote <id>",
	Short: "Cast a vote in an election",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		voter, _ := cmd.Flags().GetString("voter")
		candidate, _ := cmd.Flags().GetString("candidate")
		c := client.NewClient(clientAddr(cmd))
		return c.CastVote(cmd.Context(), args[0], voter, candidate)
	},
}

var partitionCmd = &cobra.Command{
	Use:   "partition",
	Short: "Partition a task across agents",
	RunE: func(cmd *cobra.Command, args []string) error {
		taskJSON, _ := cmd.Flags().GetString("task")
		agents, _ := cmd.Flags().GetInt("agents")
		strategy, _ := cmd.Flags().GetString("strategy")
		key, _ := cmd.Flags().GetString("key")

		var task map[string]any
		if err := json.Unmarshal([]byte(taskJSON), &task); err != nil {
			return fmt.Errorf("parse task JSON: %w", err)
		}

		c := client.NewClient(clientAddr(cmd))
		partitions, err := c.PartitionTask(cmd.Context(), task, agents, coordinator.Strategy(strategy), key)
		if err != nil {
			return err
		}
		return printJSON(partitions)
	},
}
