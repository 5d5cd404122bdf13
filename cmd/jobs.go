package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/shannonlabs/shannon/internal/bus"
	"github.com/shannonlabs/shannon/internal/config"
	"github.com/shannonlabs/shannon/internal/pause"
	"github.com/shannonlabs/shannon/internal/scheduler"
)

// jobsCmd inspects and edits the cron jobs database without running
// the gateway.
func jobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Manage scheduled cron jobs",
	}
	cmd.AddCommand(jobsListCmd(), jobsAddCmd(), jobsRemoveCmd())
	return cmd
}

func openSchedulerOffline() (*scheduler.Scheduler, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, err
	}
	return scheduler.Open(cfg.ResolvedDataDir(), cfg.ResolvedHeartbeatFile(),
		cfg.Scheduler.HeartbeatInterval(), bus.New(), pause.NewManager())
}

func jobsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all jobs",
		Run: func(cmd *cobra.Command, args []string) {
			sched, err := openSchedulerOffline()
			if err != nil {
				fmt.Fprintln(os.Stderr, "error:", err)
				os.Exit(1)
			}
			defer sched.Stop()

			jobs, err := sched.ListJobs()
			if err != nil {
				fmt.Fprintln(os.Stderr, "error:", err)
				os.Exit(1)
			}
			if len(jobs) == 0 {
				fmt.Println("No scheduled jobs.")
				return
			}
			for _, j := range jobs {
				state := "enabled"
				if !j.Enabled {
					state = "disabled"
				}
				fmt.Printf("%-4d %-20s %-16s %-9s %s\n", j.ID, j.Name, j.CronExpr, state, j.Action)
			}
		},
	}
}

func jobsAddCmd() *cobra.Command {
	var channel string
	cmd := &cobra.Command{
		Use:   "add <name> <cron-expr> <action>",
		Short: "Add a job",
		Args:  cobra.ExactArgs(3),
		Run: func(cmd *cobra.Command, args []string) {
			sched, err := openSchedulerOffline()
			if err != nil {
				fmt.Fprintln(os.Stderr, "error:", err)
				os.Exit(1)
			}
			defer sched.Stop()

			id, err := sched.AddJob(args[0], args[1], args[2], channel)
			if err != nil {
				fmt.Fprintln(os.Stderr, "error:", err)
				os.Exit(1)
			}
			fmt.Printf("Added job %q (id %d)\n", args[0], id)
		},
	}
	cmd.Flags().StringVar(&channel, "channel", "", "delivery target as platform:channel")
	return cmd
}

func jobsRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <name>",
		Short: "Remove a job",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			sched, err := openSchedulerOffline()
			if err != nil {
				fmt.Fprintln(os.Stderr, "error:", err)
				os.Exit(1)
			}
			defer sched.Stop()

			removed, err := sched.RemoveJob(args[0])
			if err != nil {
				fmt.Fprintln(os.Stderr, "error:", err)
				os.Exit(1)
			}
			if !removed {
				fmt.Printf("No job named %q\n", args[0])
				os.Exit(1)
			}
			fmt.Printf("Removed job %q\n", args[0])
		},
	}
}
