package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/cuemby/ghost/pkg/types"
	"github.com/cuemby/ghost/pkg/worker"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Create a job from a YAML file and run it now",
	Long: `Create a job from a YAML file and execute it in the foreground.

Example job file:

  app_id: 5f1c...
  command: deploy
  user: ops
  modules:
    - name: api
      rev: master

The process exits non-zero unless the job ends done. With --detach the job
is only queued and picked up by ghost serve.`,
	RunE: runJob,
}

var jobCmd = &cobra.Command{
	Use:   "job",
	Short: "Inspect jobs",
}

var jobListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, store, err := setup(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		status, _ := cmd.Flags().GetString("status")
		jobs, err := store.ListJobs(types.JobStatus(status))
		if err != nil {
			return fmt.Errorf("failed to list jobs: %w", err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tAPP\tCOMMAND\tSTATUS\tCREATED")
		for _, job := range jobs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				job.ID, job.AppID, job.Command, job.Status, job.CreatedAt.Format("2006-01-02 15:04:05"))
		}
		return w.Flush()
	},
}

var jobShowCmd = &cobra.Command{
	Use:   "show JOB_ID",
	Short: "Show a job and its status message",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, store, err := setup(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		job, err := store.GetJob(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("ID:       %s\n", job.ID)
		fmt.Printf("App:      %s\n", job.AppID)
		fmt.Printf("Command:  %s\n", job.Command)
		fmt.Printf("User:     %s\n", job.User)
		fmt.Printf("Status:   %s\n", job.Status)
		fmt.Printf("Message:  %s\n", job.Message)
		fmt.Printf("Created:  %s\n", job.CreatedAt.Format("2006-01-02 15:04:05"))
		fmt.Printf("Updated:  %s\n", job.UpdatedAt.Format("2006-01-02 15:04:05"))
		fmt.Printf("Log:      %s\n", worker.NewWorker(&worker.Config{Settings: cfg, Store: store}).LogPath(job.ID))
		return nil
	},
}

func init() {
	runCmd.Flags().StringP("job", "j", "", "Job YAML file (required)")
	runCmd.Flags().Bool("detach", false, "Only queue the job for a running `ghost serve`")
	_ = runCmd.MarkFlagRequired("job")

	jobListCmd.Flags().String("status", "", "Only list jobs with this status")

	jobCmd.AddCommand(jobListCmd)
	jobCmd.AddCommand(jobShowCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(jobCmd)
}

func runJob(cmd *cobra.Command, args []string) error {
	filename, _ := cmd.Flags().GetString("job")
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read job file: %w", err)
	}
	var job types.Job
	if err := yaml.Unmarshal(data, &job); err != nil {
		return fmt.Errorf("failed to parse job file: %w", err)
	}

	cfg, store, err := setup(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	w := worker.NewWorker(&worker.Config{Settings: cfg, Store: store})
	if err := w.Submit(&job); err != nil {
		return err
	}
	fmt.Printf("Job %s created\n", job.ID)
	if detach, _ := cmd.Flags().GetBool("detach"); detach {
		return nil
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	status, msg := w.Execute(ctx, &job)
	fmt.Printf("%s: %s\n", status, msg)
	if status != types.JobStatusDone {
		return fmt.Errorf("job %s %s", job.ID, status)
	}
	return nil
}
