package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kenxsak/omniflow-buisness-sub009/internal/store"
)

var jobsListCompany string

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Job inspection commands",
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List campaign jobs for a company",
	RunE:  runJobsList,
}

var jobsShowCmd = &cobra.Command{
	Use:   "show <job_id>",
	Short: "Show job details",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsShow,
}

var jobsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show job counts by status",
	RunE:  runJobsStats,
}

func init() {
	jobsListCmd.Flags().StringVar(&jobsListCompany, "company", "", "Company ID to list jobs for")
	jobsListCmd.MarkFlagRequired("company")

	jobsCmd.AddCommand(jobsListCmd, jobsShowCmd, jobsStatsCmd)
	rootCmd.AddCommand(jobsCmd)
}

func openJobStore() (*store.JobStore, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	jobs, err := store.Open(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open job store: %w", err)
	}

	return jobs, nil
}

func runJobsList(cmd *cobra.Command, args []string) error {
	jobs, err := openJobStore()
	if err != nil {
		return err
	}
	defer jobs.Close()

	ctx := context.Background()

	list, err := jobs.JobsForCompany(ctx, jobsListCompany)
	if err != nil {
		return fmt.Errorf("failed to list jobs: %w", err)
	}

	if len(list) == 0 {
		fmt.Println("No jobs found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTYPE\tSTATUS\tSENT\tFAILED\tTOTAL\tATTEMPTS\tCREATED")
	fmt.Fprintln(w, "--\t----\t------\t----\t------\t-----\t--------\t-------")

	for _, job := range list {
		created := job.CreatedAt.Format("2006-01-02 15:04")

		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
			truncateID(job.ID),
			job.JobType,
			job.Status,
			job.Progress.Sent,
			job.Progress.Failed,
			job.Progress.Total,
			job.Retry.Attempts,
			created,
		)
	}

	w.Flush()
	fmt.Printf("\nTotal: %d jobs\n", len(list))

	return nil
}

func runJobsShow(cmd *cobra.Command, args []string) error {
	jobs, err := openJobStore()
	if err != nil {
		return err
	}
	defer jobs.Close()

	ctx := context.Background()
	id := args[0]

	job, err := jobs.GetJob(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("job not found: %s", id)
		}
		return fmt.Errorf("failed to get job: %w", err)
	}

	fmt.Printf("Job: %s\n\n", job.ID)
	fmt.Printf("Company:    %s\n", job.CompanyID)
	if job.CreatedBy != "" {
		fmt.Printf("Created by: %s\n", job.CreatedBy)
	}
	fmt.Printf("Type:       %s\n", job.JobType)
	fmt.Printf("Provider:   %s\n", job.Provider())
	fmt.Printf("Status:     %s\n", job.Status)
	fmt.Printf("Created:    %s\n", job.CreatedAt.Format(time.RFC3339))
	if job.StartedAt != nil {
		fmt.Printf("Started:    %s\n", job.StartedAt.Format(time.RFC3339))
	}
	if job.CompletedAt != nil {
		fmt.Printf("Completed:  %s\n", job.CompletedAt.Format(time.RFC3339))
	}

	fmt.Printf("\nProgress: %d/%d sent, %d failed (batch %d of %d)\n",
		job.Progress.Sent, job.Progress.Total, job.Progress.Failed,
		job.Progress.CurrentBatch, job.Progress.TotalBatches)

	fmt.Printf("Attempts: %d/%d\n", job.Retry.Attempts, job.Retry.MaxAttempts)
	if job.Retry.NextRetryAt != nil {
		fmt.Printf("Next Retry: %s\n", job.Retry.NextRetryAt.Format(time.RFC3339))
	}

	if job.Error != "" {
		fmt.Printf("\nLast Error:\n  %s\n", job.Error)
	}

	if len(job.FailedRecipients) > 0 {
		fmt.Printf("\nFailed Recipients (%d):\n", len(job.FailedRecipients))
		for i, fr := range job.FailedRecipients {
			if i >= 10 {
				fmt.Printf("  ... and %d more\n", len(job.FailedRecipients)-10)
				break
			}
			fmt.Printf("  %s: %s\n", fr.Recipient.Key(job.JobType), fr.Error)
		}
	}

	return nil
}

func runJobsStats(cmd *cobra.Command, args []string) error {
	jobs, err := openJobStore()
	if err != nil {
		return err
	}
	defer jobs.Close()

	stats, err := jobs.Stats(context.Background())
	if err != nil {
		return fmt.Errorf("failed to get job stats: %w", err)
	}

	fmt.Println("Job Statistics")
	fmt.Println("==============")
	fmt.Printf("Total:      %d\n", stats.Total)
	fmt.Printf("Pending:    %d\n", stats.Pending)
	fmt.Printf("Processing: %d\n", stats.Processing)
	fmt.Printf("Retrying:   %d\n", stats.Retrying)
	fmt.Printf("Completed:  %d\n", stats.Completed)
	fmt.Printf("Failed:     %d\n", stats.Failed)

	return nil
}

func truncateID(id string) string {
	if len(id) <= 12 {
		return id
	}
	return id[:12] + "..."
}
