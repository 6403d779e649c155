package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/embano1/transcribe/internal/queue"
)

func (a *app) queueClient() *queue.Client {
	r := a.cfg.Redis
	return queue.New(queue.Config{
		Addr:         r.Addr,
		Password:     r.Password,
		DB:           r.DB,
		Queue:        r.Queue,
		ResultPrefix: r.ResultPrefix,
		ResultTTL:    r.ResultTTL,
	})
}

func (a *app) queueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Submit jobs to and read results from the Redis job queue",
	}

	submit := &cobra.Command{
		Use:   "submit <audio_file>",
		Short: "Queue a file for a worker",
		Args:  usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := a.queueClient()
			defer c.Close()

			id, err := c.Submit(cmd.Context(), a.requestOptions(cmd, args[0]))
			if err != nil {
				return err
			}
			fmt.Fprintln(a.stdout, id)
			return nil
		},
	}

	status := &cobra.Command{
		Use:   "status",
		Short: "Show the queue length and recent results",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := a.queueClient()
			defer c.Close()

			st, err := c.Status(cmd.Context(), 5)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "Queue length: %d\n", st.Pending)
			if len(st.Results) > 0 {
				fmt.Fprintf(a.stdout, "Recent results: %d\n", len(st.Results))
				for _, r := range st.Results {
					fmt.Fprintf(a.stdout, "  %s: %s\n", r.JobID, jobStatus(r.Status))
				}
			}
			return nil
		},
	}

	result := &cobra.Command{
		Use:   "result <job_id>",
		Short: "Print the result of a job",
		Args:  usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := a.queueClient()
			defer c.Close()

			r, err := c.Result(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if r == nil {
				fmt.Fprintln(a.stdout, dimStyle.Render("No result yet."))
				return nil
			}
			if err := printJSON(a.stdout, r); err != nil {
				return err
			}
			if r.Status != queue.StatusCompleted {
				return errFailed
			}
			return nil
		},
	}

	var waitFor time.Duration
	wait := &cobra.Command{
		Use:   "wait <job_id>",
		Short: "Wait for a job to finish and print its result",
		Args:  usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := a.queueClient()
			defer c.Close()

			r, err := c.Wait(cmd.Context(), args[0], waitFor, 2*time.Second)
			if err != nil {
				return err
			}
			if err := printJSON(a.stdout, r); err != nil {
				return err
			}
			if r.Status != queue.StatusCompleted {
				return errFailed
			}
			return nil
		},
	}
	wait.Flags().DurationVar(&waitFor, "wait-timeout", 5*time.Minute, "How long to wait")

	cmd.AddCommand(submit, status, result, wait)
	return cmd
}

func jobStatus(s string) string {
	if s == queue.StatusCompleted {
		return successStyle.Render(s)
	}
	return errorStyle.Render(s)
}

