package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/nimburion/monjobs/pkg/attributes"
	"github.com/nimburion/monjobs/pkg/jobs"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// queryFlags are the JobQuery selectors shared by peek and take.
type queryFlags struct {
	ids          []string
	has          string
	acknowledged string
	hasResult    string
	adhoc        string
}

func (q *queryFlags) register(flags *pflag.FlagSet) {
	flags.StringSliceVar(&q.ids, "id", nil, "restrict to these job ids (repeatable)")
	flags.StringVar(&q.has, "has", "", `attribute constraints as a JSON object, e.g. {"kind":["a","b"]}`)
	flags.StringVar(&q.acknowledged, "acknowledged", "", "filter on acknowledgment presence (true|false)")
	flags.StringVar(&q.hasResult, "has-result", "", "filter on result presence (true|false)")
	flags.StringVar(&q.adhoc, "query", "", "extra MongoDB Extended JSON query ANDed with the other selectors")
}

func (q *queryFlags) jobQuery(queue string) (jobs.JobQuery, error) {
	query := jobs.JobQuery{
		QueueID:    jobs.QueueID(queue),
		AdhocQuery: q.adhoc,
	}
	for _, id := range q.ids {
		query.JobIDs = append(query.JobIDs, jobs.JobID(id))
	}
	var err error
	if query.HasAttributes, err = parseBag("has", q.has); err != nil {
		return jobs.JobQuery{}, err
	}
	if query.HasBeenAcknowledged, err = parseTriState("acknowledged", q.acknowledged); err != nil {
		return jobs.JobQuery{}, err
	}
	if query.HasResult, err = parseTriState("has-result", q.hasResult); err != nil {
		return jobs.JobQuery{}, err
	}
	return query, nil
}

func newEnqueueCommand(state *rootState) *cobra.Command {
	var id, attrs string
	cmd := &cobra.Command{
		Use:   "enqueue QUEUE",
		Short: "Add a job to a queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bag, err := parseBag("attributes", attrs)
			if err != nil {
				return err
			}
			rt, err := state.open(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			job, err := rt.service.Enqueue(cmd.Context(), &jobs.Job{
				ID:         jobs.JobID(id),
				QueueID:    jobs.QueueID(args[0]),
				Attributes: bag,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), job)
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "job id (generated when empty)")
	cmd.Flags().StringVar(&attrs, "attributes", "", "job attributes as a JSON object")
	return cmd
}

func newGetCommand(state *rootState) *cobra.Command {
	return &cobra.Command{
		Use:   "get QUEUE JOB_ID",
		Short: "Print one job",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := state.open(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			job, err := rt.service.Get(cmd.Context(), jobs.QueueID(args[0]), jobs.JobID(args[1]))
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), job)
		},
	}
}

func newPeekCommand(state *rootState) *cobra.Command {
	var (
		selectors queryFlags
		limit     int
	)
	cmd := &cobra.Command{
		Use:   "peek QUEUE",
		Short: "List matching jobs without claiming them",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query, err := selectors.jobQuery(args[0])
			if err != nil {
				return err
			}
			rt, err := state.open(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			found, err := rt.service.Peek(cmd.Context(), jobs.PeekNextQuery{JobQuery: query, Limit: limit})
			if err != nil {
				return err
			}
			if found == nil {
				found = []*jobs.Job{}
			}
			return printJSON(cmd.OutOrStdout(), found)
		},
	}
	selectors.register(cmd.Flags())
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of jobs (defaults to jobs.default_peek_limit)")
	return cmd
}

func newTakeCommand(state *rootState) *cobra.Command {
	var (
		selectors queryFlags
		ack       string
	)
	cmd := &cobra.Command{
		Use:   "take QUEUE",
		Short: "Claim the next matching job and print it, or null when none is available",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query, err := selectors.jobQuery(args[0])
			if err != nil {
				return err
			}
			bag, err := parseBag("ack", ack)
			if err != nil {
				return err
			}
			rt, err := state.open(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			job, err := rt.service.TakeNext(cmd.Context(), jobs.TakeNextOptions{JobQuery: query, Acknowledgment: bag})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), job)
		},
	}
	selectors.register(cmd.Flags())
	cmd.Flags().StringVar(&ack, "ack", "", "acknowledgment written by the claim, as a JSON object")
	return cmd
}

func newAckCommand(state *rootState) *cobra.Command {
	var ack string
	cmd := &cobra.Command{
		Use:   "ack QUEUE JOB_ID",
		Short: "Acknowledge a peeked job; success is false when another worker claimed it first",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			bag, err := parseBag("ack", ack)
			if err != nil {
				return err
			}
			rt, err := state.open(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			result, err := rt.service.Acknowledge(cmd.Context(), jobs.QueueID(args[0]), jobs.JobID(args[1]), bag)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]bool{"success": result.Success})
		},
	}
	cmd.Flags().StringVar(&ack, "ack", "", "acknowledgment as a JSON object")
	return cmd
}

func newReportCommand(state *rootState) *cobra.Command {
	var report string
	cmd := &cobra.Command{
		Use:   "report QUEUE JOB_ID",
		Short: "Append a progress report to a job",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			bag, err := parseBag("report", report)
			if err != nil {
				return err
			}
			rt, err := state.open(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			return rt.service.AddReport(cmd.Context(), jobs.QueueID(args[0]), jobs.JobID(args[1]), bag)
		},
	}
	cmd.Flags().StringVar(&report, "report", "", "report as a JSON object")
	_ = cmd.MarkFlagRequired("report")
	return cmd
}

func newCompleteCommand(state *rootState) *cobra.Command {
	var result string
	cmd := &cobra.Command{
		Use:   "complete QUEUE JOB_ID",
		Short: "Record the result of a job; a job is completed once",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			bag, err := parseBag("result", result)
			if err != nil {
				return err
			}
			rt, err := state.open(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			return rt.service.Complete(cmd.Context(), jobs.QueueID(args[0]), jobs.JobID(args[1]), bag)
		},
	}
	cmd.Flags().StringVar(&result, "result", "", "result as a JSON object")
	_ = cmd.MarkFlagRequired("result")
	return cmd
}

// parseBag decodes a JSON object flag. An empty value yields an empty bag.
func parseBag(flag, raw string) (attributes.Bag, error) {
	var bag attributes.Bag
	if strings.TrimSpace(raw) == "" {
		return bag, nil
	}
	if err := json.Unmarshal([]byte(raw), &bag); err != nil {
		return attributes.Bag{}, fmt.Errorf("%w: --%s: %v", jobs.ErrValidation, flag, err)
	}
	return bag, nil
}

// parseTriState returns nil for an empty value, so the selector is left unset.
func parseTriState(flag, raw string) (*bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: --%s must be true or false", jobs.ErrValidation, flag)
	}
	return jobs.Bool(value), nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
