package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/sirosfoundation/go-ksef/internal/storage"
)

var (
	submissionsFailed bool
	submissionsOK     bool
	submissionsSeller string
	submissionsSince  time.Duration
	submissionsLimit  int
)

var submissionsCmd = &cobra.Command{
	Use:   "submissions",
	Short: "List recorded submissions",
	Long: `Lists submission records kept in the configured storage. Only the
mongodb storage outlives the process that made the submission.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if submissionsFailed && submissionsOK {
			return fmt.Errorf("--failed and --ok are mutually exclusive")
		}
		store, err := newStore(ctx, cfg)
		if err != nil {
			return err
		}
		if store == nil {
			return fmt.Errorf("storage is disabled; set storage.type")
		}
		defer store.Close(ctx)

		filter := &storage.SubmissionFilter{SellerID: submissionsSeller, Limit: submissionsLimit}
		switch {
		case submissionsFailed:
			filter.Failed = &submissionsFailed
		case submissionsOK:
			failed := false
			filter.Failed = &failed
		}
		if submissionsSince > 0 {
			since := time.Now().Add(-submissionsSince)
			filter.Since = &since
		}

		subs, err := store.ListSubmissions(ctx, filter)
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "SUBMITTED\tSTATUS\tKSEF NUMBER\tINVOICE\tSELLER\tGROSS")
		for _, s := range subs {
			fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t%s\n",
				s.SubmittedAt.Local().Format(time.DateTime), s.Status,
				s.KsefNumber, s.InvoiceNumber, s.SellerID, s.GrossAmount)
		}
		return tw.Flush()
	},
}

func init() {
	submissionsCmd.Flags().BoolVar(&submissionsFailed, "failed", false, "Only failed submissions")
	submissionsCmd.Flags().BoolVar(&submissionsOK, "ok", false, "Only accepted submissions")
	submissionsCmd.Flags().StringVar(&submissionsSeller, "seller", "", "Only submissions of this seller NIP")
	submissionsCmd.Flags().DurationVar(&submissionsSince, "since", 0, "Only submissions newer than this")
	submissionsCmd.Flags().IntVar(&submissionsLimit, "limit", 50, "Maximum number of records")
}
