package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/catalog-crawler/internal/config"
	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/schedule"
)

type scrapeFlags struct {
	slug   string
	clicks int
	query  string
	url    string
}

func newScrapeCmd() *cobra.Command {
	var flags scrapeFlags
	cmd := &cobra.Command{
		Use:   "scrape <navigation|category|product|search>",
		Short: "Run a single crawl job synchronously",
		Long: `Creates one job, runs it on the current process against the configured
stores and prints the final job as JSON. A FAILED job exits non-zero.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			target, err := schedule.Resolve(config.ScheduleEntry{
				TargetType:     args[0],
				Slug:           flags.slug,
				LoadMoreClicks: flags.clicks,
				Query:          flags.query,
				URL:            flags.url,
			}, appInstance.Rules())
			if err != nil {
				return err
			}
			job, err := appInstance.RunJob(cmd.Context(), target.URL, target.Type, target.Metadata)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(job); err != nil {
				return fmt.Errorf("encode job: %w", err)
			}
			if job.Status == crawler.JobStatusFailed {
				return fmt.Errorf("job %s failed: %s", job.ID, job.ErrorLog)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&flags.slug, "slug", "", "category slug (category jobs)")
	cmd.Flags().IntVar(&flags.clicks, "clicks", 0, "load-more clicks (category jobs)")
	cmd.Flags().StringVar(&flags.query, "query", "", "search text (search jobs)")
	cmd.Flags().StringVar(&flags.url, "url", "", "product page url (product jobs)")
	return cmd
}
