package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/alitho/shipview/internal/api"
	"github.com/alitho/shipview/internal/config"
	"github.com/alitho/shipview/internal/pipeline"
	"github.com/alitho/shipview/internal/storage"
)

// --- search ---

type searchOptions struct {
	startDate, endDate string
	job, customer      string
	page, pageSize     int
	asJSON             bool
}

func (o searchOptions) query() string {
	v := url.Values{}
	for k, s := range map[string]string{
		"startDate": o.startDate,
		"endDate":   o.endDate,
		"job":       o.job,
		"customer":  o.customer,
	} {
		if s != "" {
			v.Set(k, s)
		}
	}
	if o.page > 0 {
		v.Set("page", strconv.Itoa(o.page))
	}
	if o.pageSize > 0 {
		v.Set("pageSize", strconv.Itoa(o.pageSize))
	}
	if len(v) == 0 {
		return ""
	}
	return "?" + v.Encode()
}

var searchOpts searchOptions

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Search shipments",
	Long: `Search shipments by ship date, job and customer. Results are newest first.

Examples:
  shipview search --from 2024-03-01 --to 2024-03-31
  shipview search --job 112823
  shipview search --customer acme --page 2 --page-size 25`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newAPIClient()
		if err != nil {
			return err
		}
		return runSearch(cmd.Context(), c, searchOpts, cmd.OutOrStdout())
	},
}

func init() {
	f := searchCmd.Flags()
	f.StringVar(&searchOpts.startDate, "from", "", "first ship day (YYYY-MM-DD)")
	f.StringVar(&searchOpts.endDate, "to", "", "last ship day, inclusive (YYYY-MM-DD)")
	f.StringVar(&searchOpts.job, "job", "", "exact job number")
	f.StringVar(&searchOpts.customer, "customer", "", "customer name or id substring")
	f.IntVar(&searchOpts.page, "page", 0, "page number (default 1)")
	f.IntVar(&searchOpts.pageSize, "page-size", 0, "items per page (default 50)")
	f.BoolVar(&searchOpts.asJSON, "json", false, "print the raw JSON page")
}

func runSearch(ctx context.Context, c *apiClient, o searchOptions, w io.Writer) error {
	resp, err := c.get(ctx, "/shipments"+o.query())
	if err != nil {
		return err
	}
	var page pipeline.Page
	if err := decodeJSON(resp, &page); err != nil {
		return err
	}
	if o.asJSON {
		return writeIndented(w, page)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSHIPPED\tJOB\tCUSTOMER\tSHIP VIA\tTRACKING")
	for _, r := range page.Items {
		shipped := "-"
		if r.DateTime != nil {
			shipped = r.DateTime.Format("2006-01-02 15:04")
		}
		job := r.Job
		if r.JobPart != "" {
			job += ":" + r.JobPart
		}
		via := r.ShipVia
		if r.ShipViaDescription != nil {
			via = *r.ShipViaDescription
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", r.ID, shipped, dash(job), dash(r.CustomerLabel()), dash(via), dash(r.TrackingNumber))
	}
	tw.Flush()

	more := ""
	if page.HasMore {
		more = ", more available"
	}
	cached := ""
	if page.Cached {
		cached = " (cached)"
	}
	fmt.Fprintf(w, "\npage %d, %d shown, ~%d total%s%s\n", page.Page, len(page.Items), page.Total, more, cached)
	reportDiagnostics(page.Diagnostics)
	return nil
}

func reportDiagnostics(d pipeline.Diagnostics) {
	if n := len(d.FetchErrors) + len(d.ParseErrors); n > 0 {
		printWarning("%d shipments could not be read", n)
	}
	if len(d.StillCorrupted) > 0 {
		printWarning("%d shipments are corrupted upstream: %s", len(d.StillCorrupted), strings.Join(d.StillCorrupted, ", "))
	}
	if d.JobFiltered > 0 {
		printWarning("%d shipments for other jobs were returned by the ERP and dropped", d.JobFiltered)
	}
	if len(d.EnrichmentMisses) > 0 {
		printWarning("%d references could not be resolved", len(d.EnrichmentMisses))
	}
	if d.Truncated {
		printWarning("candidate list hit the search limit; narrow the filter to see older shipments")
	}
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func writeIndented(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// --- get ---

var getCmd = &cobra.Command{
	Use:   "get <shipment-id>",
	Short: "Show one shipment as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newAPIClient()
		if err != nil {
			return err
		}
		return runGet(cmd.Context(), c, args[0], cmd.OutOrStdout())
	},
}

func runGet(ctx context.Context, c *apiClient, id string, w io.Writer) error {
	resp, err := c.get(ctx, "/shipments/"+url.PathEscape(id))
	if err != nil {
		return err
	}
	var res api.ShipmentResponse
	if err := decodeJSON(resp, &res); err != nil {
		return err
	}
	for _, m := range res.Misses {
		printWarning("%s %s unresolved: %s", m.ObjectType, m.ID, m.Error)
	}
	return writeIndented(w, res.Shipment)
}

// --- cartons ---

var cartonsCmd = &cobra.Command{
	Use:   "cartons <shipment-id>",
	Short: "List the cartons of a shipment",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newAPIClient()
		if err != nil {
			return err
		}
		return runCartons(cmd.Context(), c, args[0], cmd.OutOrStdout())
	},
}

func runCartons(ctx context.Context, c *apiClient, id string, w io.Writer) error {
	resp, err := c.get(ctx, "/shipments/"+url.PathEscape(id)+"/cartons")
	if err != nil {
		return err
	}
	var res pipeline.CartonResult
	if err := decodeJSON(resp, &res); err != nil {
		return err
	}
	if len(res.Cartons) == 0 {
		printStep("shipment %s has no cartons", res.Shipment)
		return nil
	}
	for _, ct := range res.Cartons {
		fmt.Fprintf(w, "%s %s", colorize(colorBold, "carton "+ct.ID), dash(ct.TrackingNumber))
		if ct.Weight != nil {
			fmt.Fprintf(w, " %.2f", *ct.Weight)
		}
		fmt.Fprintln(w)
		for _, line := range ct.Contents {
			desc := "-"
			if line.SubjectDescription != nil {
				desc = *line.SubjectDescription
			}
			qty := ""
			if line.Quantity != nil {
				qty = strconv.FormatFloat(*line.Quantity, 'f', -1, 64) + " x "
			}
			fmt.Fprintf(w, "  %s%s (job %s)\n", qty, desc, dash(line.Job))
		}
	}
	for _, m := range res.Misses {
		printWarning("%s %s unresolved: %s", m.ObjectType, m.ID, m.Error)
	}
	return nil
}

// --- cache ---

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the search result cache",
}

var cacheClearAll bool

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Drop cached search pages",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newAPIClient()
		if err != nil {
			return err
		}
		return runCacheClear(cmd.Context(), c, cacheClearAll)
	},
}

func init() {
	cacheClearCmd.Flags().BoolVar(&cacheClearAll, "all", false, "clear every session, not only the CLI's")
	cacheCmd.AddCommand(cacheClearCmd)
}

func runCacheClear(ctx context.Context, c *apiClient, all bool) error {
	path := "/cache"
	if all {
		path += "?all=true"
	}
	resp, err := c.delete(ctx, path)
	if err != nil {
		return err
	}
	var res struct {
		Entries int `json:"entries"`
	}
	if err := decodeJSON(resp, &res); err != nil {
		return err
	}
	printSuccess("Cleared %d cached pages", res.Entries)
	return nil
}

// --- corruptions ---

var corruptionsAll bool

var corruptionsCmd = &cobra.Command{
	Use:   "corruptions",
	Short: "List ERP records that keep failing to read",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newAPIClient()
		if err != nil {
			return err
		}
		return runCorruptions(cmd.Context(), c, corruptionsAll, cmd.OutOrStdout())
	},
}

func init() {
	corruptionsCmd.Flags().BoolVar(&corruptionsAll, "all", false, "include resolved entries")
}

func runCorruptions(ctx context.Context, c *apiClient, all bool, w io.Writer) error {
	path := "/diagnostics/corruptions"
	if all {
		path += "?all=true"
	}
	resp, err := c.get(ctx, path)
	if err != nil {
		return err
	}
	var list []storage.Corruption
	if err := decodeJSON(resp, &list); err != nil {
		return err
	}
	if len(list) == 0 {
		printSuccess("No corrupted records")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TYPE\tID\tSEEN\tFIRST\tLAST\tSTATE")
	for _, e := range list {
		state := "open"
		if e.Resolved() {
			state = "resolved " + e.ResolvedAt.Format(time.DateOnly)
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\n", e.ObjectType, e.RecordID, e.Occurrences,
			e.FirstSeen.Format(time.DateTime), e.LastSeen.Format(time.DateTime), state)
	}
	return tw.Flush()
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configKeysCmd = &cobra.Command{
	Use:   "keys",
	Short: "List settable configuration keys",
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, k := range config.ValidKeys() {
			fmt.Fprintln(os.Stdout, k)
		}
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configKeysCmd)
}
