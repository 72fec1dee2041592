package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/julianshen/coverclient/pkg/cover"
	"github.com/julianshen/coverclient/pkg/writer"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printStatus(w io.Writer, id string, st cover.StatusResponse) {
	fmt.Fprintf(w, "%s %s", id, st.Status)
	if st.Progress.Total > 0 {
		fmt.Fprintf(w, " (%d/%d)", st.Progress.Completed, st.Progress.Total)
	}
	fmt.Fprintln(w)
	if st.Message != nil {
		fmt.Fprintf(w, "  %s\n", st.Message.Error())
	}
}

func statusCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status <analysis-id>",
		Short: "Show the status of an analysis",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.bindings().GetAnalysisStatus(cmd.Context(), a.cfg.API.URL, args[0])
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), st)
			}
			printStatus(cmd.OutOrStdout(), args[0], *st)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw response")
	return cmd
}

func cancelCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <analysis-id>",
		Short: "Cancel a running analysis",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := a.bindings().CancelAnalysis(cmd.Context(), a.cfg.API.URL, args[0])
			if err != nil {
				return err
			}
			if resp.Message != "" {
				fmt.Fprintln(cmd.OutOrStdout(), resp.Message)
			}
			printStatus(cmd.OutOrStdout(), args[0], resp.Status)
			return nil
		},
	}
}

func resultsCmd(a *app) *cobra.Command {
	var (
		cursor      string
		output      string
		concurrency int
	)
	cmd := &cobra.Command{
		Use:   "results <analysis-id>",
		Short: "Fetch the results of an analysis",
		Long: `Fetch results produced since --cursor. They are printed as JSON lines,
or written as test files when --output is given. The returned cursor is
reported on stderr for the next call.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := a.bindings().GetAnalysisResults(cmd.Context(), a.cfg.API.URL, args[0], cover.Cursor(cursor))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "status: %s, results: %d, cursor: %s\n", resp.Status.Status, len(resp.Results), resp.Cursor)

			if output == "" {
				enc := json.NewEncoder(cmd.OutOrStdout())
				for _, r := range resp.Results {
					if err := enc.Encode(r); err != nil {
						return err
					}
				}
				return nil
			}

			if concurrency <= 0 {
				concurrency = a.cfg.Output.WritingConcurrency
			}
			paths, err := writer.WriteTests(cmd.Context(), output, resp.Results, writer.Options{Concurrency: concurrency})
			for _, p := range paths {
				fmt.Fprintln(cmd.OutOrStdout(), p)
			}
			return err
		},
	}
	cmd.Flags().StringVar(&cursor, "cursor", "", "fetch only results after this cursor")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the results as tests into this directory")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "test files written in parallel (default: output.writing_concurrency)")
	return cmd
}

func apiVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "api-version",
		Short: "Print the API version of the service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			v, err := a.bindings().GetAPIVersion(cmd.Context(), a.cfg.API.URL)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), v.Version)
			return nil
		},
	}
}
