package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/bryan-buckman/feedpool/internal/ingest"
	"github.com/bryan-buckman/feedpool/internal/opml"
	"github.com/bryan-buckman/feedpool/internal/server"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Fetch every upstream source once and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, db, err := setup()
		if err != nil {
			return err
		}
		defer db.Close()

		results, err := ingest.NewFetcher(db).FetchAll(cmd.Context())
		if err != nil {
			return err
		}
		total := 0
		for _, n := range results {
			total += n
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d new records from %d sources\n", total, len(results))
		return nil
	},
}

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "Manage upstream ingest sources",
}

var sourcesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List ingest sources",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, db, err := setup()
		if err != nil {
			return err
		}
		defer db.Close()

		sources, err := db.GetSources()
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tGROUP\tTITLE\tURL\tLAST FETCHED\tLAST ERROR")
		for _, s := range sources {
			fetched := "never"
			if !s.LastFetched.IsZero() {
				fetched = s.LastFetched.Format(time.RFC3339)
			}
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n", s.ID, s.Group, s.Title, s.URL, fetched, s.LastError)
		}
		return tw.Flush()
	},
}

var sourcesImportCmd = &cobra.Command{
	Use:   "import <file.opml>",
	Short: "Import ingest sources from an OPML file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		entries, err := opml.Parse(f)
		if err != nil {
			return err
		}

		_, db, err := setup()
		if err != nil {
			return err
		}
		defer db.Close()

		imported, err := server.ImportSources(db, entries)
		fmt.Fprintf(cmd.OutOrStdout(), "imported %d of %d sources\n", imported, len(entries))
		return err
	},
}

var sourcesExportCmd = &cobra.Command{
	Use:   "export [file.opml]",
	Short: "Export ingest sources as OPML (stdout when no file is given)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, db, err := setup()
		if err != nil {
			return err
		}
		defer db.Close()

		sources, err := db.GetSources()
		if err != nil {
			return err
		}
		data, err := opml.Export("feedpool sources", sources, time.Now())
		if err != nil {
			return err
		}
		if len(args) == 0 {
			_, err = cmd.OutOrStdout().Write(data)
			return err
		}
		return os.WriteFile(args[0], data, 0o644)
	},
}

func init() {
	sourcesCmd.AddCommand(sourcesListCmd, sourcesImportCmd, sourcesExportCmd)
}
