package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stagerui/stager-ui/internal/staging"
)

type planOptions struct {
	sources           []string
	destination       string
	sourcePrefix      string
	destinationPrefix string
	legacy            bool
}

func newPlanCmd() *cobra.Command {
	var o planOptions
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Print the transfer jobs a selection would produce",
		Long: `Plan reduces a selection of files and directories to the jobs that would
be submitted to the Stager, without contacting any service. Directory paths
must end with a separator.`,
		Example: `  stager-ui plan --src /project/3010000.01/raw/ --src /project/3010000.01/notes.txt \
    --dst /nl.ru.donders/di/dccn/ --dst-prefix irods:`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlan(cmd, o)
		},
	}

	f := cmd.Flags()
	f.StringArrayVar(&o.sources, "src", nil, "selected source path (repeatable)")
	f.StringVar(&o.destination, "dst", "", "destination directory")
	f.StringVar(&o.sourcePrefix, "src-prefix", "", "transfer URL prefix of the source")
	f.StringVar(&o.destinationPrefix, "dst-prefix", "", "transfer URL prefix of the destination")
	f.BoolVar(&o.legacy, "legacy", false, "match ancestor directories by substring")
	return cmd
}

func runPlan(cmd *cobra.Command, o planOptions) error {
	sel := staging.Selection{Sources: o.sources}
	if o.destination != "" {
		sel.Destinations = []string{o.destination}
	}
	opts := staging.Options{SourcePrefix: o.sourcePrefix, DestinationPrefix: o.destinationPrefix}
	if o.legacy {
		opts.Match = staging.MatchSubstring
	}

	jobs, err := staging.Reduce(sel, opts)
	if err != nil {
		return fmt.Errorf("plan: %w", err)
	}
	return staging.NewPreview(jobs).WriteTable(cmd.OutOrStdout())
}
