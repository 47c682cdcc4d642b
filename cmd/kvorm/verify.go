package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/dustin/go-humanize/english"
	"github.com/spf13/cobra"

	"kvorm/internal/integrity"
)

func (c *cli) verifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Check that every relationship has its backlink",
		Long: `Verify walks every entity up to its model's id counter and checks each
stored relationship value against the backlink on the referenced entity.
It exits non-zero when an issue is found.`,
		Args: cobra.NoArgs,
		RunE: c.runVerify,
	}
}

func (c *cli) runVerify(cmd *cobra.Command, _ []string) error {
	reg, err := c.app.registry()
	if err != nil {
		return err
	}
	report, err := integrity.NewVerifier(c.app.observed, reg).Verify(cmd.Context())
	if err != nil {
		return err
	}
	c.app.log.Info("verified store", "entities", report.Entities, "links", report.Links, "issues", len(report.Issues))

	out := cmd.OutOrStdout()
	if c.opts.json {
		if err := writeJSON(out, report); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(out, "checked %s entities and %s links\n",
			humanize.Comma(int64(report.Entities)), humanize.Comma(int64(report.Links)))
		for _, issue := range report.Issues {
			fmt.Fprintln(out, issue)
		}
	}
	if !report.OK() {
		return fmt.Errorf("%s found", english.Plural(len(report.Issues), "integrity issue", ""))
	}
	return nil
}
