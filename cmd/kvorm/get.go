package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"kvorm/pkg/orm"
)

func (c *cli) getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <model> <id> [attrs...]",
		Short: "Show the stored attributes of one entity",
		Long: `Get loads an entity by model and id and prints its attributes. Without
attribute names every declared attribute is shown. Unset attributes print
as null.

Example:
  kvorm get Post 42
  kvorm get Post 42 title authors_ids`,
		Args: cobra.MinimumNArgs(2),
		RunE: c.runGet,
	}
}

func (c *cli) runGet(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return fmt.Errorf("id %q: %w", args[1], orm.ErrInvalidID)
	}
	m, err := c.app.mapper()
	if err != nil {
		return err
	}
	model, ok := m.Registry().Model(args[0])
	if !ok {
		return fmt.Errorf("%s: %w", args[0], orm.ErrUnknownModel)
	}
	attrs := args[2:]
	if len(attrs) == 0 {
		attrs = model.Attributes()
	}
	inst, err := m.Find(cmd.Context(), model.Name(), id, attrs...)
	if err != nil {
		return err
	}

	values := make(map[string]any, len(attrs))
	for _, attr := range attrs {
		v, err := inst.Get(attr)
		if err != nil {
			return err
		}
		values[attr] = v
	}
	if c.opts.json {
		return writeJSON(cmd.OutOrStdout(), values)
	}
	tw := newTable(cmd.OutOrStdout())
	for _, attr := range attrs {
		fmt.Fprintf(tw, "%s\t%s\n", attr, formatValue(values[attr]))
	}
	return tw.Flush()
}

func formatValue(v any) string {
	switch v := v.(type) {
	case nil:
		return "null"
	case string:
		return strconv.Quote(v)
	case []int64:
		parts := make([]string, len(v))
		for i, id := range v {
			parts[i] = strconv.FormatInt(id, 10)
		}
		return "[" + strings.Join(parts, " ") + "]"
	default:
		return fmt.Sprint(v)
	}
}
