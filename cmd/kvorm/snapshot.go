package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"kvorm/internal/snapshot"
)

func (c *cli) exportCmd() *cobra.Command {
	var codecName string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Archive a snapshot of the whole store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if codecName == "" {
				codecName = c.app.cfg.SnapshotCodec
			}
			codec, err := snapshot.CodecByName(codecName)
			if err != nil {
				return err
			}
			info, err := snapshot.NewExporter(c.app.archive, snapshot.WithCodec(codec)).Export(cmd.Context(), c.app.store)
			if err != nil {
				return err
			}
			c.app.log.Info("exported snapshot", "key", info.Key, "bytes", info.Size, "archive", c.app.archive.Driver())
			if c.opts.json {
				return writeJSON(cmd.OutOrStdout(), info)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "exported %s (%s, %s keys)\n",
				info.Key, humanize.Bytes(uint64(info.Size)), info.Metadata[snapshot.MetaKeys])
			return err
		},
	}
	cmd.Flags().StringVar(&codecName, "codec", "", "snapshot encoding: json or bson (default from config)")
	return cmd
}

func (c *cli) importCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <name>",
		Short: "Replace the store contents with an archived snapshot",
		Long: `Import restores a snapshot written by export. The name is either the full
archive key or the file name under snapshots/. Everything currently in the
store is replaced.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := snapshot.Import(cmd.Context(), c.app.archive, args[0], c.app.store)
			if err != nil {
				return err
			}
			c.app.log.Info("imported snapshot", "name", args[0], "keys", snap.Len())
			if c.opts.json {
				return writeJSON(cmd.OutOrStdout(), map[string]any{"name": args[0], "keys": snap.Len()})
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "imported %s (%s keys)\n", args[0], humanize.Comma(int64(snap.Len())))
			return err
		},
	}
}

func (c *cli) listSnapshotsCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list-snapshots",
		Aliases: []string{"ls"},
		Short:   "List archived snapshots, oldest first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			infos, err := snapshot.List(cmd.Context(), c.app.archive)
			if err != nil {
				return err
			}
			if c.opts.json {
				return writeJSON(cmd.OutOrStdout(), infos)
			}
			tw := newTable(cmd.OutOrStdout())
			fmt.Fprintln(tw, "KEY\tSIZE\tKEYS\tCREATED")
			for _, info := range infos {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", info.Key, humanize.Bytes(uint64(info.Size)),
					info.Metadata[snapshot.MetaKeys], humanize.Time(info.LastModified))
			}
			return tw.Flush()
		},
	}
}
