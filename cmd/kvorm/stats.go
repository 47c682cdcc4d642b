package main

import (
	"fmt"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"kvorm/pkg/keyspace"
	"kvorm/pkg/kv"
)

// modelStats counts the keys stored for one model.
type modelStats struct {
	Model   string `json:"model"`
	LastID  int64  `json:"last_id"`
	Scalars int    `json:"scalars"`
	Sets    int    `json:"sets"`
	Members int    `json:"members"`
	Bytes   uint64 `json:"bytes"`
}

type storeStats struct {
	Models []modelStats `json:"models"`
	Total  modelStats   `json:"total"`
}

// collectStats groups every key of snap by the model prefix of its name.
// Bytes counts key and value lengths.
func collectStats(snap kv.Snapshot) storeStats {
	byModel := map[string]*modelStats{}
	get := func(key string) *modelStats {
		name := keyspace.Model(key)
		s, ok := byModel[name]
		if !ok {
			s = &modelStats{Model: name}
			byModel[name] = s
		}
		return s
	}
	for k, v := range snap.Scalars {
		s := get(k)
		s.Scalars++
		s.Bytes += uint64(len(k) + len(v))
	}
	for k, n := range snap.Counters {
		s := get(k)
		if k == keyspace.Counter(s.Model) {
			s.LastID = n
		}
		s.Bytes += uint64(len(k)) + 8
	}
	for k, members := range snap.Sets {
		s := get(k)
		s.Sets++
		s.Members += len(members)
		s.Bytes += uint64(len(k))
		for _, m := range members {
			s.Bytes += uint64(len(m))
		}
	}

	out := storeStats{Models: make([]modelStats, 0, len(byModel)), Total: modelStats{Model: "total"}}
	for _, s := range byModel {
		out.Models = append(out.Models, *s)
		out.Total.Scalars += s.Scalars
		out.Total.Sets += s.Sets
		out.Total.Members += s.Members
		out.Total.Bytes += s.Bytes
	}
	sort.Slice(out.Models, func(i, j int) bool { return out.Models[i].Model < out.Models[j].Model })
	return out
}

func (c *cli) statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Summarise stored keys per model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			snap, err := c.app.store.Dump(cmd.Context())
			if err != nil {
				return err
			}
			stats := collectStats(snap)
			if c.opts.json {
				return writeJSON(cmd.OutOrStdout(), stats)
			}
			tw := newTable(cmd.OutOrStdout())
			fmt.Fprintln(tw, "MODEL\tLAST ID\tSCALARS\tSETS\tMEMBERS\tSIZE")
			for _, s := range append(stats.Models, stats.Total) {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", s.Model, humanize.Comma(s.LastID),
					humanize.Comma(int64(s.Scalars)), humanize.Comma(int64(s.Sets)),
					humanize.Comma(int64(s.Members)), humanize.Bytes(s.Bytes))
			}
			return tw.Flush()
		},
	}
}
