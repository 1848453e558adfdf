package main

import (
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/olekukonko/tablewriter"

	"github.com/fbxview/arena"
)

type namedStats struct {
	name  string
	stats arena.Stats
}

func sortedStats(m map[string]arena.Stats) []namedStats {
	rows := make([]namedStats, 0, len(m))
	for name, s := range m {
		rows = append(rows, namedStats{name, s})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].name < rows[j].name })
	return rows
}

// renderStats writes one table row per arena snapshot.
func renderStats(w io.Writer, first string, rows []namedStats) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{first, "Pages", "Page bytes", "Used", "Small live", "Small free", "Big live", "Big bytes", "Defers", "Util"})
	table.SetAlignment(tablewriter.ALIGN_RIGHT)
	for _, r := range rows {
		s := r.stats
		table.Append([]string{
			r.name,
			strconv.Itoa(s.Pages),
			strconv.Itoa(s.PageBytes),
			strconv.Itoa(s.PageUsed),
			strconv.Itoa(s.SmallLive),
			strconv.Itoa(s.SmallFree),
			strconv.Itoa(s.BigLive),
			strconv.Itoa(s.BigBytes),
			strconv.Itoa(s.Defers),
			fmt.Sprintf("%.1f%%", 100*s.Utilization()),
		})
	}
	table.Render()
}
