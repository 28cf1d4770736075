package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
)

// outputMode prints either raw JSON (--json) or aligned tables.
type outputMode struct {
	json bool
	w    io.Writer
}

func (o outputMode) writer() io.Writer {
	if o.w == nil {
		return os.Stdout
	}
	return o.w
}

func (o outputMode) printJSON(value any) {
	enc := json.NewEncoder(o.writer())
	enc.SetIndent("", "  ")
	if err := enc.Encode(value); err != nil {
		fatal("format json", err)
	}
}

func (o outputMode) table(rows [][]string) {
	tw := tabwriter.NewWriter(o.writer(), 0, 4, 2, ' ', 0)
	for _, row := range rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	_ = tw.Flush()
}
