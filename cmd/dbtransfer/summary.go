package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/alexanderjulianmartinez/db-transfer/pkg/types"
)

func printSummary(w io.Writer, res types.TransferResult) {
	fmt.Fprintln(w, "Transfer summary")
	fmt.Fprintf(w, "  status:   %s\n", res.Status)
	fmt.Fprintf(w, "  message:  %s\n", res.Message)
	fmt.Fprintf(w, "  duration: %.2fs\n", res.DurationSeconds)
	if res.TotalRows > 0 || res.RowsTransferred > 0 {
		fmt.Fprintf(w, "  rows:     %d/%d\n", res.RowsTransferred, res.TotalRows)
	}
	if len(res.TableOrder) == 0 {
		return
	}

	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TABLE\tSTATUS\tROWS\tMESSAGE")
	for _, table := range res.TableOrder {
		r := res.Tables[table]
		fmt.Fprintf(tw, "%s\t%s\t%d/%d\t%s\n", table, r.Status, r.RowsTransferred, r.TotalRows, r.Message)
	}
	_ = tw.Flush()
}
