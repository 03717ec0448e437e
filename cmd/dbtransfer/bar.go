package main

import (
	"fmt"
	"io"

	"github.com/schollz/progressbar/v3"

	"github.com/alexanderjulianmartinez/db-transfer/pkg/types"
)

// barObserver draws one progress bar per table. The bar is created on the
// first committed batch, when the table's row count is known.
type barObserver struct {
	out io.Writer
	bar *progressbar.ProgressBar
}

func newBarObserver(out io.Writer) *barObserver {
	return &barObserver{out: out}
}

func (b *barObserver) TableStarted(string) {
	b.bar = nil
}

func (b *barObserver) BatchCommitted(table string, transferred, total int64) {
	if b.bar == nil {
		b.bar = progressbar.NewOptions64(total,
			progressbar.OptionSetWriter(b.out),
			progressbar.OptionSetDescription(table),
			progressbar.OptionShowCount(),
			progressbar.OptionSetWidth(30),
			progressbar.OptionSetPredictTime(true),
		)
	}
	_ = b.bar.Set64(transferred)
}

func (b *barObserver) TableCompleted(string, int64) {
	if b.bar != nil {
		_ = b.bar.Finish()
		fmt.Fprintln(b.out)
		b.bar = nil
	}
}

func (b *barObserver) TableFailed(table string, err error) {
	if b.bar != nil {
		_ = b.bar.Exit()
		fmt.Fprintln(b.out)
		b.bar = nil
	}
	fmt.Fprintf(b.out, "%s: failed: %v\n", table, err)
}

func (b *barObserver) RunFinished(types.TransferResult) {}
