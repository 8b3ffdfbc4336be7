package progress

import (
	"io"
	"os"

	"github.com/schollz/progressbar/v3"
)

// Bar reports how many repositories have been processed. A nil *Bar is a
// no-op, which is what non-interactive runs use.
type Bar struct {
	bar *progressbar.ProgressBar
}

func New(total int, description string) *Bar {
	return NewWithWriter(os.Stderr, total, description)
}

func NewWithWriter(w io.Writer, total int, description string) *Bar {
	return &Bar{bar: progressbar.NewOptions(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSetPredictTime(false),
	)}
}

func (b *Bar) Add(n int) {
	if b == nil {
		return
	}
	_ = b.bar.Add(n)
}

func (b *Bar) Finish() {
	if b == nil {
		return
	}
	_ = b.bar.Finish()
}
