// Package progress provides a unified interface for progress reporting
// in the submit client: progress bars on a terminal, plain log lines
// when output is piped.
package progress

import (
	"fmt"
	"io"
	"os"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"

	"github.com/vibecoding/demo2apk/internal/logging"
)

// Reporter is the interface the submit client drives. The total is
// bytes for transfers and 100 for build percent.
type Reporter interface {
	Start(total int64, description string)
	Update(current int64)
	SetDescription(desc string)
	Finish()
	Error(err error)
}

// New picks a reporter for the session: a bar when stderr is a
// terminal, log lines otherwise.
func New(log *logging.Logger, showBytes bool) Reporter {
	if term.IsTerminal(int(os.Stderr.Fd())) {
		return &BarProgress{showBytes: showBytes}
	}
	return &PlainProgress{log: log}
}

// BarProgress renders a terminal progress bar.
type BarProgress struct {
	bar       *progressbar.ProgressBar
	showBytes bool
}

// Start initializes the progress bar with total size and description.
func (p *BarProgress) Start(total int64, description string) {
	p.bar = progressbar.NewOptions64(total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowBytes(p.showBytes),
		progressbar.OptionSetWidth(50),
		progressbar.OptionThrottle(100),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(os.Stderr, "\n")
		}),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetRenderBlankState(true),
	)
}

// Update moves the bar to the current position.
func (p *BarProgress) Update(current int64) {
	if p.bar != nil {
		_ = p.bar.Set64(current)
	}
}

// SetDescription updates the bar description.
func (p *BarProgress) SetDescription(desc string) {
	if p.bar != nil {
		p.bar.Describe(desc)
	}
}

// Finish completes the bar.
func (p *BarProgress) Finish() {
	if p.bar != nil {
		_ = p.bar.Finish()
	}
}

// Error displays an error message below the bar.
func (p *BarProgress) Error(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "\nError: %v\n", err)
	}
}

// PlainProgress logs stage transitions, for piped output and CI.
type PlainProgress struct {
	log  *logging.Logger
	desc string
}

// Start logs the opening stage.
func (p *PlainProgress) Start(total int64, description string) {
	p.desc = description
	p.log.Infof("%s...", description)
}

// Update does nothing; plain mode only reports stage changes.
func (p *PlainProgress) Update(current int64) {}

// SetDescription logs the stage when it changes.
func (p *PlainProgress) SetDescription(desc string) {
	if desc != "" && desc != p.desc {
		p.desc = desc
		p.log.Infof("%s...", desc)
	}
}

// Finish does nothing.
func (p *PlainProgress) Finish() {}

// Error logs the error.
func (p *PlainProgress) Error(err error) {
	if err != nil {
		p.log.Errorf("%v", err)
	}
}

// Reader wraps an io.Reader and reports bytes read as they flow.
type Reader struct {
	r        io.Reader
	reporter Reporter
	current  int64
}

// NewReader creates a progress-reporting reader.
func NewReader(r io.Reader, reporter Reporter) *Reader {
	return &Reader{r: r, reporter: reporter}
}

// Read implements io.Reader with progress reporting.
func (pr *Reader) Read(p []byte) (int, error) {
	n, err := pr.r.Read(p)
	pr.current += int64(n)
	pr.reporter.Update(pr.current)
	return n, err
}
