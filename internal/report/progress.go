package report

import (
	"io"
	"time"

	"github.com/briandowns/spinner"
)

// Progress shows a spinner while the run executes. A disabled Progress
// does nothing.
type Progress struct {
	s *spinner.Spinner
}

// NewProgress creates a spinner writing to w when enabled.
func NewProgress(w io.Writer, enabled bool) *Progress {
	if !enabled {
		return &Progress{}
	}
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(w))
	s.Suffix = " Running test suites..."
	return &Progress{s: s}
}

// Start begins animating.
func (p *Progress) Start() {
	if p.s != nil {
		p.s.Start()
	}
}

// Update replaces the text shown next to the spinner.
func (p *Progress) Update(message string) {
	if p.s != nil {
		p.s.Lock()
		p.s.Suffix = " " + message
		p.s.Unlock()
	}
}

// Stop clears the spinner.
func (p *Progress) Stop() {
	if p.s != nil {
		p.s.Stop()
	}
}
