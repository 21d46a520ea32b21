package confirm

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
)

// Prompt asks on a terminal
type Prompt struct {
	out    io.Writer
	cancel func()

	once  sync.Once
	in    io.Reader
	lines chan string
}

// NewPrompt reads answers from in and writes questions to out. cancel is
// called when the user chooses to cancel the run.
func NewPrompt(in io.Reader, out io.Writer, cancel func()) *Prompt {
	return &Prompt{in: in, out: out, cancel: cancel}
}

func (p *Prompt) start() {
	p.lines = make(chan string)
	go func() {
		defer close(p.lines)
		scanner := bufio.NewScanner(p.in)
		for scanner.Scan() {
			p.lines <- scanner.Text()
		}
	}()
}

// Confirm prints the duplicate and waits for one of y, n, a, s or c.
// End of input answers "no to all".
func (p *Prompt) Confirm(ctx context.Context, req Request) (Decision, error) {
	p.once.Do(p.start)

	fmt.Fprintf(p.out, "\nDelete duplicate file?\n  %s\n  same as %s\n  size %s bytes, modified %s\n  checksum %s\n",
		req.Path, req.MatchPath, humanize.Comma(req.Size),
		req.ModTime.Format("2006-01-02 15:04:05"), req.Checksum)

	for {
		fmt.Fprint(p.out, "[y]es, [n]o, yes to [a]ll, no to all [s], [c]ancel: ")

		var line string
		var ok bool
		select {
		case line, ok = <-p.lines:
		case <-ctx.Done():
			fmt.Fprintln(p.out)
			return Skip, ctx.Err()
		}
		if !ok {
			fmt.Fprintln(p.out)
			return SkipAll, nil
		}

		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return Delete, nil
		case "n", "no":
			return Skip, nil
		case "a", "all":
			return DeleteAll, nil
		case "s":
			return SkipAll, nil
		case "c", "cancel":
			if p.cancel != nil {
				p.cancel()
			}
			return Skip, ErrCancelled
		}
	}
}
