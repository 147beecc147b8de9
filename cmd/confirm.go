package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
)

// stdinConfirmer answers the agent's confirmation and guidance requests from
// the terminal. It satisfies schemas.Confirmer.
type stdinConfirmer struct {
	in  *bufio.Reader
	out io.Writer
}

func newStdinConfirmer(out io.Writer) *stdinConfirmer {
	return &stdinConfirmer{in: bufio.NewReader(os.Stdin), out: out}
}

// Confirm asks a yes/no question. Anything other than an explicit yes is a
// refusal, so a stray Enter blocks the action instead of approving it.
func (c *stdinConfirmer) Confirm(ctx context.Context, question string) (bool, error) {
	answer, err := c.prompt(ctx, fmt.Sprintf("\n%s [y/N]: ", question))
	if err != nil {
		return false, err
	}
	switch strings.ToLower(answer) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

// Ask requests free-form guidance. An empty answer is valid and means the
// user has nothing to add.
func (c *stdinConfirmer) Ask(ctx context.Context, question string) (string, error) {
	return c.prompt(ctx, fmt.Sprintf("\n%s\n> ", question))
}

// prompt writes the question and waits for one line, abandoning the read
// when the context ends first. stdin reads cannot be interrupted, so the
// abandoned goroutine lingers until the next line or EOF; for a CLI that is
// process exit.
func (c *stdinConfirmer) prompt(ctx context.Context, text string) (string, error) {
	if _, err := fmt.Fprint(c.out, text); err != nil {
		return "", err
	}

	type lineResult struct {
		line string
		err  error
	}
	ch := make(chan lineResult, 1)
	go func() {
		line, err := c.in.ReadString('\n')
		ch <- lineResult{line: line, err: err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		// EOF with a partial line still counts as an answer; bare EOF means
		// the terminal is gone.
		if res.err != nil && res.line == "" {
			return "", res.err
		}
		return strings.TrimSpace(res.line), nil
	}
}
