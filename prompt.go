package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/tonimelisma/cthulhu/internal/backend"
	"github.com/tonimelisma/cthulhu/internal/bucketview"
)

// errNoPasswordInput is returned when standard input has no more lines.
var errNoPasswordInput = errors.New("no password available on standard input")

// passwordPrompter asks for bucket passwords. A password given with
// --password is tried once. Otherwise a terminal is prompted without echo,
// and piped input is read one line per attempt.
type passwordPrompter struct {
	cc    *CLIContext
	fixed string

	in       io.Reader
	lines    *bufio.Reader
	readTerm func(fd int) ([]byte, error)
}

func newPasswordPrompter(cc *CLIContext, fixed string) *passwordPrompter {
	return &passwordPrompter{cc: cc, fixed: fixed, in: cc.In, readTerm: term.ReadPassword}
}

// Password implements bucketview.Prompter.
func (p *passwordPrompter) Password(ctx context.Context, bucketID string, attempt int, lastErr error) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	if p.fixed != "" {
		if attempt > 1 {
			return "", fmt.Errorf("password from --password was rejected: %s", backend.Message(lastErr))
		}

		return p.fixed, nil
	}

	if lastErr != nil {
		fmt.Fprintf(p.cc.Err, "Password rejected: %s\n", backend.Message(lastErr))
	}

	if f, ok := p.in.(*os.File); ok && isTerminal(f) {
		fmt.Fprintf(p.cc.Err, "Password for bucket %s: ", bucketID)

		pw, err := p.readTerm(int(f.Fd()))
		fmt.Fprintln(p.cc.Err)

		if err != nil {
			return "", fmt.Errorf("reading password: %w", err)
		}

		return string(pw), nil
	}

	return p.readLine()
}

func (p *passwordPrompter) readLine() (string, error) {
	if p.in == nil {
		return "", errNoPasswordInput
	}

	if p.lines == nil {
		p.lines = bufio.NewReader(p.in)
	}

	line, err := p.lines.ReadString('\n')
	if err != nil && (!errors.Is(err, io.EOF) || line == "") {
		if errors.Is(err, io.EOF) {
			return "", errNoPasswordInput
		}

		return "", fmt.Errorf("reading password: %w", err)
	}

	return strings.TrimRight(line, "\r\n"), nil
}

// newView builds the bucket opener used by ls, get, admins, and unlock.
func newView(cc *CLIContext, app *App, password string) *bucketview.View {
	return bucketview.New(
		app.Buckets,
		app.Resources,
		newPasswordPrompter(cc, password),
		cc.Cfg.Bucket.MaxPasswordAttempts,
		cc.Logger,
	)
}
