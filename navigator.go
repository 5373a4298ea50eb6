package main

import (
	"fmt"
	"log/slog"
	"net/url"
	"os/exec"
	"runtime"
	"strings"

	"github.com/tonimelisma/cthulhu/internal/tokenstore"
)

// openURL launches the default browser. Tests replace it.
var openURL = openBrowser

// openBrowser opens target with the platform's URL handler.
func openBrowser(target string) error {
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", target)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", target)
	default:
		cmd = exec.Command("xdg-open", target)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("launching browser: %w", err)
	}

	// The handler detaches; reap it so it does not linger as a zombie.
	go func() { _ = cmd.Wait() }()

	return nil
}

// cliNavigator carries out backend.Navigator requests in a terminal.
// Absolute URLs go to the browser (or are printed). Client routes such as
// the sign-in route mean the session is gone: the interrupted command line
// is saved as the return route and the user is told to log in.
type cliNavigator struct {
	cc          *CLIContext
	store       *tokenstore.Store
	openURL     func(string) error
	openBrowser bool
	redirectURI string
	resume      string

	// visited records every target, in order.
	visited []string
}

// Navigate implements backend.Navigator.
func (n *cliNavigator) Navigate(target string) error {
	n.visited = append(n.visited, target)

	if isAbsoluteURL(target) {
		return n.browse(target)
	}

	if n.resume != "" {
		if err := n.store.SetReturnURL(n.resume); err != nil {
			n.cc.Logger.Warn("saving return route", slog.String("error", err.Error()))
		}
	}

	fmt.Fprintf(n.cc.Err, "Your session has ended. Run 'cthulhu login' to sign in again.\n")

	return nil
}

func (n *cliNavigator) browse(target string) error {
	if n.redirectURI != "" {
		u, err := url.Parse(target)
		if err != nil {
			return fmt.Errorf("parsing %s: %w", target, err)
		}

		q := u.Query()
		q.Set("redirect_uri", n.redirectURI)
		u.RawQuery = q.Encode()
		target = u.String()
	}

	if n.openBrowser && n.openURL != nil {
		n.cc.Logger.Info("opening browser for sign-in")

		err := n.openURL(target)
		if err == nil {
			return nil
		}

		n.cc.Logger.Warn("failed to open browser, printing URL", slog.String("error", err.Error()))
	}

	// Sign-in prompts must always be visible, even with --quiet.
	fmt.Fprintf(n.cc.Err, "Open this URL in your browser:\n%s\n", target)

	return nil
}

func isAbsoluteURL(target string) bool {
	return strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://")
}
