package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
)

// callbackShutdownTimeout bounds the callback server's graceful shutdown and
// its header read timeout.
const callbackShutdownTimeout = 5 * time.Second

// callbackResult carries the authorization code or error from the callback handler.
type callbackResult struct {
	code     string
	state    string
	provider string
	err      error
}

func newLoginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in through the backend's OAuth provider",
		Long: `Sign in with an OAuth provider. A local listener receives the redirect
at the end of the provider's flow and exchanges the code for a session.

If a previous command was interrupted because the session expired, login
prints that command so it can be run again.`,
		Args: cobra.NoArgs,
		RunE: runLogin,
	}

	cmd.Flags().String("provider", "", "OAuth provider (default from config)")
	cmd.Flags().Bool("no-browser", false, "print the sign-in URL instead of opening a browser")

	return cmd
}

func runLogin(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd)
	logger := cc.Logger
	ctx, stop := shutdownContext(cmd.Context(), logger)
	defer stop()

	provider, err := cmd.Flags().GetString("provider")
	if err != nil {
		return err
	}

	if provider == "" {
		provider = cc.Cfg.Backend.DefaultProvider
	}

	noBrowser, err := cmd.Flags().GetBool("no-browser")
	if err != nil {
		return err
	}

	release, err := acquireLock(filepath.Join(cc.Cfg.DataDir, loginLockName))
	if err != nil {
		return err
	}
	defer release()

	resultCh := make(chan callbackResult, 1)
	mux := http.NewServeMux()

	srv, addr, err := startCallbackServer(ctx, cc.Cfg.Login.CallbackAddr, mux, resultCh, logger)
	if err != nil {
		return err
	}

	defer shutdownCallbackServer(srv, logger)

	registerCallbackHandler(mux, cc.Cfg.Login.CallbackPath, resultCh)
	redirect := "http://" + addr + cc.Cfg.Login.CallbackPath

	app, err := newApp(cc, "", redirect)
	if err != nil {
		return err
	}
	defer closeApp(cc, app)

	if noBrowser {
		app.Nav.openBrowser = false
	}

	logger.Info("login started", slog.String("provider", provider))

	if err := app.Session.InitiateOAuth(provider); err != nil {
		return err
	}

	cc.Statusf("Waiting for sign-in to complete...\n")

	res, err := waitForCallback(ctx, resultCh)
	if err != nil {
		return err
	}

	if res.provider != "" {
		provider = res.provider
	}

	return finishSignIn(ctx, cc, app, res.code, res.state, provider)
}

// finishSignIn exchanges the code, reports the user, and consumes the
// return route left behind by an expired session.
func finishSignIn(ctx context.Context, cc *CLIContext, app *App, code, state, provider string) error {
	auth, err := app.Session.HandleCallback(ctx, code, state, provider)
	if err != nil {
		return fmt.Errorf("signing in: %w", err)
	}

	resume, err := app.Store.TakeReturnURL()
	if err != nil {
		cc.Logger.Warn("reading return route", slog.String("error", err.Error()))
	}

	if cc.Flags.JSON {
		return printJSON(cc.Out, signInOutput{User: auth.User, Resume: resume})
	}

	who := auth.User.Email
	if who == "" {
		who = auth.User.ID
	}

	cc.Statusf("Signed in as %s.\n", who)

	if resume != "" {
		cc.Statusf("Resume with: cthulhu %s\n", resume)
	}

	return nil
}

// startCallbackServer binds addr and starts an HTTP server with the given
// mux. Returns the server and the bound address.
func startCallbackServer(
	ctx context.Context,
	addr string,
	mux *http.ServeMux,
	resultCh chan<- callbackResult,
	logger *slog.Logger,
) (*http.Server, string, error) {
	lc := net.ListenConfig{}

	listener, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, "", fmt.Errorf("binding callback listener on %s: %w", addr, err)
	}

	bound := listener.Addr().String()
	logger.Info("callback server listening", slog.String("addr", bound))

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: callbackShutdownTimeout,
	}

	go func() {
		if serveErr := srv.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			deliver(resultCh, callbackResult{err: fmt.Errorf("callback server error: %w", serveErr)})
		}
	}()

	return srv, bound, nil
}

// registerCallbackHandler adds the callback route to the mux.
func registerCallbackHandler(mux *http.ServeMux, path string, resultCh chan<- callbackResult) {
	mux.HandleFunc("GET "+path, func(w http.ResponseWriter, r *http.Request) {
		handleOAuthCallback(w, r, resultCh)
	})
}

// handleOAuthCallback extracts the code and state and sends the result.
// State is checked by the backend when the code is exchanged.
func handleOAuthCallback(w http.ResponseWriter, r *http.Request, resultCh chan<- callbackResult) {
	q := r.URL.Query()

	if errParam := q.Get("error"); errParam != "" {
		http.Error(w, "Sign-in failed: "+errParam, http.StatusBadRequest)
		deliver(resultCh, callbackResult{err: fmt.Errorf("sign-in failed: %s: %s", errParam, q.Get("error_description"))})

		return
	}

	code := q.Get("code")
	if code == "" {
		http.Error(w, "Missing authorization code", http.StatusBadRequest)
		deliver(resultCh, callbackResult{err: errors.New("callback missing authorization code")})

		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, "<html><body><h1>Signed in</h1>"+
		"<p>You can close this window and return to the terminal.</p></body></html>")

	deliver(resultCh, callbackResult{code: code, state: q.Get("state"), provider: q.Get("provider")})
}

// deliver sends res unless a result is already pending. Only the first
// callback counts.
func deliver(resultCh chan<- callbackResult, res callbackResult) {
	select {
	case resultCh <- res:
	default:
	}
}

// shutdownCallbackServer gracefully shuts down the callback HTTP server.
func shutdownCallbackServer(srv *http.Server, logger *slog.Logger) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), callbackShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("callback server shutdown error", slog.String("error", err.Error()))
	}
}

// waitForCallback blocks until the callback fires or the context is canceled.
func waitForCallback(ctx context.Context, resultCh <-chan callbackResult) (callbackResult, error) {
	select {
	case result := <-resultCh:
		if result.err != nil {
			return callbackResult{}, result.err
		}

		return result, nil
	case <-ctx.Done():
		return callbackResult{}, fmt.Errorf("sign-in canceled: %w", ctx.Err())
	}
}
