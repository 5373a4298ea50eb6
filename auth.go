package main

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/cthulhu/internal/backend"
	"github.com/tonimelisma/cthulhu/internal/tokenstore"
)

func newCallbackCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "callback <code> <state>",
		Short: "Complete a sign-in with a code and state copied from the browser",
		Args:  cobra.ExactArgs(2),
		RunE:  runCallback,
	}

	cmd.Flags().String("provider", "", "OAuth provider (default from config)")

	return cmd
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Revoke the session and remove saved credentials",
		Args:  cobra.NoArgs,
		RunE:  runLogout,
	}
}

func newWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Display the signed-in user",
		Args:  cobra.NoArgs,
		RunE:  runWhoami,
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show sign-in state and stored credentials without contacting the backend",
		Args:  cobra.NoArgs,
		RunE:  runStatus,
	}
}

func newRefreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Exchange the stored refresh token for a new session",
		Args:  cobra.NoArgs,
		RunE:  runRefresh,
	}
}

// signInOutput is the JSON schema for `login --json` and `callback --json`.
type signInOutput struct {
	User   backend.User `json:"user"`
	Resume string       `json:"resume,omitempty"`
}

func runCallback(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd)

	provider, err := cmd.Flags().GetString("provider")
	if err != nil {
		return err
	}

	if provider == "" {
		provider = cc.Cfg.Backend.DefaultProvider
	}

	app, err := newApp(cc, "", "")
	if err != nil {
		return err
	}
	defer closeApp(cc, app)

	return finishSignIn(cmd.Context(), cc, app, args[0], args[1], provider)
}

func runLogout(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd)

	app, err := newApp(cc, "", "")
	if err != nil {
		return err
	}
	defer closeApp(cc, app)

	if !app.Session.IsAuthenticated() {
		cc.Statusf("Not signed in.\n")
		return nil
	}

	refresh, err := app.Store.RefreshToken()
	if err != nil {
		cc.Logger.Warn("reading refresh token", slog.String("error", err.Error()))
	}

	cc.Logger.Info("logout started")

	if err := app.Session.Logout(cmd.Context(), refresh); err != nil {
		// The local session is gone either way.
		cc.Statusf("Signed out locally; the backend did not confirm: %s\n", backend.Message(err))
		cc.Logger.Debug("backend logout error", slog.String("error", err.Error()))

		return nil
	}

	cc.Statusf("Signed out.\n")

	return nil
}

// whoamiOutput is the JSON schema for `whoami --json`.
type whoamiOutput struct {
	UserID   string `json:"user_id"`
	Email    string `json:"email"`
	Provider string `json:"provider"`
}

func runWhoami(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd)
	ctx := cmd.Context()

	app, err := newApp(cc, "whoami", "")
	if err != nil {
		return err
	}
	defer closeApp(cc, app)

	tok, err := app.Session.EnsureValidToken(ctx)
	if err != nil {
		return friendlyAuthError(err)
	}

	claims, err := app.Session.ValidateToken(ctx, tok)
	if err != nil {
		return fmt.Errorf("fetching identity: %w", err)
	}

	if cc.Flags.JSON {
		return printJSON(cc.Out, whoamiOutput{UserID: claims.UserID, Email: claims.Email, Provider: claims.Provider})
	}

	fmt.Fprintf(cc.Out, "User:     %s\n", claims.Email)
	fmt.Fprintf(cc.Out, "ID:       %s\n", claims.UserID)
	fmt.Fprintf(cc.Out, "Provider: %s\n", claims.Provider)

	return nil
}

// statusOutput is the JSON schema for `status --json`.
type statusOutput struct {
	BaseURL         string   `json:"base_url"`
	SignedIn        bool     `json:"signed_in"`
	StoreBackend    string   `json:"store_backend"`
	StorePath       string   `json:"store_path"`
	UnlockedBuckets []string `json:"unlocked_buckets"`
	PendingResume   string   `json:"pending_resume,omitempty"`
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd)

	app, err := newApp(cc, "", "")
	if err != nil {
		return err
	}
	defer closeApp(cc, app)

	buckets, err := app.Store.BucketIDs()
	if err != nil {
		return fmt.Errorf("listing bucket tokens: %w", err)
	}

	resume, _, err := app.Store.Get(tokenstore.KeyReturnURL)
	if err != nil {
		return fmt.Errorf("reading return route: %w", err)
	}

	out := statusOutput{
		BaseURL:         app.Transport.BaseURL(),
		SignedIn:        app.Session.IsAuthenticated(),
		StoreBackend:    cc.Cfg.Storage.Backend,
		StorePath:       app.Store.Backend().Path(),
		UnlockedBuckets: buckets,
		PendingResume:   resume,
	}

	if out.UnlockedBuckets == nil {
		out.UnlockedBuckets = []string{}
	}

	if cc.Flags.JSON {
		return printJSON(cc.Out, out)
	}

	state := "not signed in"
	if out.SignedIn {
		state = "signed in"
	}

	fmt.Fprintf(cc.Out, "Backend:  %s\n", out.BaseURL)
	fmt.Fprintf(cc.Out, "Session:  %s\n", state)
	fmt.Fprintf(cc.Out, "Store:    %s (%s)\n", out.StorePath, out.StoreBackend)

	if len(buckets) == 0 {
		fmt.Fprintf(cc.Out, "Buckets:  none unlocked\n")
	} else {
		fmt.Fprintf(cc.Out, "Buckets:  %s\n", strings.Join(buckets, ", "))
	}

	if resume != "" {
		fmt.Fprintf(cc.Out, "Resume:   cthulhu %s\n", resume)
	}

	return nil
}

func runRefresh(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd)

	app, err := newApp(cc, "", "")
	if err != nil {
		return err
	}
	defer closeApp(cc, app)

	refresh, err := app.Store.RefreshToken()
	if err != nil {
		return fmt.Errorf("reading refresh token: %w", err)
	}

	if refresh == "" {
		return friendlyAuthError(backend.ErrUnauthenticated)
	}

	if _, err := app.Session.RefreshToken(cmd.Context(), refresh); err != nil {
		if errors.Is(err, backend.ErrRefreshFailed) {
			return fmt.Errorf("%w; run 'cthulhu login' to sign in again", err)
		}

		return err
	}

	cc.Statusf("Session refreshed.\n")

	return nil
}
