package main

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/tonimelisma/cthulhu/internal/authevents"
	"github.com/tonimelisma/cthulhu/internal/backend"
	"github.com/tonimelisma/cthulhu/internal/tokenstore"
)

// App holds the credential store and the backend clients for one command
// invocation. Metadata requests use a client with the configured timeout;
// uploads and downloads use one without an overall timeout.
type App struct {
	Bus       *authevents.Bus
	Store     *tokenstore.Store
	Transport *backend.Transport
	Session   *backend.SessionClient
	Buckets   *backend.BucketClient
	Resources *backend.ResourceClient
	Nav       *cliNavigator
}

// newApp opens the credential store for the configured backend origin and
// wires the clients around it. resume is the command line recorded as the
// return route if the session has to be abandoned; redirect is the local
// OAuth callback URL during login.
func newApp(cc *CLIContext, resume, redirect string) (*App, error) {
	origin, err := tokenstore.Origin(cc.Cfg.Backend.BaseURL)
	if err != nil {
		return nil, err
	}

	storeBackend, err := tokenstore.Open(cc.Cfg.Storage.Backend, cc.Cfg.DataDir, origin, cc.Logger)
	if err != nil {
		return nil, fmt.Errorf("opening credential store: %w", err)
	}

	bus := authevents.New()
	store := tokenstore.New(storeBackend, bus, cc.Logger)

	nav := &cliNavigator{
		cc:          cc,
		store:       store,
		openURL:     openURL,
		openBrowser: cc.Cfg.Login.OpenBrowser,
		redirectURI: redirect,
		resume:      resume,
	}

	ua := cc.Cfg.Network.UserAgent
	if ua == "" {
		ua = "cthulhu/" + version
	}

	transport := backend.NewTransport(
		cc.Cfg.Backend.BaseURL,
		&http.Client{Timeout: cc.Cfg.Timeout},
		&http.Client{},
		ua,
		cc.Logger,
	)

	session := backend.NewSessionClient(transport, store, nav, cc.Cfg.Backend.SignInRoute, cc.Logger)
	buckets := backend.NewBucketClient(transport, session, store, cc.Logger)
	resources := backend.NewResourceClient(transport, session, buckets, cc.Logger)

	cc.Logger.Debug("app ready",
		slog.String("origin", origin),
		slog.String("store", storeBackend.Path()),
	)

	return &App{
		Bus:       bus,
		Store:     store,
		Transport: transport,
		Session:   session,
		Buckets:   buckets,
		Resources: resources,
		Nav:       nav,
	}, nil
}

// Close releases the credential store.
func (a *App) Close() error {
	return a.Store.Close()
}

// closeApp is the deferred form of Close for RunE functions.
func closeApp(cc *CLIContext, a *App) {
	if err := a.Close(); err != nil {
		cc.Logger.Warn("closing credential store", slog.String("error", err.Error()))
	}
}

// friendlyAuthError rewrites session errors into instructions.
func friendlyAuthError(err error) error {
	switch {
	case errors.Is(err, backend.ErrUnauthenticated):
		return fmt.Errorf("%w; run 'cthulhu login' first", err)
	case errors.Is(err, backend.ErrSessionExpired):
		return fmt.Errorf("%w; run 'cthulhu login' to sign in again", err)
	default:
		return err
	}
}
