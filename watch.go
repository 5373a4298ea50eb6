package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/cthulhu/internal/tokenstore"
)

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print sign-in and bucket token changes until interrupted",
		Long: `Watch the credential store and print a line whenever the session or a
bucket token changes, including changes made by other cthulhu processes.`,
		Args: cobra.NoArgs,
		RunE: runWatch,
	}
}

// authSnapshot is the observable credential state.
type authSnapshot struct {
	SignedIn bool
	Buckets  []string
}

// authChange is one line of `watch` output.
type authChange struct {
	Time   time.Time `json:"time"`
	Event  string    `json:"event"`
	Bucket string    `json:"bucket,omitempty"`
}

// Event names reported by watch.
const (
	eventSignedIn       = "signed_in"
	eventSignedOut      = "signed_out"
	eventBucketUnlocked = "bucket_unlocked"
	eventBucketLocked   = "bucket_locked"
)

func takeSnapshot(store *tokenstore.Store) (authSnapshot, error) {
	tok, err := store.AccessToken()
	if err != nil {
		return authSnapshot{}, err
	}

	buckets, err := store.BucketIDs()
	if err != nil {
		return authSnapshot{}, err
	}

	return authSnapshot{SignedIn: tok != "", Buckets: buckets}, nil
}

// diffSnapshots lists what changed between prev and cur. Bucket ids are
// sorted in both.
func diffSnapshots(prev, cur authSnapshot, now time.Time) []authChange {
	var out []authChange

	switch {
	case !prev.SignedIn && cur.SignedIn:
		out = append(out, authChange{Time: now, Event: eventSignedIn})
	case prev.SignedIn && !cur.SignedIn:
		out = append(out, authChange{Time: now, Event: eventSignedOut})
	}

	for _, id := range cur.Buckets {
		if _, found := slices.BinarySearch(prev.Buckets, id); !found {
			out = append(out, authChange{Time: now, Event: eventBucketUnlocked, Bucket: id})
		}
	}

	for _, id := range prev.Buckets {
		if _, found := slices.BinarySearch(cur.Buckets, id); !found {
			out = append(out, authChange{Time: now, Event: eventBucketLocked, Bucket: id})
		}
	}

	return out
}

func runWatch(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd)
	ctx, stop := shutdownContext(cmd.Context(), cc.Logger)
	defer stop()

	app, err := newApp(cc, "", "")
	if err != nil {
		return err
	}
	defer closeApp(cc, app)

	last, err := takeSnapshot(app.Store)
	if err != nil {
		return fmt.Errorf("reading credential store: %w", err)
	}

	state := "signed out"
	if last.SignedIn {
		state = "signed in"
	}

	cc.Statusf("Watching %s (%s). Press Ctrl-C to stop.\n", app.Store.Backend().Path(), state)

	// Changes seen on disk are replayed on the bus, so in-process
	// subscribers react to other processes' writes the same way as to ours.
	// A write for another origin also lands here; it diffs to nothing.
	unsubscribe := app.Bus.Subscribe(func() error {
		cur, err := takeSnapshot(app.Store)
		if err != nil {
			return err
		}

		for _, ch := range diffSnapshots(last, cur, time.Now()) {
			if err := printChange(cc, ch); err != nil {
				return err
			}
		}

		last = cur

		return nil
	})
	defer unsubscribe()

	return tokenstore.Watch(ctx, app.Store.Backend(), func() {
		if err := app.Bus.Publish(); err != nil {
			cc.Logger.Warn("handling credential change", slog.String("error", err.Error()))
		}
	}, cc.Logger)
}

func printChange(cc *CLIContext, ch authChange) error {
	if cc.Flags.JSON {
		// One object per line.
		return json.NewEncoder(cc.Out).Encode(ch)
	}

	line := ch.Time.Format(time.TimeOnly) + "  " + ch.Event
	if ch.Bucket != "" {
		line += "  " + ch.Bucket
	}

	_, err := fmt.Fprintln(cc.Out, line)

	return err
}
