// Package bucketview drives the lifecycle of opening a bucket: it checks
// whether a password is required, reuses a stored bucket token when there is
// one, prompts for the password otherwise, and lists the bucket. A stored
// token the backend no longer accepts is discarded and the user is prompted
// again. Only the bucket being opened is affected; tokens of other buckets
// are never touched.
package bucketview

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/cthulhu/internal/backend"
)

// DefaultMaxAttempts bounds password prompts per Open.
const DefaultMaxAttempts = 3

var (
	// ErrPasswordRequired is returned when a bucket needs a password and no
	// Prompter is available.
	ErrPasswordRequired = errors.New("bucketview: password required")
	// ErrTooManyAttempts is returned when every allowed password attempt
	// failed.
	ErrTooManyAttempts = errors.New("bucketview: too many password attempts")
)

// Prompter asks the user for a bucket password. attempt starts at 1; lastErr
// is the failure that caused this prompt (nil on the first prompt).
type Prompter interface {
	Password(ctx context.Context, bucketID string, attempt int, lastErr error) (string, error)
}

// PrompterFunc adapts a function to Prompter.
type PrompterFunc func(ctx context.Context, bucketID string, attempt int, lastErr error) (string, error)

// Password calls f.
func (f PrompterFunc) Password(ctx context.Context, bucketID string, attempt int, lastErr error) (string, error) {
	return f(ctx, bucketID, attempt, lastErr)
}

// State is an opened bucket.
type State struct {
	BucketID  string
	Protected bool
	IsAdmin   bool
	// Unlocked is true when a password was entered during this Open.
	Unlocked bool
	Metadata *backend.BucketMetadata
}

// View opens buckets on behalf of the user.
type View struct {
	buckets     *backend.BucketClient
	resources   *backend.ResourceClient
	prompter    Prompter
	maxAttempts int
	logger      *slog.Logger
}

// New creates a View. prompter may be nil for non-interactive use;
// maxAttempts <= 0 means DefaultMaxAttempts.
func New(buckets *backend.BucketClient, resources *backend.ResourceClient, prompter Prompter, maxAttempts int, logger *slog.Logger) *View {
	if logger == nil {
		logger = slog.Default()
	}

	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	return &View{
		buckets:     buckets,
		resources:   resources,
		prompter:    prompter,
		maxAttempts: maxAttempts,
		logger:      logger,
	}
}

// Open resolves access to bucketID and lists it. For an unprotected bucket
// the admin check and the listing run concurrently. A protected bucket only
// answers the admin check once access is granted, so there it runs after the
// bucket is unlocked. A failed admin check only means the user is not shown
// as an admin.
func (v *View) Open(ctx context.Context, bucketID string) (*State, error) {
	status, err := v.buckets.CheckBucketProtected(ctx, bucketID)
	if err != nil {
		return nil, fmt.Errorf("bucketview: opening %s: %w", bucketID, err)
	}

	st := &State{BucketID: bucketID, Protected: status.Protected}

	if !st.Protected {
		if err := v.openUnprotected(ctx, st); err != nil {
			return nil, err
		}

		v.logResolved(st)

		return st, nil
	}

	lastErr, err := v.tryStoredToken(ctx, st)
	if err != nil {
		return nil, err
	}

	if st.Metadata == nil {
		if err := v.promptLoop(ctx, st, lastErr); err != nil {
			return nil, err
		}
	}

	st.IsAdmin = v.resources.IsBucketAdmin(ctx, bucketID)
	v.logResolved(st)

	return st, nil
}

func (v *View) openUnprotected(ctx context.Context, st *State) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		meta, err := v.resources.FetchBucketFiles(gctx, st.BucketID)
		if err != nil {
			return fmt.Errorf("bucketview: listing %s: %w", st.BucketID, err)
		}

		st.Metadata = meta

		return nil
	})

	g.Go(func() error {
		st.IsAdmin = v.resources.IsBucketAdmin(gctx, st.BucketID)
		return nil
	})

	return g.Wait()
}

func (v *View) logResolved(st *State) {
	v.logger.Debug("bucket resolved",
		slog.String("bucket_id", st.BucketID),
		slog.Bool("protected", st.Protected),
		slog.Bool("unlocked", st.Unlocked),
		slog.Bool("admin", st.IsAdmin),
	)
}

// tryStoredToken lists the bucket with a stored token. On rejection the token
// is forgotten and the rejection returned as lastErr; err is only set when
// the store itself fails.
func (v *View) tryStoredToken(ctx context.Context, st *State) (lastErr, err error) {
	tok, err := v.buckets.BucketToken(st.BucketID)
	if err != nil {
		return nil, err
	}

	if tok == "" {
		return nil, nil
	}

	meta, listErr := v.resources.FetchBucketFiles(ctx, st.BucketID)
	if listErr == nil {
		st.Metadata = meta
		return nil, nil
	}

	v.logger.Info("stored bucket token rejected, asking for password again",
		slog.String("bucket_id", st.BucketID),
		slog.String("error", listErr.Error()),
	)

	if err := v.buckets.ForgetBucketToken(st.BucketID); err != nil {
		return nil, err
	}

	return listErr, nil
}

func (v *View) promptLoop(ctx context.Context, st *State, lastErr error) error {
	if v.prompter == nil {
		return fmt.Errorf("%w: bucket %s is protected", ErrPasswordRequired, st.BucketID)
	}

	for attempt := 1; attempt <= v.maxAttempts; attempt++ {
		password, err := v.prompter.Password(ctx, st.BucketID, attempt, lastErr)
		if err != nil {
			return fmt.Errorf("bucketview: reading password: %w", err)
		}

		if _, err := v.buckets.Unlock(ctx, st.BucketID, password); err != nil {
			if !errors.Is(err, backend.ErrBucketAuthFailed) {
				return err
			}

			v.logger.Debug("bucket password rejected",
				slog.String("bucket_id", st.BucketID),
				slog.Int("attempt", attempt),
			)

			lastErr = err

			continue
		}

		meta, err := v.resources.FetchBucketFiles(ctx, st.BucketID)
		if err != nil {
			if forgetErr := v.buckets.ForgetBucketToken(st.BucketID); forgetErr != nil {
				return forgetErr
			}

			lastErr = err

			continue
		}

		st.Unlocked = true
		st.Metadata = meta

		return nil
	}

	return fmt.Errorf("%w (%d) for bucket %s: %w", ErrTooManyAttempts, v.maxAttempts, st.BucketID, lastErr)
}
