package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/cthulhu/internal/backend"
	"github.com/tonimelisma/cthulhu/internal/bucketview"
)

func newPutCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "put <file>...",
		Short: "Upload files into a new bucket",
		Long: `Upload one or more files into a new bucket. When signed in, the bucket
is owned by the current user; otherwise it is anonymous.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runPut,
	}

	cmd.Flags().String("password", "", "protect the bucket with a password")

	return cmd
}

func newLsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ls <bucket>",
		Short: "List the files in a bucket",
		Long: `List the files in a bucket. The bucket may be given as an id or as a
bucket URL. Protected buckets prompt for the password unless a saved
bucket token still works.`,
		Args: cobra.ExactArgs(1),
		RunE: runLs,
	}

	cmd.Flags().String("password", "", "bucket password (tried once, no prompt)")

	return cmd
}

func newGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <bucket> [file]...",
		Short: "Download files from a bucket (all files when none are named)",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runGet,
	}

	cmd.Flags().StringP("output", "o", ".", "directory to write files into")
	cmd.Flags().Bool("url", false, "print download URLs instead of downloading")
	cmd.Flags().String("password", "", "bucket password (tried once, no prompt)")

	return cmd
}

func newAdminsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admins <bucket>",
		Short: "List a bucket's owner and administrators",
		Args:  cobra.ExactArgs(1),
		RunE:  runAdmins,
	}

	cmd.Flags().String("password", "", "bucket password (tried once, no prompt)")

	return cmd
}

func newUnlockCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "unlock <bucket>",
		Short: "Enter a bucket's password and save the bucket token",
		Args:  cobra.ExactArgs(1),
		RunE:  runUnlock,
	}

	cmd.Flags().String("password", "", "bucket password (tried once, no prompt)")

	return cmd
}

func newLockCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lock <bucket>",
		Short: "Forget a bucket's saved token",
		Args:  cobra.ExactArgs(1),
		RunE:  runLock,
	}
}

// bucketRoute is the path segment that precedes a bucket id in bucket URLs.
const bucketRoute = "/files/s/"

// parseBucketRef accepts a bare bucket id or a bucket URL such as
// "http://host/files/s/<id>" or ".../files/s/<id>/d/<file>".
func parseBucketRef(ref string) (string, error) {
	id := ref

	if _, rest, found := strings.Cut(ref, bucketRoute); found {
		id, _, _ = strings.Cut(rest, "/")
	}

	id = strings.TrimSpace(id)
	if id == "" || strings.Contains(id, "/") {
		return "", fmt.Errorf("invalid bucket %q", ref)
	}

	return id, nil
}

// resumeLine is the command line saved as the return route. Flags are
// dropped so a --password never lands in the store.
func resumeLine(cmd *cobra.Command, args []string) string {
	return strings.Join(append([]string{cmd.Name()}, args...), " ")
}

// bucketError turns bucket lifecycle errors into instructions.
func bucketError(bucketID string, err error) error {
	switch {
	case errors.Is(err, bucketview.ErrTooManyAttempts):
		return fmt.Errorf("bucket %s: too many wrong passwords", bucketID)
	case errors.Is(err, bucketview.ErrPasswordRequired):
		return fmt.Errorf("bucket %s is password protected; pass --password or run interactively", bucketID)
	case errors.Is(err, backend.ErrLookupFailed):
		return fmt.Errorf("bucket %s: %s", bucketID, backend.Message(err))
	default:
		return friendlyAuthError(err)
	}
}

// --- put ---

// uploadOutput is the JSON schema for `put --json`.
type uploadOutput struct {
	BucketID  string             `json:"bucket_id"`
	URL       string             `json:"url"`
	Files     []backend.FileInfo `json:"files"`
	TotalSize int64              `json:"total_size"`
}

func runPut(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd)
	ctx := cmd.Context()

	password, err := cmd.Flags().GetString("password")
	if err != nil {
		return err
	}

	files := make([]backend.UploadFile, 0, len(args))

	for _, path := range args {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("opening %s: %w", path, err)
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return fmt.Errorf("stat %s: %w", path, err)
		}

		if info.IsDir() {
			return fmt.Errorf("%s is a directory", path)
		}

		files = append(files, backend.UploadFile{Name: filepath.Base(path), Content: f})
	}

	app, err := newApp(cc, resumeLine(cmd, args), "")
	if err != nil {
		return err
	}
	defer closeApp(cc, app)

	cc.Logger.Debug("put", slog.Int("files", len(files)), slog.Bool("protected", password != ""))

	res, err := app.Resources.UploadFiles(ctx, files, password)
	if err != nil {
		return fmt.Errorf("uploading: %w", friendlyAuthError(err))
	}

	out := uploadOutput{
		BucketID:  res.StorageID,
		URL:       app.Transport.URL(res.URL),
		Files:     res.Files,
		TotalSize: res.TotalSize,
	}

	if cc.Flags.JSON {
		return printJSON(cc.Out, out)
	}

	cc.Statusf("Uploaded %d file(s), %s, to bucket %s.\n", len(res.Files), formatSize(res.TotalSize), res.StorageID)
	fmt.Fprintln(cc.Out, out.URL)

	return nil
}

// --- ls ---

// lsOutput is the JSON schema for `ls --json`.
type lsOutput struct {
	BucketID  string             `json:"bucket_id"`
	Protected bool               `json:"protected"`
	IsAdmin   bool               `json:"is_admin"`
	Files     []backend.FileInfo `json:"files"`
	TotalSize int64              `json:"total_size"`
}

func runLs(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd)

	id, err := parseBucketRef(args[0])
	if err != nil {
		return err
	}

	password, err := cmd.Flags().GetString("password")
	if err != nil {
		return err
	}

	app, err := newApp(cc, resumeLine(cmd, args), "")
	if err != nil {
		return err
	}
	defer closeApp(cc, app)

	st, err := newView(cc, app, password).Open(cmd.Context(), id)
	if err != nil {
		return bucketError(id, err)
	}

	files := st.Metadata.Files
	if files == nil {
		files = []backend.FileInfo{}
	}

	if cc.Flags.JSON {
		return printJSON(cc.Out, lsOutput{
			BucketID:  st.BucketID,
			Protected: st.Protected,
			IsAdmin:   st.IsAdmin,
			Files:     files,
			TotalSize: st.Metadata.TotalSize,
		})
	}

	var tags []string
	if st.Protected {
		tags = append(tags, "protected")
	}

	if st.IsAdmin {
		tags = append(tags, "admin")
	}

	header := fmt.Sprintf("Bucket %s: %d file(s), %s", st.BucketID, len(files), formatSize(st.Metadata.TotalSize))
	if len(tags) > 0 {
		header += " [" + strings.Join(tags, ", ") + "]"
	}

	cc.Statusf("%s\n", header)

	rows := make([][]string, 0, len(files))
	for _, f := range files {
		rows = append(rows, []string{f.OriginalName, formatSize(f.Size), f.ContentType})
	}

	printTable(cc.Out, []string{"NAME", "SIZE", "TYPE"}, rows)

	return nil
}

// --- get ---

// getURLOutput is the JSON schema for `get --url --json`.
type getURLOutput struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

func runGet(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd)
	ctx := cmd.Context()

	id, err := parseBucketRef(args[0])
	if err != nil {
		return err
	}

	names := args[1:]

	dir, err := cmd.Flags().GetString("output")
	if err != nil {
		return err
	}

	urlOnly, err := cmd.Flags().GetBool("url")
	if err != nil {
		return err
	}

	password, err := cmd.Flags().GetString("password")
	if err != nil {
		return err
	}

	app, err := newApp(cc, resumeLine(cmd, args), "")
	if err != nil {
		return err
	}
	defer closeApp(cc, app)

	if !urlOnly || len(names) == 0 {
		st, err := newView(cc, app, password).Open(ctx, id)
		if err != nil {
			return bucketError(id, err)
		}

		if len(names) == 0 {
			for _, f := range st.Metadata.Files {
				names = append(names, f.OriginalName)
			}
		}
	}

	if urlOnly {
		return printDownloadURLs(cc, app, id, names)
	}

	if len(names) == 0 {
		cc.Statusf("Bucket %s is empty.\n", id)
		return nil
	}

	fetched, err := bucketview.Fetch(ctx, app.Resources, id, names, dir, cc.Cfg.Bucket.ParallelDownloads, cc.Logger)
	if err != nil {
		return fmt.Errorf("downloading: %w", bucketError(id, err))
	}

	if cc.Flags.JSON {
		return printJSON(cc.Out, fetched)
	}

	var total int64
	for _, f := range fetched {
		fmt.Fprintf(cc.Out, "%s  %s\n", f.Path, formatSize(f.Size))
		total += f.Size
	}

	cc.Statusf("Downloaded %d file(s), %s.\n", len(fetched), formatSize(total))

	return nil
}

func printDownloadURLs(cc *CLIContext, app *App, bucketID string, names []string) error {
	out := make([]getURLOutput, 0, len(names))
	for _, name := range names {
		out = append(out, getURLOutput{Name: name, URL: app.Resources.DownloadURL(bucketID, name)})
	}

	if cc.Flags.JSON {
		return printJSON(cc.Out, out)
	}

	for _, u := range out {
		fmt.Fprintln(cc.Out, u.URL)
	}

	return nil
}

// --- admins ---

// adminsOutput is the JSON schema for `admins --json`.
type adminsOutput struct {
	BucketID string              `json:"bucket_id"`
	IsAdmin  bool                `json:"is_admin"`
	Owner    *backend.AdminInfo  `json:"owner"`
	Admins   []backend.AdminInfo `json:"admins"`
}

func runAdmins(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd)
	ctx := cmd.Context()

	id, err := parseBucketRef(args[0])
	if err != nil {
		return err
	}

	password, err := cmd.Flags().GetString("password")
	if err != nil {
		return err
	}

	app, err := newApp(cc, resumeLine(cmd, args), "")
	if err != nil {
		return err
	}
	defer closeApp(cc, app)

	// Opening first unlocks protected buckets and resolves the admin flag.
	st, err := newView(cc, app, password).Open(ctx, id)
	if err != nil {
		return bucketError(id, err)
	}

	admins, err := app.Resources.FetchBucketAdmins(ctx, id)
	if err != nil {
		return fmt.Errorf("listing admins: %w", err)
	}

	if admins.Admins == nil {
		admins.Admins = []backend.AdminInfo{}
	}

	if cc.Flags.JSON {
		return printJSON(cc.Out, adminsOutput{BucketID: id, IsAdmin: st.IsAdmin, Owner: admins.Owner, Admins: admins.Admins})
	}

	rows := make([][]string, 0, len(admins.Admins)+1)

	if admins.Owner != nil {
		rows = append(rows, adminRow("owner", admins.Owner))
	} else {
		rows = append(rows, []string{"owner", "(anonymous)", "-", "-"})
	}

	for i := range admins.Admins {
		rows = append(rows, adminRow("admin", &admins.Admins[i]))
	}

	printTable(cc.Out, []string{"ROLE", "USER", "EMAIL", "ADDED"}, rows)

	if st.IsAdmin {
		cc.Statusf("You administer this bucket.\n")
	}

	return nil
}

func adminRow(role string, a *backend.AdminInfo) []string {
	name := a.Username
	if name == "" {
		name = a.UserID
	}

	return []string{role, name, a.Email, formatAge(a.Created())}
}

// --- unlock / lock ---

func runUnlock(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd)

	id, err := parseBucketRef(args[0])
	if err != nil {
		return err
	}

	password, err := cmd.Flags().GetString("password")
	if err != nil {
		return err
	}

	app, err := newApp(cc, resumeLine(cmd, args), "")
	if err != nil {
		return err
	}
	defer closeApp(cc, app)

	st, err := newView(cc, app, password).Open(cmd.Context(), id)
	if err != nil {
		return bucketError(id, err)
	}

	switch {
	case !st.Protected:
		cc.Statusf("Bucket %s is not password protected.\n", id)
	case st.Unlocked:
		cc.Statusf("Bucket %s unlocked.\n", id)
	default:
		cc.Statusf("Bucket %s is already unlocked.\n", id)
	}

	return nil
}

func runLock(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd)

	id, err := parseBucketRef(args[0])
	if err != nil {
		return err
	}

	app, err := newApp(cc, "", "")
	if err != nil {
		return err
	}
	defer closeApp(cc, app)

	tok, err := app.Buckets.BucketToken(id)
	if err != nil {
		return err
	}

	if tok == "" {
		cc.Statusf("No saved token for bucket %s.\n", id)
		return nil
	}

	if err := app.Buckets.ForgetBucketToken(id); err != nil {
		return err
	}

	cc.Statusf("Bucket %s locked.\n", id)

	return nil
}
