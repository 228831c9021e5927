package downloader

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"vidfetch/internal/jobs"
	"vidfetch/internal/metrics"
	"vidfetch/internal/model"
	"vidfetch/internal/store"
)

// progressTemplate makes the extraction tool emit one JSON object per
// progress event on stdout. Values it does not know come out as "NA",
// which the event parser tolerates.
const progressTemplate = `{"status":"%(progress.status)s",` +
	`"_percent_str":"%(progress._percent_str)s",` +
	`"downloaded_bytes":"%(progress.downloaded_bytes)s",` +
	`"total_bytes":"%(progress.total_bytes)s",` +
	`"total_bytes_estimate":"%(progress.total_bytes_estimate)s",` +
	`"fragment_index":"%(progress.fragment_index)s",` +
	`"fragment_count":"%(progress.fragment_count)s"}`

// Options configures the external tool invocation and retry policy.
type Options struct {
	YtdlpPath      string
	FFmpegPath     string
	Format         string
	UserAgent      string
	DownloadsDir   string
	MaxRetries     int
	RetryBaseDelay time.Duration
}

// Downloader drives one external extraction process per job and feeds
// its progress events through the reconciler. It owns the retry loop
// and the terminal store writes for natural completion and failure;
// cancellation writes come from the coordinator.
type Downloader struct {
	store    *store.Store
	bus      *jobs.Broadcaster
	progress *jobs.Reconciler
	coord    *jobs.Coordinator
	logger   *slog.Logger
	opts     Options
}

// New wires a downloader to the core components.
func New(st *store.Store, bus *jobs.Broadcaster, rec *jobs.Reconciler, coord *jobs.Coordinator, opts Options, logger *slog.Logger) *Downloader {
	if opts.YtdlpPath == "" {
		opts.YtdlpPath = "yt-dlp"
	}
	if opts.Format == "" {
		opts.Format = "best[ext=mp4]/best"
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = 2 * time.Second
	}
	return &Downloader{store: st, bus: bus, progress: rec, coord: coord, logger: logger, opts: opts}
}

// Run executes the download for a submitted job until it reaches a
// terminal state. Blocking; callers run it in its own goroutine.
func (d *Downloader) Run(ctx context.Context, id, url string) {
	rec, changed := d.store.Update(id, func(r *model.JobRecord) {
		if model.CanTransition(r.Status, model.StatusInitializing) {
			r.Status = model.StatusInitializing
			r.Progress = 0
		}
	})
	if changed {
		d.bus.Publish(rec)
	}
	if rec.Status.IsTerminal() {
		// Cancelled between submission and start, nothing to run.
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	d.coord.RegisterProcess(id, jobs.HandleFunc(cancel))
	defer d.coord.UnregisterProcess(id)

	for attempt := 0; ; attempt++ {
		filePath, err := d.attempt(runCtx, id, url)
		if runCtx.Err() != nil {
			// Cancelled: the coordinator already wrote the terminal
			// state; this goroutine just winds down.
			d.logger.Info("download aborted", "id", id)
			return
		}
		if cur, ok := d.store.Get(id); ok && cur.Status.IsTerminal() {
			return
		}

		if err == nil {
			rec, changed := d.store.Update(id, func(r *model.JobRecord) {
				if !r.Status.IsTerminal() {
					r.SetCompleted(filePath)
				}
			})
			if changed {
				metrics.RecordDownloadOutcome(string(model.StatusCompleted))
				d.logger.Info("download completed", "id", id, "file", filePath)
				d.bus.Publish(rec)
			}
			return
		}

		if Retryable(err) && attempt < d.opts.MaxRetries {
			d.logger.Warn("download attempt failed, retrying",
				"id", id, "attempt", attempt+1, "maxRetries", d.opts.MaxRetries, "error", err)
			d.progress.ResetForRetry(id, err.Error())

			// Exponential backoff between attempts.
			delay := d.opts.RetryBaseDelay << uint(attempt)
			select {
			case <-runCtx.Done():
				return
			case <-time.After(delay):
			}

			rec, changed := d.store.Update(id, func(r *model.JobRecord) {
				if model.CanTransition(r.Status, model.StatusInitializing) {
					r.Status = model.StatusInitializing
				}
			})
			if changed {
				d.bus.Publish(rec)
			}
			continue
		}

		rec, changed := d.store.Update(id, func(r *model.JobRecord) {
			if !r.Status.IsTerminal() {
				r.SetError(err.Error())
			}
		})
		if changed {
			metrics.RecordDownloadOutcome(string(model.StatusError))
			d.logger.Error("download failed", "id", id, "error", err)
			d.bus.Publish(rec)
		}
		return
	}
}

// attempt runs the external tool once and returns the path of the
// produced artifact.
func (d *Downloader) attempt(ctx context.Context, id, url string) (string, error) {
	tmpDir, err := os.MkdirTemp("", "vidfetch-")
	if err != nil {
		return "", &ProcessingError{Message: "create work directory: " + err.Error()}
	}
	defer os.RemoveAll(tmpDir)

	args := []string{
		"--newline",
		"--no-colors",
		"--progress-template", progressTemplate,
		"-f", d.opts.Format,
		"-o", filepath.Join(tmpDir, "%(title)s.%(ext)s"),
	}
	if d.opts.FFmpegPath != "" {
		args = append(args, "--ffmpeg-location", d.opts.FFmpegPath)
	}
	if d.opts.UserAgent != "" {
		args = append(args, "--user-agent", d.opts.UserAgent)
	}
	args = append(args, url)

	cmd := exec.CommandContext(ctx, d.opts.YtdlpPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", &ProcessingError{Message: "attach stdout: " + err.Error()}
	}
	if err := cmd.Start(); err != nil {
		return "", &ProcessingError{Message: "start " + d.opts.YtdlpPath + ": " + err.Error()}
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		d.consumeLine(id, scanner.Text())
	}

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", classify(stderr.String())
	}

	produced, err := firstRegularFile(tmpDir)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(d.opts.DownloadsDir, 0o755); err != nil {
		return "", &ProcessingError{Message: "create downloads directory: " + err.Error()}
	}
	target := filepath.Join(d.opts.DownloadsDir, filepath.Base(produced))
	if err := moveFile(produced, target); err != nil {
		return "", &ProcessingError{Message: "store artifact: " + err.Error()}
	}
	return target, nil
}

// consumeLine feeds one stdout line into the reconciler when it is a
// progress event. The tool mixes plain log lines into stdout, so
// anything that does not parse as a JSON object is ignored.
func (d *Downloader) consumeLine(id, line string) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "{") || !strings.HasSuffix(line, "}") {
		return
	}
	var ev map[string]any
	if err := json.Unmarshal([]byte(line), &ev); err != nil {
		return
	}
	d.progress.Apply(id, SampleFromEvent(ev))
}

func firstRegularFile(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", &ProcessingError{Message: "read work directory: " + err.Error()}
	}
	for _, e := range entries {
		if e.Type().IsRegular() {
			return filepath.Join(dir, e.Name()), nil
		}
	}
	return "", &ProcessingError{Message: "no output file produced"}
}

// moveFile renames, falling back to copy for cross-device moves from
// the temp directory.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}
