// Package ytdlp wraps the yt-dlp binary for metadata extraction and downloads.
package ytdlp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/stwalsh4118/couchcast/internal/logger"
)

// DefaultFormat prefers separate best video and audio streams, falling back to the best single file
const DefaultFormat = "bv*+ba/b"

// maxKeep bounds the captured output of a single stream
const maxKeep = 8192

// Common errors
var (
	ErrBinaryNotFound = errors.New("yt-dlp not found in PATH")
	ErrEmptyURL       = errors.New("source URL is required")
	ErrEmptyTemplate  = errors.New("output template is required")
)

// Metadata is the subset of yt-dlp's info JSON the queue stores
type Metadata struct {
	ID        string  `json:"id"`
	Title     string  `json:"title"`
	Thumbnail string  `json:"thumbnail"`
	Duration  float64 `json:"duration"` // seconds
	Uploader  string  `json:"uploader"`
}

// DurationSeconds returns the duration truncated to whole seconds, nil when unknown
func (m *Metadata) DurationSeconds() *int64 {
	if m == nil || m.Duration <= 0 {
		return nil
	}
	d := int64(m.Duration)
	return &d
}

// Result is the outcome of one download
type Result struct {
	Success      bool
	FinalPath    string
	ErrorMessage string
}

// Client runs yt-dlp
type Client struct {
	binary string
	format string
}

// New creates a client for the given yt-dlp binary and format selector
func New(binary, format string) *Client {
	if binary == "" {
		binary = "yt-dlp"
	}
	if format == "" {
		format = DefaultFormat
	}
	return &Client{binary: binary, format: format}
}

// Available reports whether the yt-dlp binary can be found
func (c *Client) Available() bool {
	_, err := exec.LookPath(c.binary)
	return err == nil
}

// Extract reads the source's metadata without downloading it.
// Returns nil, nil when yt-dlp has nothing to report.
func (c *Client) Extract(ctx context.Context, url string) (*Metadata, error) {
	if strings.TrimSpace(url) == "" {
		return nil, ErrEmptyURL
	}

	args := []string{"-J", "--no-playlist", "--skip-download", "--no-warnings", url}

	// -J prints one JSON document, often megabytes on a single line
	var meta *Metadata
	var decodeErr error
	_, err := c.run(ctx, args, func(r io.Reader) {
		var m Metadata
		switch err := json.NewDecoder(r).Decode(&m); {
		case err == nil:
			meta = &m
		case errors.Is(err, io.EOF):
		default:
			decodeErr = err
		}
	})
	if err != nil {
		return nil, fmt.Errorf("yt-dlp metadata extraction failed: %w", err)
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("failed to parse yt-dlp metadata: %w", decodeErr)
	}
	return meta, nil
}

// Download fetches the source into outputTemplate and reports where the file ended up.
// yt-dlp failures are reported in the Result; the error is reserved for invalid arguments.
func (c *Client) Download(ctx context.Context, url, outputTemplate string) (Result, error) {
	if strings.TrimSpace(url) == "" {
		return Result{}, ErrEmptyURL
	}
	if strings.TrimSpace(outputTemplate) == "" {
		return Result{}, ErrEmptyTemplate
	}

	args := []string{
		"--no-playlist",
		"--newline",
		"--no-simulate",
		"--no-warnings",
		"-f", c.format,
		"-o", outputTemplate,
		"--print", "after_move:filepath",
		url,
	}

	started := time.Now()
	out, err := c.run(ctx, args, nil)
	if err != nil {
		msg := out.errorLine()
		switch {
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			msg = "download timed out"
		case errors.Is(ctx.Err(), context.Canceled):
			msg = "download cancelled"
		case msg == "":
			msg = err.Error()
		}
		return Result{ErrorMessage: msg}, nil
	}

	finalPath := lastLine(out.stdout)
	if finalPath == "" {
		return Result{ErrorMessage: "yt-dlp did not report an output file"}, nil
	}
	if _, err := os.Stat(finalPath); err != nil {
		return Result{ErrorMessage: fmt.Sprintf("downloaded file is missing: %s", finalPath)}, nil
	}

	logger.Log.Debug().
		Str("url", url).
		Str("file_path", finalPath).
		Dur("took", time.Since(started)).
		Msg("yt-dlp download finished")

	return Result{Success: true, FinalPath: finalPath}, nil
}

// output holds the bounded stdout and stderr of one run
type output struct {
	stdout string
	stderr string
}

// errorLine returns yt-dlp's ERROR line, or the last stderr line
func (o output) errorLine() string {
	lines := strings.Split(strings.TrimSpace(o.stderr), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); strings.HasPrefix(line, "ERROR:") {
			return line
		}
	}
	return lastLine(o.stderr)
}

// run executes yt-dlp and captures the tail of both streams.
// When consumeStdout is set it reads stdout instead and output.stdout stays empty.
func (c *Client) run(ctx context.Context, args []string, consumeStdout func(io.Reader)) (output, error) {
	if !c.Available() {
		return output{}, ErrBinaryNotFound
	}

	cmd := exec.CommandContext(ctx, c.binary, args...)
	cmd.WaitDelay = 2 * time.Second

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return output{}, fmt.Errorf("setup stdout pipe: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return output{}, fmt.Errorf("setup stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return output{}, fmt.Errorf("start yt-dlp: %w", err)
	}

	var outBuf, errBuf strings.Builder
	var mu sync.Mutex
	var wg sync.WaitGroup

	read := func(r io.Reader, b *strings.Builder, stream string) {
		defer wg.Done()
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		scanner.Split(splitByNewlineOrCR)
		for scanner.Scan() {
			line := scanner.Text()
			mu.Lock()
			appendLimited(b, line)
			mu.Unlock()
			logger.Log.Trace().Str("stream", stream).Msg(line)
		}
	}

	wg.Add(2)
	if consumeStdout != nil {
		go func() {
			defer wg.Done()
			consumeStdout(stdoutPipe)
			// Drain whatever the consumer left so yt-dlp never blocks on a full pipe
			_, _ = io.Copy(io.Discard, stdoutPipe)
		}()
	} else {
		go read(stdoutPipe, &outBuf, "stdout")
	}
	go read(stderrPipe, &errBuf, "stderr")
	wg.Wait()

	waitErr := cmd.Wait()

	mu.Lock()
	out := output{stdout: outBuf.String(), stderr: errBuf.String()}
	mu.Unlock()

	if waitErr != nil {
		return out, fmt.Errorf("yt-dlp failed: %w", waitErr)
	}
	return out, nil
}

// splitByNewlineOrCR splits progress output, which yt-dlp rewrites with carriage returns
func splitByNewlineOrCR(data []byte, atEOF bool) (advance int, token []byte, err error) {
	for i := 0; i < len(data); i++ {
		if data[i] == '\n' || data[i] == '\r' {
			if i == 0 {
				return 1, nil, nil
			}
			return i + 1, data[:i], nil
		}
	}
	if atEOF && len(data) > 0 {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// appendLimited keeps the tail of a stream, dropping the oldest lines past maxKeep
func appendLimited(b *strings.Builder, line string) {
	line += "\n"
	if len(line) > maxKeep {
		line = line[len(line)-maxKeep:]
	}
	if b.Len()+len(line) > maxKeep {
		kept := b.String()
		kept = kept[len(kept)+len(line)-maxKeep:]
		if i := strings.IndexByte(kept, '\n'); i >= 0 {
			kept = kept[i+1:]
		}
		b.Reset()
		b.WriteString(kept)
	}
	b.WriteString(line)
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
