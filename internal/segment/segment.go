// Package segment splits long audio files into transcription-sized chunks
// using ffmpeg. Files above the provider payload limit cannot be sent in one
// request, so they are probed for duration and re-encoded as fixed-length MP3
// chunks that each stay well below the limit.
package segment

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/echoscribe/internal/observe"
)

const (
	// DefaultChunkSeconds is the duration of each emitted chunk. Ten minutes
	// of 64 kbit/s MP3 is under 5 MB, far below the 25 MB provider limit.
	DefaultChunkSeconds = 600

	// defaultBitrate keeps chunk size predictable regardless of the source
	// codec.
	defaultBitrate = "64k"

	// probeTimeout bounds a single ffprobe invocation.
	probeTimeout = 30 * time.Second

	// defaultEncodeParallelism bounds concurrent ffmpeg processes.
	defaultEncodeParallelism = 4
)

// ErrNoDuration is returned when ffprobe reports no parsable duration.
var ErrNoDuration = errors.New("segment: audio has no parsable duration")

// ProbeError wraps an ffprobe failure with the command's stderr output.
type ProbeError struct {
	Path   string
	Stderr string
	Err    error
}

func (e *ProbeError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("segment: probe %q: %v: %s", e.Path, e.Err, e.Stderr)
	}
	return fmt.Sprintf("segment: probe %q: %v", e.Path, e.Err)
}

func (e *ProbeError) Unwrap() error { return e.Err }

// EncodeError reports chunk encodes that failed. Successful chunks are still
// returned alongside it, so callers can decide whether partial coverage is
// acceptable.
type EncodeError struct {
	// FailedIndices lists the zero-based chunk indices that failed.
	FailedIndices []int
	Errs          []error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("segment: %d chunk(s) failed to encode: %v", len(e.FailedIndices), errors.Join(e.Errs...))
}

func (e *EncodeError) Unwrap() error { return errors.Join(e.Errs...) }

// Chunk is one encoded slice of the source audio.
type Chunk struct {
	// Index is the zero-based position of the chunk within the source.
	Index int

	// Path is the location of the encoded MP3 file.
	Path string

	// Offset is the chunk's start time within the source, in seconds.
	Offset float64

	// Duration is the chunk's length in seconds.
	Duration float64
}

// Segmenter splits audio files via the ffmpeg and ffprobe binaries, which
// must be on PATH.
type Segmenter struct {
	chunkSeconds float64
	parallelism  int
	workDir      string

	// probe and encode default to ffprobe/ffmpeg invocations; tests swap
	// them out.
	probe  func(ctx context.Context, path string) (float64, error)
	encode func(ctx context.Context, src, dst string, offset, length float64) error
}

// Option configures a [Segmenter].
type Option func(*Segmenter)

// WithChunkSeconds overrides the chunk duration.
func WithChunkSeconds(seconds float64) Option {
	return func(s *Segmenter) {
		s.chunkSeconds = seconds
	}
}

// WithParallelism overrides the number of concurrent ffmpeg processes.
func WithParallelism(n int) Option {
	return func(s *Segmenter) {
		s.parallelism = n
	}
}

// WithWorkDir sets the directory chunk files are written to. Defaults to the
// system temp directory.
func WithWorkDir(dir string) Option {
	return func(s *Segmenter) {
		s.workDir = dir
	}
}

// New creates a Segmenter with the given options.
func New(opts ...Option) *Segmenter {
	s := &Segmenter{
		chunkSeconds: DefaultChunkSeconds,
		parallelism:  defaultEncodeParallelism,
		workDir:      os.TempDir(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.probe = s.ffprobeDuration
	s.encode = s.ffmpegEncode
	return s
}

// Probe returns the duration of the audio file at path in seconds.
func (s *Segmenter) Probe(ctx context.Context, path string) (float64, error) {
	return s.probe(ctx, path)
}

func (s *Segmenter) ffprobeDuration(ctx context.Context, path string) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	var stderr strings.Builder
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		return 0, &ProbeError{Path: path, Stderr: strings.TrimSpace(stderr.String()), Err: err}
	}

	dur, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil || dur <= 0 {
		return 0, fmt.Errorf("%w: output %q", ErrNoDuration, strings.TrimSpace(string(out)))
	}
	return dur, nil
}

// Split probes path and encodes it into sequential MP3 chunks inside a fresh
// subdirectory of the work dir. On partial failure the successfully encoded
// chunks are returned together with an [*EncodeError]; callers should still
// call [Cleanup] when done with them.
func (s *Segmenter) Split(ctx context.Context, path string) ([]Chunk, error) {
	ctx, span := observe.StartSpan(ctx, "segment.Split")
	defer span.End()

	duration, err := s.Probe(ctx, path)
	if err != nil {
		return nil, err
	}

	dir, err := os.MkdirTemp(s.workDir, "echoscribe-chunks-*")
	if err != nil {
		return nil, fmt.Errorf("segment: create chunk dir: %w", err)
	}

	chunks := plan(duration, s.chunkSeconds)
	failed := make([]error, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallelism)
	for i := range chunks {
		g.Go(func() error {
			out := filepath.Join(dir, fmt.Sprintf("chunk-%03d.mp3", i))
			if err := s.encode(gctx, path, out, chunks[i].Offset, chunks[i].Duration); err != nil {
				failed[i] = err
				return nil // other chunks keep going
			}
			chunks[i].Path = out
			return nil
		})
	}
	_ = g.Wait()

	var (
		ok      []Chunk
		encErr  EncodeError
		someErr bool
	)
	for i, c := range chunks {
		if failed[i] != nil {
			encErr.FailedIndices = append(encErr.FailedIndices, i)
			encErr.Errs = append(encErr.Errs, fmt.Errorf("chunk %d: %w", i, failed[i]))
			someErr = true
			continue
		}
		ok = append(ok, c)
	}
	if someErr {
		if len(ok) == 0 {
			// Cleanup finds the directory through chunk paths; with no
			// surviving chunks it has to go now.
			if rmErr := os.RemoveAll(dir); rmErr != nil {
				encErr.Errs = append(encErr.Errs, fmt.Errorf("remove chunk dir: %w", rmErr))
			}
		}
		return ok, &encErr
	}
	return ok, nil
}

// plan computes the chunk boundaries tiling [0, duration): every chunk is
// chunkSeconds long except the last, which is shortened to end exactly at
// duration. Paths are filled in later by the encoder.
func plan(duration, chunkSeconds float64) []Chunk {
	n := int(duration / chunkSeconds)
	if duration > float64(n)*chunkSeconds {
		n++
	}
	chunks := make([]Chunk, n)
	for i := range chunks {
		offset := float64(i) * chunkSeconds
		length := chunkSeconds
		if offset+length > duration {
			length = duration - offset
		}
		chunks[i] = Chunk{Index: i, Offset: offset, Duration: length}
	}
	return chunks
}

// ffmpegEncode extracts one chunk with ffmpeg, re-encoding to mono MP3 so
// chunk size stays bounded regardless of the input codec.
func (s *Segmenter) ffmpegEncode(ctx context.Context, src, dst string, offset, length float64) error {
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-y",
		"-ss", formatSeconds(offset),
		"-t", formatSeconds(length),
		"-i", src,
		"-vn",
		"-ac", "1",
		"-codec:a", "libmp3lame",
		"-b:a", defaultBitrate,
		dst,
	)
	var stderr strings.Builder
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg: %w: %s", err, lastLine(stderr.String()))
	}
	return nil
}

// Cleanup removes chunk files and their parent directory. Best effort: errors
// are returned joined but chunks that could be removed are gone regardless.
func Cleanup(chunks []Chunk) error {
	var errs []error
	dirs := map[string]struct{}{}
	for _, c := range chunks {
		if err := os.Remove(c.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
		dirs[filepath.Dir(c.Path)] = struct{}{}
	}
	for dir := range dirs {
		if err := os.Remove(dir); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}

// lastLine returns the final non-empty line of ffmpeg's stderr, which usually
// carries the actual failure reason.
func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) == 0 {
		return ""
	}
	return strings.TrimSpace(lines[len(lines)-1])
}
