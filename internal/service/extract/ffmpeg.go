package extract

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"live-transcription-service/internal/observability/logging"
	"live-transcription-service/internal/service/segment"
)

// Runner executes an external command and returns its stdout and stderr.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run implements Runner.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// FFmpegConfig configures the ffmpeg extractor.
type FFmpegConfig struct {
	FFmpegPath   string
	FFprobePath  string
	SampleRate   int
	WorkDir      string
	ContainerExt string
}

// FFmpeg decodes segments with the ffmpeg CLI and measures them with ffprobe.
// It implements both Extractor and segment.Prober.
type FFmpeg struct {
	cfg    FFmpegConfig
	runner Runner
	logger zerolog.Logger
}

// NewFFmpeg creates an extractor. A nil runner uses ExecRunner.
func NewFFmpeg(cfg FFmpegConfig, runner Runner) *FFmpeg {
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.FFprobePath == "" {
		cfg.FFprobePath = "ffprobe"
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.ContainerExt == "" {
		cfg.ContainerExt = ".webm"
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	return &FFmpeg{
		cfg:    cfg,
		runner: runner,
		logger: logging.WithComponent("extract"),
	}
}

// Extract writes the segment's container to a temporary file and decodes the
// span to mono PCM at the configured sample rate. Only a terminal segment of
// unknown length is probed; windowed spans are bounded by -t and checked
// through the decoded WAV. Temporary files never outlive the call.
func (f *FFmpeg) Extract(ctx context.Context, seg segment.Segment) (Waveform, error) {
	if len(seg.Data) == 0 {
		return Waveform{}, fmt.Errorf("%w: segment %d is empty", ErrExtractionFailed, seg.Index)
	}

	src, cleanupSrc, err := f.writeContainer(seg)
	if err != nil {
		return Waveform{}, err
	}
	defer cleanupSrc()

	if seg.Final && seg.Duration <= 0 {
		d, err := f.probeFile(ctx, src, seg.Start)
		if err != nil {
			return Waveform{}, fmt.Errorf("%w: segment %d: %v", ErrSegmentUnmeasurable, seg.Index, err)
		}
		seg.Duration = d
	}

	dst, err := os.CreateTemp(f.cfg.WorkDir, "segment-*.wav")
	if err != nil {
		return Waveform{}, fmt.Errorf("%w: create output: %v", ErrExtractionFailed, err)
	}
	dstPath := dst.Name()
	dst.Close()
	defer os.Remove(dstPath)

	_, stderr, err := f.runner.Run(ctx, f.cfg.FFmpegPath, f.extractArgs(src, dstPath, seg)...)
	if err != nil {
		if ctx.Err() != nil {
			return Waveform{}, ctx.Err()
		}
		return Waveform{}, fmt.Errorf("%w: ffmpeg: %v: %s", ErrExtractionFailed, err, lastLine(stderr))
	}

	data, err := os.ReadFile(dstPath)
	if err != nil {
		return Waveform{}, fmt.Errorf("%w: read output: %v", ErrExtractionFailed, err)
	}
	if len(data) <= wavHeaderSize {
		return Waveform{}, fmt.Errorf("%w: segment %d produced no audio", ErrExtractionFailed, seg.Index)
	}
	info, err := ParseWAV(data)
	if err != nil {
		return Waveform{}, fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}
	if info.Duration() <= 0 {
		return Waveform{}, fmt.Errorf("%w: segment %d decoded to zero length", ErrSegmentUnmeasurable, seg.Index)
	}

	f.logger.Debug().
		Int("segmentIndex", seg.Index).
		Dur("start", seg.Start).
		Dur("duration", info.Duration()).
		Int("bytes", len(data)).
		Msg("Segment extracted")

	return Waveform{
		Data:       data,
		SampleRate: int(info.SampleRate),
		Duration:   info.Duration(),
	}, nil
}

// Probe measures the playable duration of the segment's span, which is the
// container duration less the span's start offset.
func (f *FFmpeg) Probe(ctx context.Context, seg segment.Segment) (time.Duration, error) {
	if len(seg.Data) == 0 {
		return 0, segment.ErrUnmeasurable
	}
	src, cleanup, err := f.writeContainer(seg)
	if err != nil {
		return 0, err
	}
	defer cleanup()
	return f.probeFile(ctx, src, seg.Start)
}

func (f *FFmpeg) probeFile(ctx context.Context, path string, start time.Duration) (time.Duration, error) {
	total, err := f.containerDuration(ctx, path)
	if err != nil {
		return 0, err
	}
	if d := total - start; d > 0 {
		return d, nil
	}
	return 0, segment.ErrUnmeasurable
}

// containerDuration asks ffprobe for the format duration. Live recorder
// output often carries no duration, in which case the file is decoded to
// the null muxer and the last progress timestamp is used instead.
func (f *FFmpeg) containerDuration(ctx context.Context, path string) (time.Duration, error) {
	out, _, err := f.runner.Run(ctx, f.cfg.FFprobePath, probeArgs(path)...)
	if err == nil {
		if d, perr := parseProbeDuration(out); perr == nil {
			return d, nil
		}
	} else if ctx.Err() != nil {
		return 0, ctx.Err()
	}

	_, stderr, err := f.runner.Run(ctx, f.cfg.FFmpegPath, "-hide_banner", "-stats", "-i", path, "-f", "null", "-")
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return 0, fmt.Errorf("%w: %v", segment.ErrUnmeasurable, err)
	}
	d, ok := lastProgressTime(stderr)
	if !ok {
		return 0, segment.ErrUnmeasurable
	}
	return d, nil
}

func (f *FFmpeg) writeContainer(seg segment.Segment) (string, func(), error) {
	tmp, err := os.CreateTemp(f.cfg.WorkDir, "segment-*"+f.cfg.ContainerExt)
	if err != nil {
		return "", nil, fmt.Errorf("%w: create input: %v", ErrExtractionFailed, err)
	}
	path := tmp.Name()
	cleanup := func() { os.Remove(path) }

	if len(seg.Head) > 0 {
		if _, err := tmp.Write(seg.Head); err != nil {
			tmp.Close()
			cleanup()
			return "", nil, fmt.Errorf("%w: write input: %v", ErrExtractionFailed, err)
		}
	}
	if _, err := tmp.Write(seg.Data); err != nil {
		tmp.Close()
		cleanup()
		return "", nil, fmt.Errorf("%w: write input: %v", ErrExtractionFailed, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("%w: close input: %v", ErrExtractionFailed, err)
	}
	return path, cleanup, nil
}

// extractArgs builds the ffmpeg invocation. The terminal segment decodes to
// the end of the stream; others are bounded by their estimated length.
func (f *FFmpeg) extractArgs(src, dst string, seg segment.Segment) []string {
	args := []string{"-y", "-hide_banner", "-loglevel", "error", "-i", src}
	if seg.Start > 0 {
		args = append(args, "-ss", seconds(seg.Start))
	}
	if !seg.Final && seg.Estimated > 0 {
		args = append(args, "-t", seconds(seg.Estimated))
	}
	return append(args,
		"-ac", "1",
		"-ar", strconv.Itoa(f.cfg.SampleRate),
		"-c:a", "pcm_s16le",
		dst,
	)
}

func probeArgs(path string) []string {
	return []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	}
}

func parseProbeDuration(out []byte) (time.Duration, error) {
	s := strings.TrimSpace(string(out))
	if s == "" || s == "N/A" {
		return 0, segment.ErrUnmeasurable
	}
	secs, err := strconv.ParseFloat(s, 64)
	if err != nil || secs <= 0 {
		return 0, segment.ErrUnmeasurable
	}
	return time.Duration(secs * float64(time.Second)), nil
}

var progressTime = regexp.MustCompile(`time=(\d+):(\d{2}):(\d{2}(?:\.\d+)?)`)

func lastProgressTime(stderr []byte) (time.Duration, bool) {
	matches := progressTime.FindAllSubmatch(stderr, -1)
	if len(matches) == 0 {
		return 0, false
	}
	m := matches[len(matches)-1]
	h, _ := strconv.Atoi(string(m[1]))
	mins, _ := strconv.Atoi(string(m[2]))
	sec, _ := strconv.ParseFloat(string(m[3]), 64)
	d := time.Duration(h)*time.Hour + time.Duration(mins)*time.Minute + time.Duration(sec*float64(time.Second))
	return d, d > 0
}

func seconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
}

func lastLine(b []byte) string {
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	return lines[len(lines)-1]
}
