package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"media-vault/internal/logging"
	"media-vault/internal/mediatypes"
	"media-vault/internal/metrics"

	_ "image/gif"
	_ "image/png"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

const (
	thumbWidth   = 200
	thumbHeight  = 200
	thumbQuality = 80
)

// FFmpegProbe implements MediaProbe with image.DecodeConfig for images and
// the ffprobe/ffmpeg binaries for video. Thumbnails are written under
// cacheDir, named by content hash.
type FFmpegProbe struct {
	cacheDir   string
	thumbnails bool
}

// New creates a probe writing thumbnails under cacheDir. With thumbnails
// disabled only metadata is extracted.
func New(cacheDir string, thumbnails bool) (*FFmpegProbe, error) {
	if thumbnails {
		if err := os.MkdirAll(cacheDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create thumbnail cache dir: %w", err)
		}
	}
	return &FFmpegProbe{cacheDir: cacheDir, thumbnails: thumbnails}, nil
}

// Probe extracts metadata and generates a thumbnail for the file at path.
// A decode failure marks the result corrupted rather than returning an
// error; errors are reserved for I/O and subprocess failures.
func (p *FFmpegProbe) Probe(ctx context.Context, path, hash string) (*Result, error) {
	start := time.Now()
	fileType := mediatypes.FromPath(path)

	var (
		result *Result
		err    error
	)
	switch fileType {
	case mediatypes.FileTypeImage, mediatypes.FileTypeAnimation:
		result, err = p.probeImage(ctx, path, hash)
	case mediatypes.FileTypeVideo:
		result, err = p.probeVideo(ctx, path, hash)
	default:
		// Not media; record it with no metadata.
		result = &Result{}
	}

	outcome := "ok"
	switch {
	case err != nil:
		outcome = "error"
	case result.Corrupted:
		outcome = "corrupted"
	}
	metrics.ProbeOperationsTotal.WithLabelValues(string(fileType), outcome).Inc()
	metrics.ProbeDuration.WithLabelValues(string(fileType)).Observe(time.Since(start).Seconds())
	return result, err
}

func (p *FFmpegProbe) probeImage(ctx context.Context, path, hash string) (*Result, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}

	config, format, err := image.DecodeConfig(file)
	if closeErr := file.Close(); closeErr != nil {
		logging.Warn("failed to close %s: %v", path, closeErr)
	}
	if err != nil {
		logging.Debug("image decode failed for %s, marking corrupted: %v", path, err)
		return &Result{Corrupted: true}, nil
	}

	result := &Result{
		Metadata: Metadata{
			Width:  config.Width,
			Height: config.Height,
			Codec:  format,
		},
	}

	if format == "png" {
		if params, err := pngTextValue(path, "parameters"); err == nil {
			result.DiffusionParams = params
		}
	}

	if p.thumbnails {
		thumbPath, err := p.imageThumbnail(ctx, path, hash)
		if err != nil {
			logging.Warn("thumbnail generation failed for %s: %v", path, err)
			metrics.ThumbnailGenerationsTotal.WithLabelValues("image", "error").Inc()
		} else {
			result.ThumbPath = thumbPath
		}
	}
	return result, nil
}

func (p *FFmpegProbe) probeVideo(ctx context.Context, path, hash string) (*Result, error) {
	info, err := ffprobeStreams(ctx, path)
	if err != nil {
		// ffprobe exits non-zero on undecodable input; distinguish that
		// from the binary being missing or the context being cancelled.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			logging.Debug("ffprobe rejected %s, marking corrupted: %v", path, err)
			return &Result{Corrupted: true}, nil
		}
		return nil, err
	}

	result := &Result{Metadata: *info}

	if p.thumbnails {
		thumbPath, err := p.videoThumbnail(ctx, path, hash)
		if err != nil {
			logging.Warn("video thumbnail failed for %s: %v", path, err)
			metrics.ThumbnailGenerationsTotal.WithLabelValues("video", "error").Inc()
		} else {
			result.ThumbPath = thumbPath
		}
	}
	return result, nil
}

// ffprobeOutput mirrors the subset of ffprobe's -print_format json output
// the probe consumes.
type ffprobeOutput struct {
	Streams []struct {
		CodecType string `json:"codec_type"`
		CodecName string `json:"codec_name"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

func ffprobeStreams(ctx context.Context, path string) (*Metadata, error) {
	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffprobe error: %w - %s", err, stderr.String())
	}

	var parsed ffprobeOutput
	if err := json.Unmarshal(stdout.Bytes(), &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	info := &Metadata{}
	info.Duration, _ = strconv.ParseFloat(parsed.Format.Duration, 64)
	for _, stream := range parsed.Streams {
		if stream.CodecType == "video" {
			info.Width = stream.Width
			info.Height = stream.Height
			info.Codec = stream.CodecName
			break
		}
	}
	return info, nil
}

func (p *FFmpegProbe) thumbPath(hash string) string {
	return filepath.Join(p.cacheDir, hash+".jpg")
}

// imageThumbnail generates and caches a thumbnail for an image file. The
// vips fast path is used when available; imaging otherwise.
func (p *FFmpegProbe) imageThumbnail(_ context.Context, path, hash string) (string, error) {
	start := time.Now()
	thumbPath := p.thumbPath(hash)
	if _, err := os.Stat(thumbPath); err == nil {
		logging.Debug("thumbnail cache hit for %s", hash)
		metrics.ThumbnailGenerationsTotal.WithLabelValues("image", "cached").Inc()
		return thumbPath, nil
	}

	var img image.Image
	var err error
	if IsVipsAvailable() {
		img, err = loadWithVips(path, thumbWidth, thumbHeight)
		if err != nil {
			logging.Debug("vips load failed for %s, falling back to imaging: %v", path, err)
		}
	}
	if img == nil {
		img, err = imaging.Open(path, imaging.AutoOrientation(true))
		if err != nil {
			return "", fmt.Errorf("failed to decode image for thumbnail: %w", err)
		}
	}

	if err := p.encodeThumbnail(img, thumbPath); err != nil {
		return "", err
	}
	metrics.ThumbnailGenerationsTotal.WithLabelValues("image", "generated").Inc()
	metrics.ThumbnailGenerationDuration.WithLabelValues("image").Observe(time.Since(start).Seconds())
	return thumbPath, nil
}

// videoThumbnail extracts a frame at the one-second mark via ffmpeg, falling
// back to the first frame for clips shorter than that.
func (p *FFmpegProbe) videoThumbnail(ctx context.Context, path, hash string) (string, error) {
	start := time.Now()
	thumbPath := p.thumbPath(hash)
	if _, err := os.Stat(thumbPath); err == nil {
		metrics.ThumbnailGenerationsTotal.WithLabelValues("video", "cached").Inc()
		return thumbPath, nil
	}

	frame, err := extractFrame(ctx, path, "00:00:01")
	if err != nil {
		frame, err = extractFrame(ctx, path, "")
		if err != nil {
			return "", err
		}
	}

	if err := p.encodeThumbnail(frame, thumbPath); err != nil {
		return "", err
	}
	metrics.ThumbnailGenerationsTotal.WithLabelValues("video", "generated").Inc()
	metrics.ThumbnailGenerationDuration.WithLabelValues("video").Observe(time.Since(start).Seconds())
	return thumbPath, nil
}

func extractFrame(ctx context.Context, path, seek string) (image.Image, error) {
	args := []string{"-i", path}
	if seek != "" {
		args = append([]string{"-ss", seek}, args...)
	}
	args = append(args,
		"-vframes", "1",
		"-f", "image2pipe",
		"-vcodec", "png",
		"-",
	)

	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg failed: %w - %s", err, stderr.String())
	}
	if stdout.Len() == 0 {
		return nil, fmt.Errorf("ffmpeg produced no output for %s", path)
	}

	img, _, err := image.Decode(&stdout)
	if err != nil {
		return nil, fmt.Errorf("failed to decode ffmpeg output: %w", err)
	}
	return img, nil
}

func (p *FFmpegProbe) encodeThumbnail(img image.Image, thumbPath string) error {
	thumb := imaging.Fit(img, thumbWidth, thumbHeight, imaging.Lanczos)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, thumb, &jpeg.Options{Quality: thumbQuality}); err != nil {
		return fmt.Errorf("failed to encode thumbnail: %w", err)
	}
	if err := os.WriteFile(thumbPath, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write thumbnail: %w", err)
	}
	return nil
}
