// Package probe extracts metadata (dimensions, duration, codec, embedded
// generation text) from media files and produces thumbnail artifacts.
//
// Images are decoded in-process, with an optional libvips fast path for
// thumbnails. Video metadata and frames come from the ffprobe and ffmpeg
// binaries. A file that cannot be decoded is reported as corrupted rather
// than failing the probe.
package probe
