package probe

import (
	"bytes"
	"fmt"
	"image"
	"path/filepath"
	"sync"

	"media-vault/internal/logging"

	"github.com/davidbyttow/govips/v2/vips"
	"github.com/disintegration/imaging"
)

var (
	vipsInitialized bool
	vipsInitMutex   sync.Mutex
	vipsAvailable   bool
)

// InitVips initializes the libvips library. Call once at startup; thumbnail
// generation falls back to pure-Go decoding when it is not initialized.
func InitVips() error {
	vipsInitMutex.Lock()
	defer vipsInitMutex.Unlock()

	if vipsInitialized {
		return nil
	}

	// Configure vips logging before Startup() so LOG_LEVEL is respected.
	var vipsLogLevel vips.LogLevel
	var logHandler func(string, vips.LogLevel, string)

	switch logging.GetLevel() {
	case logging.LevelDebug:
		vipsLogLevel = vips.LogLevelInfo
		logHandler = func(domain string, level vips.LogLevel, msg string) {
			switch level {
			case vips.LogLevelError, vips.LogLevelCritical:
				logging.Error("[%s] %s", domain, msg)
			case vips.LogLevelWarning:
				logging.Warn("[%s] %s", domain, msg)
			case vips.LogLevelMessage, vips.LogLevelInfo, vips.LogLevelDebug:
				logging.Debug("[%s] %s", domain, msg)
			}
		}
	case logging.LevelInfo:
		vipsLogLevel = vips.LogLevelWarning
		logHandler = func(domain string, level vips.LogLevel, msg string) {
			switch level {
			case vips.LogLevelError, vips.LogLevelCritical:
				logging.Error("[%s] %s", domain, msg)
			case vips.LogLevelWarning:
				logging.Warn("[%s] %s", domain, msg)
			}
		}
	default:
		vipsLogLevel = vips.LogLevelError
		logHandler = func(domain string, level vips.LogLevel, msg string) {
			if level >= vips.LogLevelError {
				logging.Error("[%s] %s", domain, msg)
			}
		}
	}

	vips.LoggingSettings(logHandler, vipsLogLevel)

	// Conservative memory settings; one image at a time.
	vips.Startup(&vips.Config{
		ConcurrencyLevel: 1,
		MaxCacheMem:      50 * 1024 * 1024,
		MaxCacheSize:     100,
		ReportLeaks:      false,
		CacheTrace:       false,
		CollectStats:     false,
	})

	vipsInitialized = true
	vipsAvailable = true
	logging.Info("libvips initialized (version: %s)", vips.Version)
	return nil
}

// ShutdownVips cleans up libvips resources.
func ShutdownVips() {
	vipsInitMutex.Lock()
	defer vipsInitMutex.Unlock()

	if vipsInitialized {
		vips.Shutdown()
		vipsInitialized = false
		vipsAvailable = false
		logging.Info("libvips shutdown complete")
	}
}

// IsVipsAvailable returns whether libvips is initialized and available.
func IsVipsAvailable() bool {
	vipsInitMutex.Lock()
	defer vipsInitMutex.Unlock()
	return vipsAvailable
}

// loadWithVips loads and shrinks an image with libvips. Decode-time
// shrinking keeps memory flat for very large sources.
func loadWithVips(path string, targetWidth, targetHeight int) (image.Image, error) {
	if !IsVipsAvailable() {
		return nil, fmt.Errorf("libvips not available")
	}

	logging.Debug("loading %s with vips (target: %dx%d)", filepath.Base(path), targetWidth, targetHeight)

	ref, err := vips.LoadImageFromFile(path, vips.NewImportParams())
	if err != nil {
		return nil, fmt.Errorf("vips failed to load image: %w", err)
	}
	defer ref.Close()

	if err := ref.Thumbnail(targetWidth, targetHeight, vips.InterestingNone); err != nil {
		return nil, fmt.Errorf("vips resize failed: %w", err)
	}

	imgBytes, _, err := ref.ExportJpeg(&vips.JpegExportParams{
		Quality:        95,
		StripMetadata:  false,
		OptimizeCoding: true,
	})
	if err != nil {
		return nil, fmt.Errorf("vips export failed: %w", err)
	}

	img, err := imaging.Decode(bytes.NewReader(imgBytes), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode vips output: %w", err)
	}
	return img, nil
}
