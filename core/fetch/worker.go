package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"melodex/config"
	"melodex/core/audio"
	"melodex/logger"
	"melodex/model"

	"github.com/google/uuid"
)

// ErrFetchFailed means the source media could not be downloaded after
// bounded retries.
var ErrFetchFailed = errors.New("failed to fetch source media")

// ErrTranscodeFailed means ffmpeg could not produce the target MP3.
var ErrTranscodeFailed = errors.New("failed to transcode source media")

// objectStore is the durable storage the worker writes artifacts to.
type objectStore interface {
	StoreFile(ctx context.Context, objectName, filePath, contentType string) (string, error)
}

// Worker downloads a matched source and transcodes it to the
// requested tier. It writes bytes to durable storage and returns the
// artifact; registering the cache entry is the coordinator's job, so
// a crash here can never leave the cache pointing at missing bytes.
type Worker struct {
	limiter    *Limiter
	proxies    *ProxyPool
	transcoder *audio.Transcoder
	store      objectStore
	cfg        *config.Config
}

// NewWorker creates a Worker.
func NewWorker(limiter *Limiter, proxies *ProxyPool, transcoder *audio.Transcoder, store objectStore, cfg *config.Config) *Worker {
	return &Worker{
		limiter:    limiter,
		proxies:    proxies,
		transcoder: transcoder,
		store:      store,
		cfg:        cfg,
	}
}

// bitrateFor maps a quality tier to its fixed encoder bitrate.
func (w *Worker) bitrateFor(tier model.QualityTier) int {
	if tier == model.QualityHigh {
		return w.cfg.HighBitrate
	}
	return w.cfg.StandardBitrate
}

// Produce downloads the candidate and produces an artifact at the
// given tier. Exactly one object is written to durable storage per
// successful call.
func (w *Worker) Produce(ctx context.Context, candidate *model.MatchCandidate, tier model.QualityTier) (*model.Artifact, error) {
	if err := w.limiter.Acquire(ctx); err != nil {
		return nil, fmt.Errorf("%v: %w", err, ErrFetchFailed)
	}
	defer w.limiter.Release()

	if err := os.MkdirAll(w.cfg.TempDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}

	workID := uuid.NewString()
	rawPath := filepath.Join(w.cfg.TempDir, workID+".src")
	mp3Path := filepath.Join(w.cfg.TempDir, workID+".mp3")
	defer os.Remove(rawPath)
	defer os.Remove(mp3Path)

	if err := w.download(ctx, candidate, rawPath); err != nil {
		return nil, err
	}

	bitrate := w.bitrateFor(tier)
	duration, err := w.transcoder.TranscodeMP3(ctx, rawPath, mp3Path, bitrate)
	if err != nil {
		logger.Error("Transcode failed",
			logger.String("sourceId", candidate.SourceID),
			logger.ErrorField(err))
		return nil, fmt.Errorf("source %s: %w", candidate.SourceID, ErrTranscodeFailed)
	}

	stat, err := os.Stat(mp3Path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat transcoded file: %w", err)
	}

	objectName := fmt.Sprintf("artifacts/%s/%s.mp3", tier, workID)
	location, err := w.store.StoreFile(ctx, objectName, mp3Path, "audio/mpeg")
	if err != nil {
		return nil, fmt.Errorf("failed to store artifact: %w", err)
	}

	logger.Info("Produced artifact",
		logger.String("sourceId", candidate.SourceID),
		logger.String("location", location),
		logger.String("tier", string(tier)),
		logger.Int64("size", stat.Size()))

	return &model.Artifact{
		Location:  location,
		Size:      stat.Size(),
		Duration:  duration,
		Tier:      tier,
		Bitrate:   bitrate,
		CreatedAt: time.Now(),
	}, nil
}

// download fetches the candidate media to destPath with bounded
// retries, rotating proxies on failure.
func (w *Worker) download(ctx context.Context, candidate *model.MatchCandidate, destPath string) error {
	var lastErr error
	for attempt := 1; attempt <= w.cfg.FetchRetries; attempt++ {
		proxy := w.proxies.Get()
		err := w.downloadOnce(ctx, candidate.URL, destPath, proxy)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return fmt.Errorf("%v: %w", ctx.Err(), ErrFetchFailed)
		}

		lastErr = err
		if proxy != nil {
			w.proxies.MarkFailed(proxy.URL)
		}
		logger.Warn("Download failed, will retry",
			logger.String("sourceId", candidate.SourceID),
			logger.Int("attempt", attempt),
			logger.ErrorField(err))

		if attempt < w.cfg.FetchRetries {
			select {
			case <-ctx.Done():
				return fmt.Errorf("%v: %w", ctx.Err(), ErrFetchFailed)
			case <-time.After(w.cfg.FetchBackoff * time.Duration(attempt)):
			}
		}
	}
	return fmt.Errorf("source %s after %d attempts: %v: %w", candidate.SourceID, w.cfg.FetchRetries, lastErr, ErrFetchFailed)
}

func (w *Worker) downloadOnce(ctx context.Context, mediaURL, destPath string, proxy *Proxy) error {
	client := &http.Client{
		Transport: w.proxies.Transport(proxy),
		Timeout:   w.cfg.FetchTimeout,
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create download request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("download request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download returned status %d", resp.StatusCode)
	}

	out, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", destPath, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, resp.Body); err != nil {
		os.Remove(destPath)
		return fmt.Errorf("failed to write %s: %w", destPath, err)
	}
	return nil
}
