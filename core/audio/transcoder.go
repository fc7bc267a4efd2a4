package audio

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"melodex/logger"
)

// Transcoder converts downloaded source media to MP3 using ffmpeg.
// Encoder settings per tier are fixed (bitrate, 44100 Hz, 2 channels)
// so two transcodes of the same source are as reproducible as the
// encoder allows.
type Transcoder struct {
	ffmpegPath string
}

// NewTranscoder creates a Transcoder.
func NewTranscoder(ffmpegPath string) *Transcoder {
	return &Transcoder{ffmpegPath: ffmpegPath}
}

// TranscodeMP3 transcodes inputFile to an MP3 at the given bitrate
// (kbps) and returns the output duration in seconds.
func (t *Transcoder) TranscodeMP3(ctx context.Context, inputFile, outputFile string, bitrate int) (float32, error) {
	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return 0, fmt.Errorf("failed to create output directory: %w", err)
	}

	args := []string{
		"-y",
		"-i", inputFile,
		"-vn",
		"-codec:a", "libmp3lame",
		"-b:a", fmt.Sprintf("%dk", bitrate),
		"-ar", "44100",
		"-ac", "2",
		outputFile,
	}

	logger.Debug("Running ffmpeg",
		logger.String("input", inputFile),
		logger.String("output", outputFile),
		logger.Int("bitrate", bitrate))

	cmd := exec.CommandContext(ctx, t.ffmpegPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return 0, fmt.Errorf("ffmpeg failed for %s: %w\nFFmpeg Error: %s", inputFile, err, stderr.String())
	}

	duration, err := t.Duration(outputFile)
	if err != nil {
		logger.Warn("Could not read duration of transcoded file",
			logger.String("file", outputFile),
			logger.ErrorField(err))
		return 0, nil
	}
	return duration, nil
}

// Duration returns the audio duration of a file in seconds via ffprobe.
func (t *Transcoder) Duration(inputFile string) (float32, error) {
	ffprobePath := strings.Replace(t.ffmpegPath, "ffmpeg", "ffprobe", 1)

	args := []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "json",
		inputFile,
	}

	cmd := exec.Command(ffprobePath, args...)
	var out bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return 0, fmt.Errorf("ffprobe execution failed for %s: %w\nFFprobe Error: %s", inputFile, err, stderr.String())
	}

	var probeData struct {
		Format struct {
			Duration string `json:"duration"`
		} `json:"format"`
	}
	if err := json.Unmarshal(out.Bytes(), &probeData); err != nil {
		return 0, fmt.Errorf("failed to unmarshal ffprobe output: %w", err)
	}
	if probeData.Format.Duration == "" {
		return 0, fmt.Errorf("no duration in ffprobe output for %s", inputFile)
	}

	seconds, err := strconv.ParseFloat(probeData.Format.Duration, 32)
	if err != nil {
		return 0, fmt.Errorf("failed to parse duration %q: %w", probeData.Format.Duration, err)
	}
	return float32(seconds), nil
}
