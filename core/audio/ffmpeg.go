package audio

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"time"

	"VoiceFM/config"
)

// MaxVolume is the loudest decoder gain accepted; larger values are clamped.
const MaxVolume = 2.0

var ErrInvalidVolume = errors.New("audio: volume must be greater than 0")

// ValidateVolume rejects non-positive values and clamps to MaxVolume.
func ValidateVolume(v float64) (float64, error) {
	if math.IsNaN(v) || v <= 0 {
		return 0, ErrInvalidVolume
	}
	return math.Min(v, MaxVolume), nil
}

// Settings holds the ffmpeg parameters shared by every pipeline.
type Settings struct {
	FFmpegPath    string
	FFprobePath   string
	Bitrate       string
	SampleRate    int
	Channels      int
	SSRC          int
	PayloadType   int
	TransportGain float64
	ChunkSize     int
	ChunkYield    time.Duration
	StopGrace     time.Duration
}

// DefaultSettings matches what the KOOK voice gateway expects.
func DefaultSettings() Settings {
	return Settings{
		FFmpegPath:    "ffmpeg",
		FFprobePath:   "ffprobe",
		Bitrate:       "48k",
		SampleRate:    48000,
		Channels:      2,
		SSRC:          1111,
		PayloadType:   111,
		TransportGain: 1.0,
		ChunkSize:     8192,
		ChunkYield:    10 * time.Millisecond,
		StopGrace:     3 * time.Second,
	}
}

// SettingsFromConfig builds Settings, keeping defaults for unset values.
func SettingsFromConfig(cfg *config.Config) Settings {
	s := DefaultSettings()
	if cfg == nil {
		return s
	}
	if cfg.FFmpegPath != "" {
		s.FFmpegPath = cfg.FFmpegPath
	}
	if cfg.FFprobePath != "" {
		s.FFprobePath = cfg.FFprobePath
	}
	if cfg.AudioBitrate != "" {
		s.Bitrate = cfg.AudioBitrate
	}
	if cfg.SampleRate > 0 {
		s.SampleRate = cfg.SampleRate
	}
	if cfg.Channels > 0 {
		s.Channels = cfg.Channels
	}
	if cfg.AudioSSRC > 0 {
		s.SSRC = cfg.AudioSSRC
	}
	if cfg.AudioPT > 0 {
		s.PayloadType = cfg.AudioPT
	}
	if cfg.TransportGain > 0 {
		s.TransportGain = cfg.TransportGain
	}
	if cfg.ChunkSize > 0 {
		s.ChunkSize = cfg.ChunkSize
	}
	if cfg.ChunkYield >= 0 {
		s.ChunkYield = cfg.ChunkYield
	}
	if cfg.StopGrace > 0 {
		s.StopGrace = cfg.StopGrace
	}
	return s
}

// TransportArgs reads PCM from input, encodes opus and sends RTP to target.
func (s Settings) TransportArgs(input, target string) []string {
	return []string{
		"-re",
		"-f", "s16le",
		"-ar", strconv.Itoa(s.SampleRate),
		"-ac", strconv.Itoa(s.Channels),
		"-i", input,
		"-acodec", "libopus",
		"-b:a", s.Bitrate,
		"-ac", strconv.Itoa(s.Channels),
		"-ar", strconv.Itoa(s.SampleRate),
		"-af", "volume=" + formatGain(s.TransportGain),
		"-ssrc", strconv.Itoa(s.SSRC),
		"-payload_type", strconv.Itoa(s.PayloadType),
		"-f", "rtp",
		target,
	}
}

// DecodeArgs decodes file to raw PCM on stdout with the given volume.
func (s Settings) DecodeArgs(file string, volume float64) []string {
	return []string{
		"-v", "quiet",
		"-i", file,
		"-af", "volume=" + formatGain(volume),
		"-f", "s16le",
		"-ar", strconv.Itoa(s.SampleRate),
		"-ac", strconv.Itoa(s.Channels),
		"-",
	}
}

func formatGain(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// ffprobeOutput defines the structure for ffprobe JSON output.
type ffprobeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Prober reads media durations with ffprobe.
type Prober struct {
	path string
}

// NewProber creates a Prober using the given ffprobe binary.
func NewProber(ffprobePath string) *Prober {
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &Prober{path: ffprobePath}
}

// Probe returns the duration of an audio file in seconds.
func (p *Prober) Probe(ctx context.Context, file string) (float64, error) {
	args := []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "json",
		file,
	}

	cmd := exec.CommandContext(ctx, p.path, args...)
	var out bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return 0, fmt.Errorf("ffprobe failed for %s: %w: %s", file, err, stderr.String())
	}
	return parseProbeDuration(out.Bytes())
}

func parseProbeDuration(data []byte) (float64, error) {
	var probe ffprobeOutput
	if err := json.Unmarshal(data, &probe); err != nil {
		return 0, fmt.Errorf("unmarshal ffprobe output: %w", err)
	}
	if probe.Format.Duration == "" {
		return 0, errors.New("duration not found in ffprobe output")
	}
	d, err := strconv.ParseFloat(probe.Format.Duration, 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", probe.Format.Duration, err)
	}
	return d, nil
}
