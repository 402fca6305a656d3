// Package audio inspects source audio before it is handed to the
// fingerprinting tool and fetches remote sources.
package audio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-audio/wav"
)

// ErrInvalidWAV marks a .wav source whose header does not decode.
var ErrInvalidWAV = errors.New("invalid WAV file")

type Info struct {
	Path        string
	DurationSec float64
	SampleRate  int
	Channels    int
	BitDepth    int
	Format      string
	Title       string
	Artist      string
}

// Probe reads basic stream information. WAV files are decoded in-process;
// anything else is handed to ffprobe.
func Probe(ctx context.Context, path string) (*Info, error) {
	if strings.EqualFold(filepath.Ext(path), ".wav") {
		return probeWAV(path)
	}
	return probeFFmpeg(ctx, path)
}

func probeWAV(path string) (*Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("%s: %w", path, ErrInvalidWAV)
	}
	d, err := dec.Duration()
	if err != nil {
		return nil, fmt.Errorf("%s: reading duration: %w", path, err)
	}
	return &Info{
		Path:        path,
		DurationSec: d.Seconds(),
		SampleRate:  int(dec.SampleRate),
		Channels:    int(dec.NumChans),
		BitDepth:    int(dec.BitDepth),
		Format:      "wav",
	}, nil
}

type ffprobeOutput struct {
	Format struct {
		Duration string            `json:"duration"`
		Format   string            `json:"format_name"`
		Tags     map[string]string `json:"tags"`
	} `json:"format"`
	Streams []ffprobeStream `json:"streams"`
}

type ffprobeStream struct {
	CodecType     string `json:"codec_type"`
	SampleRate    string `json:"sample_rate"`
	Channels      int    `json:"channels"`
	BitsPerSample int    `json:"bits_per_sample"`
}

// FFprobe is the probe binary; tests point it elsewhere.
var FFprobe = "ffprobe"

func probeFFmpeg(ctx context.Context, path string) (*Info, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
	}

	out, err := exec.CommandContext(ctx, FFprobe,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	).Output()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("ffprobe %s: %w", path, err)
	}
	return parseFFprobe(path, out)
}

func parseFFprobe(path string, out []byte) (*Info, error) {
	var probe ffprobeOutput
	if err := json.Unmarshal(out, &probe); err != nil {
		return nil, fmt.Errorf("decoding ffprobe output: %w", err)
	}

	var stream *ffprobeStream
	for i := range probe.Streams {
		if probe.Streams[i].CodecType == "audio" {
			stream = &probe.Streams[i]
			break
		}
	}
	if stream == nil {
		return nil, fmt.Errorf("%s: no audio stream found", path)
	}

	duration, _ := strconv.ParseFloat(probe.Format.Duration, 64)
	rate, _ := strconv.Atoi(stream.SampleRate)
	info := &Info{
		Path:        path,
		DurationSec: duration,
		SampleRate:  rate,
		Channels:    stream.Channels,
		BitDepth:    stream.BitsPerSample,
		Format:      probe.Format.Format,
	}
	if probe.Format.Tags != nil {
		info.Title = probe.Format.Tags["title"]
		info.Artist = probe.Format.Tags["artist"]
	}
	return info, nil
}
