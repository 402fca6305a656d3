package audio

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/lrstanley/go-ytdlp"

	"github.com/himanishpuri/audfprint-gui/pkg/utils"
)

// Download fetches the audio track of a remote URL into dir as WAV and
// returns the written path. YouTube URLs are named after the video id.
func Download(ctx context.Context, url, dir string) (string, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 3*time.Minute)
		defer cancel()
	}

	if err := utils.MakeDir(dir); err != nil {
		return "", fmt.Errorf("failed to create download directory: %w", err)
	}

	name, err := utils.ExtractYouTubeID(url)
	if err != nil || name == "" {
		name = uuid.NewString()
	}

	dl := ytdlp.New().
		ExtractAudio().
		AudioFormat("wav").
		NoPlaylist().
		Output(filepath.Join(dir, name+".%(ext)s"))

	if _, err := dl.Run(ctx, url); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("yt-dlp download of %s failed: %w", url, err)
	}

	matches, _ := filepath.Glob(filepath.Join(dir, name+".*"))
	sort.Strings(matches)
	for _, m := range matches {
		if filepath.Ext(m) == ".wav" {
			return m, nil
		}
	}
	if len(matches) > 0 {
		return matches[0], nil
	}
	return "", fmt.Errorf("downloaded audio for %s not found in %s", url, dir)
}
