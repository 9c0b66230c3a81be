package blender

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"logorender/internal/domain"
)

// VideoExtensions are recognized as a finished video written by the host.
var VideoExtensions = []string{".mp4", ".webm", ".mov", ".mkv"}

// Artifacts is what the host left in its output directory: either a video
// or an ordered PNG frame sequence.
type Artifacts struct {
	Video  string
	Frames []string
}

// FrameCount is the number of frames, or zero for a host-encoded video.
func (a Artifacts) FrameCount() int { return len(a.Frames) }

// Discover scans dir for output. A video file wins over frames.
func Discover(dir, prefix string) (*Artifacts, error) {
	if prefix == "" {
		prefix = "frame_"
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, domain.Wrap(domain.KindNoOutput, "No output files generated", err)
	}

	type frame struct {
		path string
		n    int
	}
	var frames []frame
	var videos []string
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		name := e.Name()
		info, err := e.Info()
		if err != nil || info.Size() == 0 {
			continue
		}
		ext := strings.ToLower(filepath.Ext(name))
		if isVideo(ext) {
			videos = append(videos, filepath.Join(dir, name))
			continue
		}
		if ext != ".png" || !strings.HasPrefix(name, prefix) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, prefix), filepath.Ext(name)))
		if err != nil {
			continue
		}
		frames = append(frames, frame{path: filepath.Join(dir, name), n: n})
	}

	if len(videos) > 0 {
		sort.Strings(videos)
		return &Artifacts{Video: videos[0]}, nil
	}
	if len(frames) == 0 {
		return nil, domain.Errorf(domain.KindNoOutput, "No output files generated")
	}
	sort.Slice(frames, func(i, j int) bool { return frames[i].n < frames[j].n })
	out := &Artifacts{Frames: make([]string, len(frames))}
	for i, f := range frames {
		out.Frames[i] = f.path
	}
	return out, nil
}

func isVideo(ext string) bool {
	for _, v := range VideoExtensions {
		if ext == v {
			return true
		}
	}
	return false
}
