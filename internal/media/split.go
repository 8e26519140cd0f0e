package media

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
)

// Segment is one bounded-duration slice of an audio file. Temporary is false
// only for the pass-through case where the input itself is returned.
type Segment struct {
	Index     int
	Path      string
	Start     float64
	Duration  float64
	Temporary bool
}

// DurationProber is the part of Prober the splitter needs.
type DurationProber interface {
	Duration(ctx context.Context, file string) float64
}

// SegmentEncoder is the part of Transcoder the splitter needs.
type SegmentEncoder interface {
	Segment(ctx context.Context, src, dst string, start, length float64) error
}

// Splitter cuts audio into fixed-duration segments.
type Splitter struct {
	prober  DurationProber
	encoder SegmentEncoder
	remove  func(string) error
}

func NewSplitter(prober DurationProber, encoder SegmentEncoder) *Splitter {
	return &Splitter{prober: prober, encoder: encoder, remove: os.Remove}
}

// Split returns the ordered segments of file, each at most maxSeconds long.
// A file that fits, or whose duration is unknown, comes back unchanged as
// the only segment. On error any segments already written are removed.
func (s *Splitter) Split(ctx context.Context, file string, maxSeconds float64) ([]Segment, error) {
	if maxSeconds <= 0 {
		return nil, fmt.Errorf("split %s: segment length must be positive, got %v", file, maxSeconds)
	}

	d := s.prober.Duration(ctx, file)
	if d <= maxSeconds {
		return []Segment{{Index: 0, Path: file, Start: 0, Duration: d}}, nil
	}

	count := int(math.Floor(d/maxSeconds)) + 1
	base := strings.TrimSuffix(file, filepath.Ext(file))
	segments := make([]Segment, 0, count)

	for i := 0; i < count; i++ {
		start := float64(i) * maxSeconds
		if start >= d {
			// count plans floor(d/max)+1 windows. When d is an exact
			// multiple of max the last window starts at end of file and
			// would extract a zero-length file, so only d/max segments
			// are returned and the provider never sees an empty upload.
			break
		}
		out := fmt.Sprintf("%s_chunk_%d.mp3", base, i)

		if err := s.encoder.Segment(ctx, file, out, start, maxSeconds); err != nil {
			s.discard(segments)
			_ = s.remove(out)
			return nil, fmt.Errorf("extract segment %d of %d: %w", i+1, count, err)
		}

		segments = append(segments, Segment{
			Index:     i,
			Path:      out,
			Start:     start,
			Duration:  math.Min(maxSeconds, d-start),
			Temporary: true,
		})
	}

	slog.Debug("audio split", "file", file, "duration", d, "segments", len(segments))
	return segments, nil
}

func (s *Splitter) discard(segments []Segment) {
	for _, seg := range segments {
		if !seg.Temporary {
			continue
		}
		if err := s.remove(seg.Path); err != nil && !os.IsNotExist(err) {
			slog.Warn("remove segment failed", "path", seg.Path, "error", err)
		}
	}
}
