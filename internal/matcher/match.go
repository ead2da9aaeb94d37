package matcher

import (
	"context"
	"fmt"
	"image"

	"github.com/nerrad567/macroforge-core/internal/device"
)

// MinTemplateSide is the smallest scaled template side that is still tried.
const MinTemplateSide = 10

// Options controls a single match.
type Options struct {
	// Region restricts the search to a rectangle in frame coordinates.
	// It is clipped to the frame. Nil searches the whole frame.
	Region *image.Rectangle

	// Threshold is the minimum score for Found. Must be within [0,1].
	Threshold float64

	// Grayscale correlates luma instead of averaging R, G and B.
	Grayscale bool

	// Scales are tried after the native size. Values <= 0 and 1.0 are ignored.
	Scales []float64
}

// Result is the outcome of a match.
type Result struct {
	Found    bool
	Location image.Point // centre of the best window, frame coordinates
	Score    float64
	Scale    float64
}

// Match finds the best window for tmpl inside frame. Templates with a
// short side of 24px or more are located coarse-to-fine (see locate);
// smaller ones are scored at every position. ctx is checked between
// rows, so a cancelled match returns ctx's error promptly.
//
// A template larger than the search area is not an error: the result is
// simply not found with score 0. A nil or empty frame fails with
// device.ErrCapture.
func Match(ctx context.Context, frame, tmpl image.Image, opts Options) (Result, error) {
	search, err := prepare(frame, tmpl, opts)
	if err != nil {
		return Result{}, err
	}
	if search.Empty() {
		return Result{Scale: 1}, nil
	}

	pyr := newPyramid(toPlanes(frame, search, opts.Grayscale))

	best := Result{Scale: 1}
	bestSet := false
	for _, s := range scaleSet(opts.Scales) {
		t := tmpl
		if s != 1 {
			scaled := scaleImage(tmpl, s)
			if scaled == nil {
				continue
			}
			b := scaled.Bounds()
			if b.Dx() < MinTemplateSide || b.Dy() < MinTemplateSide {
				continue
			}
			t = scaled
		}

		tb := t.Bounds()
		if tb.Dx() > search.Dx() || tb.Dy() > search.Dy() {
			continue
		}

		wins, err := locate(ctx, pyr, toPlanes(t, tb, opts.Grayscale), 0, 1)
		if err != nil {
			return Result{}, err
		}
		if len(wins) == 0 {
			continue
		}
		w := wins[0]
		if !bestSet || w.score > best.Score {
			bestSet = true
			best = Result{
				Score: w.score,
				Scale: s,
				Location: image.Pt(
					search.Min.X+w.x+tb.Dx()/2,
					search.Min.Y+w.y+tb.Dy()/2,
				),
			}
		}
	}

	if !bestSet {
		return Result{Scale: 1}, nil
	}
	best.Found = best.Score >= opts.Threshold
	return best, nil
}

// FindAll returns every non-overlapping window scoring at or above the
// threshold at the template's native size, best first. Two windows overlap
// when their centres are closer than half the template size on both axes.
// maxResults <= 0 means no limit.
func FindAll(ctx context.Context, frame, tmpl image.Image, opts Options, maxResults int) ([]Result, error) {
	search, err := prepare(frame, tmpl, opts)
	if err != nil {
		return nil, err
	}
	tb := tmpl.Bounds()
	if search.Empty() || tb.Dx() > search.Dx() || tb.Dy() > search.Dy() {
		return nil, nil
	}

	pyr := newPyramid(toPlanes(frame, search, opts.Grayscale))
	wins, err := locate(ctx, pyr, toPlanes(tmpl, tb, opts.Grayscale), opts.Threshold, maxResults)
	if err != nil {
		return nil, err
	}

	halfW, halfH := tb.Dx()/2, tb.Dy()/2
	results := make([]Result, 0, len(wins))
	for _, w := range wins {
		results = append(results, Result{
			Found:    true,
			Location: image.Pt(search.Min.X+w.x+halfW, search.Min.Y+w.y+halfH),
			Score:    w.score,
			Scale:    1,
		})
	}
	return results, nil
}

// prepare validates inputs and returns the clipped search rectangle.
func prepare(frame, tmpl image.Image, opts Options) (image.Rectangle, error) {
	if frame == nil || frame.Bounds().Empty() {
		return image.Rectangle{}, fmt.Errorf("%w: empty frame", device.ErrCapture)
	}
	if tmpl == nil || tmpl.Bounds().Empty() {
		return image.Rectangle{}, fmt.Errorf("%w: empty template", ErrTemplate)
	}
	if opts.Threshold < 0 || opts.Threshold > 1 {
		return image.Rectangle{}, fmt.Errorf("%w: %v", ErrThreshold, opts.Threshold)
	}

	search := frame.Bounds()
	if opts.Region != nil {
		search = opts.Region.Canon().Intersect(search)
	}
	return search, nil
}

// scaleSet returns 1.0 followed by the distinct positive extra scales.
func scaleSet(extra []float64) []float64 {
	out := []float64{1}
	seen := map[float64]bool{1: true}
	for _, s := range extra {
		if s <= 0 || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// argmax returns the first index holding the highest score. Scores are
// row-major, so ties resolve to the lowest y, then the lowest x.
func argmax(scores []float64) (int, float64) {
	idx, best := 0, scores[0]
	for i, s := range scores[1:] {
		if s > best {
			idx, best = i+1, s
		}
	}
	return idx, best
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
