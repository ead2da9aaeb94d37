package matcher

import (
	"context"
	"sort"
	"sync"
)

// Coarse-to-fine search. A template whose short side is at least
// 2*coarseMinSide is first scored on a box-downsampled copy of the frame
// and template; the best coarse peaks are then rescored at full
// resolution within one coarse cell of where they landed. Smaller
// templates are scored exhaustively.
const (
	coarseMinSide   = 12
	maxCoarseFactor = 8
	coarseSeeds     = 16
	// coarseSlack lowers the threshold for coarse peaks, since
	// downsampling blurs the peak a full-resolution match would have.
	coarseSlack = 0.15
)

// coarseFactor returns the largest power of two, up to maxCoarseFactor,
// that leaves the template's short side at least coarseMinSide.
func coarseFactor(tw, th int) int {
	f := 1
	for f*2 <= maxCoarseFactor && min(tw, th)/(f*2) >= coarseMinSide {
		f *= 2
	}
	return f
}

// window is a scored template position, top-left in search coordinates.
type window struct {
	x, y  int
	score float64
}

// pyramid caches downsampled copies of the search image by factor, so
// several template scales can share them.
type pyramid struct {
	base *level

	mu     sync.Mutex
	levels map[int]*level
}

func newPyramid(planes []plane) *pyramid {
	return &pyramid{base: newLevel(planes), levels: make(map[int]*level)}
}

func (p *pyramid) at(f int) *level {
	if f == 1 {
		return p.base
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if l, ok := p.levels[f]; ok {
		return l
	}
	l := newLevel(downsampleAll(p.base.planes, f))
	p.levels[f] = l
	return l
}

// locate returns up to keep non-overlapping windows scoring at least
// floor, best first. keep <= 0 means no limit. The template must fit
// inside the search image.
func locate(ctx context.Context, pyr *pyramid, tpl []plane, floor float64, keep int) ([]window, error) {
	tw, th := tpl[0].w, tpl[0].h
	ks := newKernels(tpl)
	mw, mh := pyr.base.w-tw+1, pyr.base.h-th+1

	f := coarseFactor(tw, th)
	if f == 1 {
		scores, err := pyr.base.scoreMap(ctx, ks)
		if err != nil {
			return nil, err
		}
		if keep == 1 {
			idx, s := argmax(scores)
			if s < floor {
				return nil, nil
			}
			return []window{{x: idx % mw, y: idx / mw, score: s}}, nil
		}
		return suppress(candidates(scores, mw, floor), tw/2, th/2, keep), nil
	}

	coarse := pyr.at(f)
	cks := newKernels(downsampleAll(tpl, f))
	cscores, err := coarse.scoreMap(ctx, cks)
	if err != nil {
		return nil, err
	}
	cmw := coarse.w - cks[0].w + 1

	nSeeds := coarseSeeds
	if keep <= 0 {
		nSeeds = 0
	} else if 2*keep > nSeeds {
		nSeeds = 2 * keep
	}
	cands := candidates(cscores, cmw, floor-coarseSlack)
	if len(cands) == 0 {
		idx, s := argmax(cscores)
		cands = []window{{x: idx % cmw, y: idx / cmw, score: s}}
	}
	seeds := suppress(cands, cks[0].w/2, cks[0].h/2, nSeeds)

	refined := make([]window, 0, len(seeds))
	for _, sd := range seeds {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		best := window{score: -1}
		for y := max(0, sd.y*f-f); y <= min(mh-1, sd.y*f+f); y++ {
			for x := max(0, sd.x*f-f); x <= min(mw-1, sd.x*f+f); x++ {
				if s := pyr.base.score(ks, x, y); s > best.score {
					best = window{x: x, y: y, score: s}
				}
			}
		}
		if best.score >= floor {
			refined = append(refined, best)
		}
	}
	sortWindows(refined)
	return suppress(refined, tw/2, th/2, keep), nil
}

// candidates returns the positions scoring at least floor, best first.
// Ties keep row-major order.
func candidates(scores []float64, mw int, floor float64) []window {
	var out []window
	for i, s := range scores {
		if s >= floor {
			out = append(out, window{x: i % mw, y: i / mw, score: s})
		}
	}
	sortWindows(out)
	return out
}

func sortWindows(ws []window) {
	sort.SliceStable(ws, func(i, j int) bool { return ws[i].score > ws[j].score })
}

// suppress keeps windows in order, dropping any closer than halfW and
// halfH on both axes to one already kept. limit <= 0 means no limit.
func suppress(ws []window, halfW, halfH, limit int) []window {
	var out []window
	for _, w := range ws {
		if overlapsAny(out, w, halfW, halfH) {
			continue
		}
		out = append(out, w)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

func overlapsAny(kept []window, w window, halfW, halfH int) bool {
	for _, k := range kept {
		if abs(k.x-w.x) < halfW && abs(k.y-w.y) < halfH {
			return true
		}
	}
	return false
}
