package matcher

import (
	"context"
	"image"
	"math"
	"runtime"

	"golang.org/x/image/draw"
	"golang.org/x/sync/errgroup"
)

// flatEpsilon is the variance below which a window counts as flat.
const flatEpsilon = 1e-2

// plane is one channel of an image as float64 samples, row-major.
type plane struct {
	w, h int
	pix  []float64
}

// toPlanes extracts r from img as a luma plane or as R, G and B planes.
func toPlanes(img image.Image, r image.Rectangle, gray bool) []plane {
	w, h := r.Dx(), r.Dy()
	rgba := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(rgba, rgba.Bounds(), img, r.Min, draw.Src)

	n := w * h
	if gray {
		p := plane{w: w, h: h, pix: make([]float64, n)}
		for i := 0; i < n; i++ {
			px := rgba.Pix[i*4 : i*4+3 : i*4+3]
			p.pix[i] = 0.299*float64(px[0]) + 0.587*float64(px[1]) + 0.114*float64(px[2])
		}
		return []plane{p}
	}

	planes := make([]plane, 3)
	for c := range planes {
		planes[c] = plane{w: w, h: h, pix: make([]float64, n)}
	}
	for i := 0; i < n; i++ {
		for c := 0; c < 3; c++ {
			planes[c].pix[i] = float64(rgba.Pix[i*4+c])
		}
	}
	return planes
}

// integral holds summed-area tables of a plane and of its squares.
type integral struct {
	stride int
	sum    []float64
	sq     []float64
}

func newIntegral(p plane) integral {
	stride := p.w + 1
	ii := integral{
		stride: stride,
		sum:    make([]float64, stride*(p.h+1)),
		sq:     make([]float64, stride*(p.h+1)),
	}
	for y := 0; y < p.h; y++ {
		var rowSum, rowSq float64
		for x := 0; x < p.w; x++ {
			v := p.pix[y*p.w+x]
			rowSum += v
			rowSq += v * v
			i := (y+1)*stride + x + 1
			ii.sum[i] = ii.sum[i-stride] + rowSum
			ii.sq[i] = ii.sq[i-stride] + rowSq
		}
	}
	return ii
}

// rect returns the sum and sum of squares over the w×h window at (x, y).
func (ii integral) rect(x, y, w, h int) (sum, sq float64) {
	a := y*ii.stride + x
	b := a + w
	c := (y+h)*ii.stride + x
	d := c + w
	return ii.sum[d] - ii.sum[b] - ii.sum[c] + ii.sum[a],
		ii.sq[d] - ii.sq[b] - ii.sq[c] + ii.sq[a]
}

// kernel is a template channel with its mean removed.
type kernel struct {
	w, h     int
	zero     []float64
	variance float64 // sum of squared deviations
}

func newKernel(p plane) kernel {
	n := float64(p.w * p.h)
	var mean float64
	for _, v := range p.pix {
		mean += v
	}
	mean /= n

	k := kernel{w: p.w, h: p.h, zero: make([]float64, len(p.pix))}
	for i, v := range p.pix {
		k.zero[i] = v - mean
		k.variance += k.zero[i] * k.zero[i]
	}
	return k
}

func newKernels(planes []plane) []kernel {
	ks := make([]kernel, len(planes))
	for i, p := range planes {
		ks[i] = newKernel(p)
	}
	return ks
}

// level is the search image at one resolution.
type level struct {
	w, h   int
	planes []plane
	ii     []integral
}

func newLevel(planes []plane) *level {
	l := &level{w: planes[0].w, h: planes[0].h, planes: planes, ii: make([]integral, len(planes))}
	for i, p := range planes {
		l.ii[i] = newIntegral(p)
	}
	return l
}

// score is the channel-averaged correlation of ks with the window at (x, y).
func (l *level) score(ks []kernel, x, y int) float64 {
	var s float64
	for c, k := range ks {
		s += windowScore(l.planes[c], l.ii[c], k, x, y)
	}
	return s / float64(len(ks))
}

// scoreMap scores every window position and returns the scores row-major
// with width l.w-k.w+1. Rows are scored in parallel, bounded by the CPU
// count, and ctx is checked before each row.
func (l *level) scoreMap(ctx context.Context, ks []kernel) ([]float64, error) {
	mw, mh := l.w-ks[0].w+1, l.h-ks[0].h+1
	out := make([]float64, mw*mh)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for y := 0; y < mh && gctx.Err() == nil; y++ {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			for x := 0; x < mw; x++ {
				out[y*mw+x] = l.score(ks, x, y)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func windowScore(img plane, ii integral, k kernel, x, y int) float64 {
	n := float64(k.w * k.h)
	sum, sq := ii.rect(x, y, k.w, k.h)
	winVar := sq - sum*sum/n

	if k.variance < flatEpsilon {
		if winVar < flatEpsilon {
			return 1
		}
		return 0
	}
	if winVar < flatEpsilon {
		return 0
	}

	var num float64
	for j := 0; j < k.h; j++ {
		row := img.pix[(y+j)*img.w+x : (y+j)*img.w+x+k.w]
		trow := k.zero[j*k.w : (j+1)*k.w]
		for i, v := range row {
			num += v * trow[i]
		}
	}

	return clamp01(num / math.Sqrt(k.variance*winVar))
}

func clamp01(v float64) float64 {
	switch {
	case v < 0 || math.IsNaN(v):
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// downsample box-averages p over f×f blocks. Partial blocks at the right
// and bottom edges are dropped.
func downsample(p plane, f int) plane {
	w, h := p.w/f, p.h/f
	out := plane{w: w, h: h, pix: make([]float64, w*h)}
	area := float64(f * f)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var s float64
			for j := 0; j < f; j++ {
				row := p.pix[(y*f+j)*p.w+x*f : (y*f+j)*p.w+x*f+f]
				for _, v := range row {
					s += v
				}
			}
			out.pix[y*w+x] = s / area
		}
	}
	return out
}

func downsampleAll(planes []plane, f int) []plane {
	out := make([]plane, len(planes))
	for i, p := range planes {
		out[i] = downsample(p, f)
	}
	return out
}

// scaleImage resizes src by factor s with bilinear sampling.
func scaleImage(src image.Image, s float64) *image.RGBA {
	b := src.Bounds()
	w := int(math.Round(float64(b.Dx()) * s))
	h := int(math.Round(float64(b.Dy()) * s))
	if w < 1 || h < 1 {
		return nil
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
	return dst
}
