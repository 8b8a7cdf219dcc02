package stats

import (
	"sort"
	"time"

	"Trape/internal/domain/models"
)

// sample is one one-second bucket. cum is the running sum of bucket prices up
// to and including this bucket, so any contiguous mean is two lookups.
type sample struct {
	sec   int64
	price float64
	cum   float64
}

// compactAfter bounds the dead prefix kept before the slice is rebuilt.
const compactAfter = 4096

// Window is the rolling sample store of one symbol at one resolution.
// It is not safe for concurrent use; the owner serializes access.
type Window struct {
	res     models.Resolution
	horizon int64
	samples []sample
	head    int
}

func NewWindow(res models.Resolution) *Window {
	return &Window{
		res:     res,
		horizon: int64(res.Horizon() / time.Second),
	}
}

func (w *Window) Resolution() models.Resolution { return w.res }

// Add buckets price into the second of ts. A later tick in the same second
// overwrites the bucket. Ticks older than the newest bucket are rejected so
// the newest timestamp never moves backwards.
func (w *Window) Add(ts time.Time, price float64) bool {
	sec := ts.Unix()
	if n := len(w.samples); n > w.head {
		last := &w.samples[n-1]
		if sec < last.sec {
			return false
		}
		if sec == last.sec {
			last.cum += price - last.price
			last.price = price
			return true
		}
		w.samples = append(w.samples, sample{sec: sec, price: price, cum: last.cum + price})
	} else {
		w.samples = append(w.samples[:0], sample{sec: sec, price: price, cum: price})
		w.head = 0
	}
	w.evict(sec - w.horizon)
	return true
}

// evict drops buckets older than cutoff.
func (w *Window) evict(cutoff int64) {
	live := w.samples[w.head:]
	i := sort.Search(len(live), func(i int) bool { return live[i].sec >= cutoff })
	w.head += i
	if w.head >= compactAfter && w.head*2 >= len(w.samples) {
		w.compact()
	}
}

func (w *Window) compact() {
	live := w.samples[w.head:]
	if len(live) == 0 {
		w.samples = w.samples[:0]
		w.head = 0
		return
	}
	base := live[0].cum - live[0].price
	out := make([]sample, len(live), len(live)+compactAfter)
	for i, s := range live {
		out[i] = sample{sec: s.sec, price: s.price, cum: s.cum - base}
	}
	w.samples = out
	w.head = 0
}

// DataBasis is the number of retained one-second buckets.
func (w *Window) DataBasis() int { return len(w.samples) - w.head }

// Newest returns the newest bucket time, zero when empty.
func (w *Window) Newest() time.Time {
	if w.DataBasis() == 0 {
		return time.Time{}
	}
	return time.Unix(w.samples[len(w.samples)-1].sec, 0).UTC()
}

// Latest returns the newest bucket price.
func (w *Window) Latest() (float64, bool) {
	if w.DataBasis() == 0 {
		return 0, false
	}
	return w.samples[len(w.samples)-1].price, true
}

// span returns the live buckets no older than length before the newest one.
func (w *Window) span(length time.Duration) []sample {
	live := w.samples[w.head:]
	if len(live) == 0 {
		return nil
	}
	from := live[len(live)-1].sec - int64(length/time.Second)
	i := sort.Search(len(live), func(i int) bool { return live[i].sec >= from })
	return live[i:]
}

// Slope is the price change per second between the first and last bucket of
// the sub-interval; 0 with fewer than two buckets.
func (w *Window) Slope(length time.Duration) float64 {
	s := w.span(length)
	if len(s) < 2 {
		return 0
	}
	first, last := s[0], s[len(s)-1]
	elapsed := last.sec - first.sec
	if elapsed <= 0 {
		return 0
	}
	return (last.price - first.price) / float64(elapsed)
}

// MovingAverage is the arithmetic mean of bucket prices in the sub-interval.
func (w *Window) MovingAverage(length time.Duration) float64 {
	s := w.span(length)
	if len(s) == 0 {
		return 0
	}
	first, last := s[0], s[len(s)-1]
	return (last.cum - (first.cum - first.price)) / float64(len(s))
}

// MaxSince returns the highest bucket price within length of the newest bucket.
func (w *Window) MaxSince(length time.Duration) float64 {
	hi := 0.0
	for _, s := range w.span(length) {
		if s.price > hi {
			hi = s.price
		}
	}
	return hi
}

// Stats computes all slopes and moving averages of the window.
func (w *Window) Stats(symbol string) models.StatsWindow {
	out := models.StatsWindow{
		Symbol:     symbol,
		Resolution: w.res,
		DataBasis:  w.DataBasis(),
		Newest:     w.Newest(),
	}
	for i, sub := range w.res.SubIntervals() {
		out.Slopes[i] = w.Slope(sub.Length)
		out.MovingAverages[i] = w.MovingAverage(sub.Length)
	}
	return out
}
