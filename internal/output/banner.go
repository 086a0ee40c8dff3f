// Package output transforms raw process output on its way to the owner
// channel: a cosmetic banner substitution and an optional pass-through
// mirror. Neither transform blocks or drops bytes.
package output

import "bytes"

// Line pairs a banner line fragment with its decorative replacement.
// Each target is substituted at most once.
type Line struct {
	Match   []byte
	Replace []byte
}

// DefaultBannerLines is the stock agent startup banner substitution.
var DefaultBannerLines = []Line{
	{Match: []byte("✻ Welcome to Claude Code"), Replace: []byte("◆◇◆ agent session ready")},
	{Match: []byte("✻ Tips for getting started"), Replace: []byte("◆◇◆")},
}

// ScanBudget caps how many bytes the filter will examine before giving
// up permanently, so pathological output costs nothing past this point.
const ScanBudget = 64 * 1024

// maxLookahead bounds the partial line held back across chunks while
// waiting for its newline.
const maxLookahead = 512

// BannerFilter performs a bounded-lookahead, multi-line, once-per-line
// substitution on a byte stream. Once every target line has matched, or
// the scan budget is exhausted, the filter becomes a plain passthrough.
type BannerFilter struct {
	lines   []Line
	matched []bool
	pending []byte
	scanned int
	done    bool
}

func NewBannerFilter(lines []Line) *BannerFilter {
	if lines == nil {
		lines = DefaultBannerLines
	}
	return &BannerFilter{
		lines:   lines,
		matched: make([]bool, len(lines)),
	}
}

// Transform processes one chunk and returns the bytes to forward. Input
// is forwarded unmodified when nothing matches; no byte is ever dropped.
func (f *BannerFilter) Transform(p []byte) []byte {
	if f.done {
		if len(f.pending) > 0 {
			out := append(f.pending, p...)
			f.pending = nil
			return out
		}
		return p
	}

	f.pending = append(f.pending, p...)
	f.scanned += len(p)

	var out []byte
	for {
		nl := bytes.IndexByte(f.pending, '\n')
		if nl < 0 {
			break
		}
		line := f.pending[:nl+1]
		out = append(out, f.substitute(line)...)
		f.pending = f.pending[nl+1:]
	}

	if f.allMatched() || f.scanned > ScanBudget {
		f.done = true
		out = append(out, f.pending...)
		f.pending = nil
		return out
	}

	// A partial line past the lookahead bound can no longer be held
	// back; flush it unexamined.
	if len(f.pending) > maxLookahead {
		out = append(out, f.pending...)
		f.pending = nil
	}
	return out
}

// Flush returns any held-back partial line. Called when the stream ends.
func (f *BannerFilter) Flush() []byte {
	out := f.pending
	f.pending = nil
	f.done = true
	return out
}

func (f *BannerFilter) substitute(line []byte) []byte {
	for i, target := range f.lines {
		if f.matched[i] {
			continue
		}
		if idx := bytes.Index(line, target.Match); idx >= 0 {
			f.matched[i] = true
			replaced := make([]byte, 0, len(line)-len(target.Match)+len(target.Replace))
			replaced = append(replaced, line[:idx]...)
			replaced = append(replaced, target.Replace...)
			replaced = append(replaced, line[idx+len(target.Match):]...)
			return replaced
		}
	}
	return line
}

func (f *BannerFilter) allMatched() bool {
	for _, m := range f.matched {
		if !m {
			return false
		}
	}
	return true
}
