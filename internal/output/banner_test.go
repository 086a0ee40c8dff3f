package output

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func testLines() []Line {
	return []Line{
		{Match: []byte("BANNER ONE"), Replace: []byte("◆◆◆")},
		{Match: []byte("BANNER TWO"), Replace: []byte("◇◇◇")},
	}
}

func TestSubstitutesEachLineOnce(t *testing.T) {
	f := NewBannerFilter(testLines())

	in := "hello\nBANNER ONE here\nBANNER TWO there\nBANNER ONE again\n"
	out := string(f.Transform([]byte(in)))

	if !strings.Contains(out, "◆◆◆ here") {
		t.Errorf("first banner not substituted: %q", out)
	}
	if !strings.Contains(out, "◇◇◇ there") {
		t.Errorf("second banner not substituted: %q", out)
	}
	if !strings.Contains(out, "BANNER ONE again") {
		t.Errorf("substitution should be once per line: %q", out)
	}
}

func TestPassthroughWhenNoMatch(t *testing.T) {
	f := NewBannerFilter(testLines())
	in := []byte("plain output\nmore output\n")
	out := f.Transform(in)
	if !bytes.Equal(out, in) {
		t.Errorf("out = %q, want input unmodified", out)
	}
}

func TestMatchAcrossChunkBoundary(t *testing.T) {
	f := NewBannerFilter(testLines())

	var out []byte
	out = append(out, f.Transform([]byte("BANNER "))...)
	out = append(out, f.Transform([]byte("ONE split\nBANNER TWO ok\n"))...)

	if !strings.Contains(string(out), "◆◆◆ split") {
		t.Errorf("split banner not substituted: %q", out)
	}
}

func TestNoBytesDropped(t *testing.T) {
	f := NewBannerFilter(testLines())

	chunks := []string{"partial", " line without newline", "\nBANNER ONE x\n", "tail with no newline"}
	var got []byte
	var total int
	for _, c := range chunks {
		total += len(c)
		got = append(got, f.Transform([]byte(c))...)
	}
	got = append(got, f.Flush()...)

	// Substitution changes length, so compare everything except the
	// replaced fragment.
	want := strings.Join(chunks, "")
	want = strings.Replace(want, "BANNER ONE", "◆◆◆", 1)
	if string(got) != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestStopsAfterAllMatched(t *testing.T) {
	f := NewBannerFilter(testLines())
	f.Transform([]byte("BANNER ONE\nBANNER TWO\n"))
	if !f.done {
		t.Fatal("filter should be done after all targets matched")
	}

	in := []byte("BANNER ONE again\n")
	out := f.Transform(in)
	if !bytes.Equal(out, in) {
		t.Errorf("done filter must be a passthrough, got %q", out)
	}
}

func TestStopsAfterScanBudget(t *testing.T) {
	f := NewBannerFilter(testLines())

	junk := bytes.Repeat([]byte("x\n"), ScanBudget)
	f.Transform(junk)
	if !f.done {
		t.Error("filter should give up after the scan budget")
	}
}

func TestLongPartialLineFlushed(t *testing.T) {
	f := NewBannerFilter(testLines())

	in := bytes.Repeat([]byte("y"), maxLookahead+100)
	out := f.Transform(in)
	if !bytes.Equal(out, in) {
		t.Errorf("overlong partial line must be forwarded, got %d bytes, want %d", len(out), len(in))
	}
}

type recordingMirror struct {
	chunks [][]byte
	fail   bool
}

func (m *recordingMirror) MirrorOutput(_ string, data []byte) error {
	if m.fail {
		return errors.New("mirror down")
	}
	m.chunks = append(m.chunks, append([]byte(nil), data...))
	return nil
}

func TestPipelineMirrorsOriginalBytes(t *testing.T) {
	m := &recordingMirror{}
	p := NewPipeline("s1", NewBannerFilter(testLines()), m)

	in := []byte("BANNER ONE\n")
	p.Process(in)

	if len(m.chunks) != 1 || !bytes.Equal(m.chunks[0], in) {
		t.Errorf("mirror should see unfiltered bytes, got %q", m.chunks)
	}
}

func TestPipelineMirrorFailureIsCosmetic(t *testing.T) {
	p := NewPipeline("s1", NewBannerFilter(testLines()), &recordingMirror{fail: true})
	out := p.Process([]byte("data\n"))
	if string(out) != "data\n" {
		t.Errorf("mirror failure must not affect output, got %q", out)
	}
}
