package batch

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"slices"
	"testing"

	watermark "github.com/gcslaoli/gwatermark"
	"github.com/gcslaoli/gwatermark/video"
)

func testEngine(t *testing.T) *watermark.Engine {
	t.Helper()
	refs := map[int]image.Image{}
	for _, size := range []int{48, 96} {
		img := image.NewNRGBA(image.Rect(0, 0, size, size))
		for i := 0; i < len(img.Pix); i += 4 {
			img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = 100, 100, 100, 255
		}
		refs[size] = img
	}
	eng, err := watermark.NewEngineFromReferences(refs)
	if err != nil {
		t.Fatalf("NewEngineFromReferences: %v", err)
	}
	return eng
}

func writePNG(t *testing.T, path string, w, h int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	touch(t, path, buf.Bytes())
}

func touch(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
}

type fakeVideos struct {
	err    error
	inputs []video.Input
}

func (f *fakeVideos) Process(_ context.Context, in video.Input, onProgress video.ProgressFunc) (*video.Result, error) {
	f.inputs = append(f.inputs, in)
	if f.err != nil {
		return nil, f.err
	}
	if onProgress != nil {
		onProgress(50)
		onProgress(100)
	}
	return &video.Result{Data: []byte("encoded video"), Container: "mp4"}, nil
}

func TestDiscover(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "b.png"), nil)
	touch(t, filepath.Join(dir, "a.MP4"), nil)
	touch(t, filepath.Join(dir, "notes.txt"), nil)
	touch(t, filepath.Join(dir, "nested", "c.webp"), nil)
	touch(t, filepath.Join(dir, "nested", "deeper", "d.mov"), nil)

	flat, err := Discover(dir, false)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	want := []string{filepath.Join(dir, "a.MP4"), filepath.Join(dir, "b.png")}
	if !slices.Equal(flat, want) {
		t.Fatalf("Discover(flat) = %v, want %v", flat, want)
	}

	deep, err := Discover(dir, true)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	want = []string{
		filepath.Join(dir, "a.MP4"),
		filepath.Join(dir, "b.png"),
		filepath.Join(dir, "nested", "c.webp"),
		filepath.Join(dir, "nested", "deeper", "d.mov"),
	}
	if !slices.Equal(deep, want) {
		t.Fatalf("Discover(recursive) = %v, want %v", deep, want)
	}
}

func TestDiscoverSingleFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.txt")
	touch(t, path, nil)

	files, err := Discover(path, false)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(files) != 1 || files[0] != path {
		t.Fatalf("Discover = %v", files)
	}
}

func TestDiscoverErrors(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "readme.md"), nil)

	if _, err := Discover(dir, true); !errors.Is(err, ErrNoFiles) {
		t.Fatalf("err = %v, want ErrNoFiles", err)
	}
	if _, err := Discover(filepath.Join(dir, "missing"), false); err == nil {
		t.Fatal("expected error for missing path")
	}
}

func TestOutputPath(t *testing.T) {
	r := NewRunner(nil, WithVideo(&fakeVideos{}, "webm"))
	if got, want := r.OutputPath(filepath.Join("in", "photo.jpg"), watermark.MediaImage), filepath.Join("in", "clean_photo.png"); got != want {
		t.Errorf("image output = %q, want %q", got, want)
	}
	if got, want := r.OutputPath(filepath.Join("in", "clip.mov"), watermark.MediaVideo), filepath.Join("in", "clean_clip.webm"); got != want {
		t.Errorf("video output = %q, want %q", got, want)
	}

	r = NewRunner(nil, WithOutputDir("out"), WithNaming(watermark.Naming{Suffix: "_cleaned"}))
	if got, want := r.OutputPath(filepath.Join("in", "clip.mov"), watermark.MediaVideo), filepath.Join("out", "clip_cleaned.mp4"); got != want {
		t.Errorf("video output = %q, want %q", got, want)
	}
}

func TestOutputPathKeepsSubdirectories(t *testing.T) {
	root := "photos"
	r := NewRunner(nil, WithOutputDir("out"), WithSourceRoot(root))

	a := r.OutputPath(filepath.Join(root, "a", "x.png"), watermark.MediaImage)
	b := r.OutputPath(filepath.Join(root, "b", "x.png"), watermark.MediaImage)
	top := r.OutputPath(filepath.Join(root, "x.png"), watermark.MediaImage)
	outside := r.OutputPath(filepath.Join("elsewhere", "x.png"), watermark.MediaImage)

	if want := filepath.Join("out", "a", "clean_x.png"); a != want {
		t.Errorf("a = %q, want %q", a, want)
	}
	if want := filepath.Join("out", "b", "clean_x.png"); b != want {
		t.Errorf("b = %q, want %q", b, want)
	}
	if want := filepath.Join("out", "clean_x.png"); top != want {
		t.Errorf("top = %q, want %q", top, want)
	}
	if want := filepath.Join("out", "clean_x.png"); outside != want {
		t.Errorf("outside = %q, want %q", outside, want)
	}
}

func TestRunRecursiveSameNames(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in")
	out := filepath.Join(dir, "out")
	writePNG(t, filepath.Join(in, "a", "x.png"), 200, 150)
	writePNG(t, filepath.Join(in, "b", "x.png"), 180, 120)

	files, err := Discover(in, true)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}

	sum := NewRunner(testEngine(t), WithOutputDir(out), WithSourceRoot(in)).Run(context.Background(), files)
	if sum.Count(StatusProcessed) != 2 {
		t.Fatalf("outcomes = %+v, want two processed", sum.Outcomes)
	}

	for name, width := range map[string]int{"a": 200, "b": 180} {
		data, err := os.ReadFile(filepath.Join(out, name, "clean_x.png"))
		if err != nil {
			t.Fatalf("output for %s missing: %v", name, err)
		}
		img, err := png.Decode(bytes.NewReader(data))
		if err != nil {
			t.Fatalf("output for %s is not a PNG: %v", name, err)
		}
		if img.Bounds().Dx() != width {
			t.Fatalf("output for %s is %v wide, want %d", name, img.Bounds().Dx(), width)
		}
	}
}

func TestRunIsolatesFailures(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out")

	good := filepath.Join(dir, "good.png")
	writePNG(t, good, 200, 150)
	tiny := filepath.Join(dir, "tiny.png")
	writePNG(t, tiny, 40, 40)
	corrupt := filepath.Join(dir, "corrupt.jpg")
	touch(t, corrupt, []byte("not a jpeg"))
	clip := filepath.Join(dir, "clip.mp4")
	touch(t, clip, []byte("fake"))
	doc := filepath.Join(dir, "doc.pdf")
	touch(t, doc, []byte("%PDF"))

	videos := &fakeVideos{}
	var progress []float64
	r := NewRunner(testEngine(t),
		WithVideo(videos, "mp4"),
		WithOutputDir(out),
		WithProgress(func(_ string, pct float64) { progress = append(progress, pct) }),
	)

	sum := r.Run(context.Background(), []string{good, tiny, corrupt, clip, doc})

	if got := sum.Count(StatusProcessed); got != 2 {
		t.Fatalf("processed %d files, want 2: %+v", got, sum.Outcomes)
	}
	if !sum.Failed() {
		t.Fatal("summary does not report failures")
	}

	kinds := map[string]string{}
	for _, f := range sum.Failures() {
		kinds[filepath.Base(f.Input)] = watermark.Kind(f.Err)
	}
	want := map[string]string{
		"tiny.png":    "invalid_frame_geometry",
		"corrupt.jpg": "source_decode",
		"doc.pdf":     "unsupported_media_type",
	}
	for name, kind := range want {
		if kinds[name] != kind {
			t.Errorf("%s failed with kind %q, want %q", name, kinds[name], kind)
		}
	}

	data, err := os.ReadFile(filepath.Join(out, "clean_good.png"))
	if err != nil {
		t.Fatalf("image output missing: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("image output is not a PNG: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 200 || b.Dy() != 150 {
		t.Fatalf("output is %v, want 200x150", b)
	}

	if got, err := os.ReadFile(filepath.Join(out, "clean_clip.mp4")); err != nil || string(got) != "encoded video" {
		t.Fatalf("video output = %q, %v", got, err)
	}
	if len(videos.inputs) != 1 || videos.inputs[0].Path != clip || videos.inputs[0].Name != "clip.mp4" {
		t.Fatalf("video inputs = %+v", videos.inputs)
	}
	if !slices.Equal(progress, []float64{50, 100}) {
		t.Fatalf("progress = %v", progress)
	}
}

func TestRunSkipsExistingOutputs(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "photo.png")
	writePNG(t, in, 200, 150)
	existing := filepath.Join(dir, "clean_photo.png")
	touch(t, existing, []byte("keep me"))

	sum := NewRunner(testEngine(t)).Run(context.Background(), []string{in})
	if sum.Count(StatusSkipped) != 1 {
		t.Fatalf("outcomes = %+v, want one skip", sum.Outcomes)
	}
	if got, _ := os.ReadFile(existing); string(got) != "keep me" {
		t.Fatal("existing output overwritten")
	}

	sum = NewRunner(testEngine(t), WithOverwrite(true)).Run(context.Background(), []string{in})
	if sum.Count(StatusProcessed) != 1 {
		t.Fatalf("outcomes = %+v, want one processed", sum.Outcomes)
	}
	if got, _ := os.ReadFile(existing); string(got) == "keep me" {
		t.Fatal("existing output not overwritten")
	}
}

func TestRunVideoWithoutPipeline(t *testing.T) {
	dir := t.TempDir()
	clip := filepath.Join(dir, "clip.webm")
	touch(t, clip, []byte("fake"))

	sum := NewRunner(testEngine(t)).Run(context.Background(), []string{clip})
	fails := sum.Failures()
	if len(fails) != 1 || !errors.Is(fails[0].Err, watermark.ErrUnsupportedMediaType) {
		t.Fatalf("outcomes = %+v", sum.Outcomes)
	}
}

func TestRunVideoFailure(t *testing.T) {
	dir := t.TempDir()
	clip := filepath.Join(dir, "clip.mp4")
	touch(t, clip, []byte("fake"))

	videos := &fakeVideos{err: encodeFailure()}
	sum := NewRunner(testEngine(t), WithVideo(videos, "")).Run(context.Background(), []string{clip})

	fails := sum.Failures()
	if len(fails) != 1 || watermark.Kind(fails[0].Err) != "encode" {
		t.Fatalf("outcomes = %+v", sum.Outcomes)
	}
	if _, err := os.Stat(filepath.Join(dir, "clean_clip.mp4")); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("output written for a failed video")
	}
}

func TestRunCanceled(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "photo.png")
	writePNG(t, in, 200, 150)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sum := NewRunner(testEngine(t)).Run(ctx, []string{in, in})
	if sum.Count(StatusFailed) != 2 {
		t.Fatalf("outcomes = %+v", sum.Outcomes)
	}
	for _, f := range sum.Failures() {
		if !errors.Is(f.Err, watermark.ErrCanceled) {
			t.Fatalf("err = %v, want ErrCanceled", f.Err)
		}
	}
}

func encodeFailure() error {
	return errors.Join(watermark.ErrEncode, errors.New("x264 exploded"))
}
