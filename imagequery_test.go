package imagequery

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/D0men1c0/LauzHack/internal/errors"
	"github.com/D0men1c0/LauzHack/pkg/dataset"
	"github.com/D0men1c0/LauzHack/pkg/types"
)

const blueFilter = `{"filtered_data": {"where": {"column": "color_category", "op": "eq", "value": "blue"}}, "output_variable": null}`

var (
	gray = color.NRGBA{128, 128, 128, 255}
	blue = color.NRGBA{0, 80, 200, 255}
)

// keywordEmbedder maps every text to a one-hot vector of the first keyword it contains
type keywordEmbedder struct {
	keywords []string
	err      error
	calls    int
	closed   int
}

func (e *keywordEmbedder) Encode(_ context.Context, texts []string) ([][]float64, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float64, len(texts))
	for i, text := range texts {
		v := make([]float64, len(e.keywords)+1)
		v[len(e.keywords)] = 0.01
		for k, kw := range e.keywords {
			if strings.Contains(text, kw) {
				v[k] = 1
				break
			}
		}
		out[i] = v
	}
	return out, nil
}

func (e *keywordEmbedder) Close() error {
	e.closed++
	return nil
}

// scriptedGenerator answers chat calls in order
type scriptedGenerator struct {
	replies []string
	errs    []error
	calls   [][]types.Message
}

func (g *scriptedGenerator) Complete(_ context.Context, messages []types.Message, _ types.CompletionOptions) (string, error) {
	i := len(g.calls)
	g.calls = append(g.calls, messages)
	if i < len(g.errs) && g.errs[i] != nil {
		return "", g.errs[i]
	}
	if i < len(g.replies) {
		return g.replies[i], nil
	}
	return "", errors.New("unexpected call")
}

type stubDetector struct {
	pred   *types.Prediction
	err    error
	labels []string
}

func (d *stubDetector) Predict(_ context.Context, _ image.Image, label string, _ float64) (*types.Prediction, error) {
	d.labels = append(d.labels, label)
	return d.pred, d.err
}

func blueSquareImage() *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, 100, 100))
	for y := 0; y < 100; y++ {
		for x := 0; x < 100; x++ {
			c := gray
			if x >= 10 && x < 30 && y >= 10 && y < 30 {
				c = blue
			}
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func nrgbaAt(img image.Image, x, y int) color.NRGBA {
	return color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
}

type fixture struct {
	embedder  *keywordEmbedder
	generator *scriptedGenerator
	detector  *stubDetector
	resolver  *Resolver
}

func newFixture(t *testing.T, boxes [][4]float64, replies ...string) *fixture {
	t.Helper()
	f := &fixture{
		embedder:  &keywordEmbedder{keywords: []string{"object", "person"}},
		generator: &scriptedGenerator{replies: replies},
		detector:  &stubDetector{pred: &types.Prediction{Boxes: boxes}},
	}
	opts := DefaultOptions()
	opts.Embedder = f.embedder
	opts.Generator = f.generator
	opts.Detector = f.detector
	opts.Labels = []string{"object", "person"}

	r, err := New(opts)
	require.NoError(t, err)
	f.resolver = r
	return f
}

func TestResolveBlueSquare(t *testing.T) {
	f := newFixture(t, [][4]float64{{10, 10, 30, 30}}, blueFilter, "There is one blue object.")

	res, err := f.resolver.Resolve(context.Background(), blueSquareImage(), "find the blue object")
	require.NoError(t, err)

	assert.Equal(t, StatusOK, res.Status)
	assert.Equal(t, "object", res.Label)
	assert.InDelta(t, 1.0, res.Similarity, 1e-9)
	assert.Equal(t, []string{"object."}, f.detector.labels)

	require.Equal(t, 1, res.Dataset.Len())
	assert.Equal(t, types.ColorBlue, res.Dataset.Rows[0].ColorCategory)
	assert.Equal(t, 1, res.Matched())
	assert.Equal(t, types.Point{X: 10, Y: 10}, res.Filter.Filtered.Rows[0].Corners[0])

	red := DefaultOptions().Render.OutlineColor
	assert.Equal(t, red, nrgbaAt(res.Images.Highlighted, 10, 10))
	assert.Equal(t, red, nrgbaAt(res.Images.Highlighted, 20, 10))
	assert.Equal(t, blue, nrgbaAt(res.Images.Extracted, 20, 20))

	decoded, err := png.Decode(bytes.NewReader(res.HighlightedPNG))
	require.NoError(t, err)
	assert.Equal(t, red, nrgbaAt(decoded, 20, 10))
	assert.NotEmpty(t, res.ExtractedPNG)

	assert.Equal(t, "There is one blue object.", res.Explanation)
	require.Len(t, f.generator.calls, 2)
	explainPrompt := f.generator.calls[1][0].Content
	assert.True(t, strings.HasPrefix(explainPrompt, "The user asked: 'find the blue object'."))
	assert.Contains(t, explainPrompt, res.Output)
	assert.Contains(t, Describe(res), "1 of 1 object regions matched")
}

func TestResolveNoRegionsSkipsCompiler(t *testing.T) {
	f := newFixture(t, nil)

	res, err := f.resolver.Resolve(context.Background(), blueSquareImage(), "find the blue object")
	require.NoError(t, err)

	assert.Equal(t, StatusNoMatch, res.Status)
	assert.Equal(t, NoticeNoRegions, res.Notice)
	assert.Equal(t, 0, res.Dataset.Len())
	assert.Nil(t, res.Filter)
	assert.Nil(t, res.Images)
	assert.Empty(t, res.HighlightedPNG)
	assert.Empty(t, f.generator.calls)
}

func TestResolveOversizedRegionIsDropped(t *testing.T) {
	f := newFixture(t, [][4]float64{{0, 0, 95, 95}})

	res, err := f.resolver.Resolve(context.Background(), blueSquareImage(), "find the blue object")
	require.NoError(t, err)
	assert.Equal(t, StatusNoMatch, res.Status)
	assert.Empty(t, res.Regions)
	assert.Empty(t, f.generator.calls)
}

func TestResolveFilterMatchesNothing(t *testing.T) {
	redFilter := `{"filtered_data": {"where": {"column": "color_category", "op": "eq", "value": "red"}}, "output_variable": {"op": "count"}}`
	f := newFixture(t, [][4]float64{{10, 10, 30, 30}}, redFilter)

	res, err := f.resolver.Resolve(context.Background(), blueSquareImage(), "how many red objects")
	require.NoError(t, err)

	assert.Equal(t, StatusNoMatch, res.Status)
	assert.Equal(t, NoticeNoMatch, res.Notice)
	assert.Equal(t, "0", res.Output)
	assert.Nil(t, res.Images)
	// the explainer is not consulted
	assert.Len(t, f.generator.calls, 1)
}

func TestResolveMalformedProgram(t *testing.T) {
	for name, reply := range map[string]string{
		"syntax":         `{"filtered_data": {"where": `,
		"missing result": `{"filtered_data": {"where": null}}`,
		"code":           "import os\nos.remove('/')",
	} {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, [][4]float64{{10, 10, 30, 30}}, reply, "unused")

			res, err := f.resolver.Resolve(context.Background(), blueSquareImage(), "find the blue object")
			assert.Nil(t, res)
			require.Error(t, err)
			assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeGeneration))
			assert.Equal(t, 422, apperrors.GetStatusCode(err))
			assert.Len(t, f.generator.calls, 1)
		})
	}
}

func TestResolveFailures(t *testing.T) {
	t.Run("routing", func(t *testing.T) {
		f := newFixture(t, nil)
		f.embedder.err = errors.New("embedding service down")
		_, err := f.resolver.Resolve(context.Background(), blueSquareImage(), "q")
		assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeRouting))
		assert.Empty(t, f.detector.labels)
	})

	t.Run("detection", func(t *testing.T) {
		f := newFixture(t, nil)
		f.detector.err = errors.New("cuda out of memory")
		_, err := f.resolver.Resolve(context.Background(), blueSquareImage(), "q")
		assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeDetection))
		assert.ErrorContains(t, err, "cuda out of memory")
	})

	t.Run("generation", func(t *testing.T) {
		f := newFixture(t, [][4]float64{{10, 10, 30, 30}})
		f.generator.errs = []error{errors.New("rate limited")}
		_, err := f.resolver.Resolve(context.Background(), blueSquareImage(), "q")
		assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeGeneration))
	})

	t.Run("explanation", func(t *testing.T) {
		f := newFixture(t, [][4]float64{{10, 10, 30, 30}}, blueFilter)
		f.generator.errs = []error{nil, errors.New("timeout")}
		res, err := f.resolver.Resolve(context.Background(), blueSquareImage(), "find the blue object")
		assert.Nil(t, res)
		assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeGeneration))
	})

	t.Run("empty query", func(t *testing.T) {
		f := newFixture(t, nil)
		_, err := f.resolver.Resolve(context.Background(), blueSquareImage(), "   ")
		assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))
		assert.Zero(t, f.embedder.calls)
	})

	t.Run("tiny image", func(t *testing.T) {
		f := newFixture(t, nil)
		_, err := f.resolver.Resolve(context.Background(), image.NewNRGBA(image.Rect(0, 0, 8, 8)), "q")
		assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))
	})
}

func TestResolveBytes(t *testing.T) {
	f := newFixture(t, [][4]float64{{10, 10, 30, 30}}, blueFilter, "ok")

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, blueSquareImage()))

	res, err := f.resolver.ResolveBytes(context.Background(), buf.Bytes(), "find the blue object")
	require.NoError(t, err)
	assert.Equal(t, StatusOK, res.Status)

	_, err = f.resolver.ResolveBytes(context.Background(), []byte("not an image"), "q")
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))
}

func TestNewValidation(t *testing.T) {
	base := func() Options {
		o := DefaultOptions()
		o.Embedder = &keywordEmbedder{}
		o.Generator = &scriptedGenerator{}
		o.Detector = &stubDetector{}
		o.Labels = []string{"car"}
		return o
	}

	tests := map[string]func(*Options){
		"no labels":     func(o *Options) { o.Labels = nil },
		"blank label":   func(o *Options) { o.Labels = []string{"car", " "} },
		"no embedder":   func(o *Options) { o.Embedder = nil },
		"bad threshold": func(o *Options) { o.Detection.BoxThreshold = 2 },
		"bad colours":   func(o *Options) { o.Color.MinBlueRatio = 3 },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			o := base()
			mutate(&o)
			_, err := New(o)
			assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeConfiguration))
		})
	}

	// zero component configs are filled in
	o := base()
	o.Detection, o.Compiler = DefaultOptions().Detection, DefaultOptions().Compiler
	o.Color.Bins = nil
	r, err := New(o)
	require.NoError(t, err)
	assert.Equal(t, []string{"car"}, r.Labels())
}

func TestCloseSharedBackendOnce(t *testing.T) {
	emb := &keywordEmbedder{}
	opts := Options{Embedder: emb, Generator: &scriptedGenerator{}, Detector: &stubDetector{}, Labels: []string{"car"}}
	r, err := New(opts)
	require.NoError(t, err)

	require.NoError(t, r.Close())
	require.NoError(t, r.Close())
	assert.Equal(t, 1, emb.closed)
}

func TestDrawDetections(t *testing.T) {
	f := newFixture(t, [][4]float64{{10, 10, 30, 30}}, blueFilter, "ok")
	res, err := f.resolver.Resolve(context.Background(), blueSquareImage(), "find the blue object")
	require.NoError(t, err)

	overlay := f.resolver.DrawDetections(blueSquareImage(), res)
	assert.Equal(t, DefaultOptions().Render.DetectionColor, nrgbaAt(overlay, 20, 10))
}

func TestDescribeNoMatch(t *testing.T) {
	res := &Result{Status: StatusNoMatch, Notice: NoticeNoRegions, Label: "car", Dataset: dataset.New(nil, 10, 10)}
	assert.True(t, strings.HasPrefix(Describe(res), NoticeNoRegions))
}
