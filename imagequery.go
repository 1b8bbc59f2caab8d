// Package imagequery answers free-text questions about the objects in a single image.
//
// A query is resolved in a fixed sequence of steps:
//
//  1. Router (pkg/router) picks the closest configured label using text embeddings
//  2. Detection (pkg/detection) asks an external detector for boxes of that label
//  3. Dataset (pkg/dataset) turns every box into a feature row with geometry and colour
//  4. Query (pkg/query) has a language model write a filter program, validates it and runs it
//  5. Render (pkg/render) outlines and extracts the matched regions
//  6. Explain (pkg/explain) summarises the outcome in plain language
//
// Basic usage:
//
//	resolver, err := imagequery.New(imagequery.Options{
//		Embedder:  embedder,
//		Generator: generator,
//		Detector:  detector,
//		Labels:    []string{"car", "person", "boat"},
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer resolver.Close()
//
//	result, err := resolver.Resolve(ctx, img, "find the blue cars")
//	if err != nil {
//		log.Fatal(err)
//	}
//	if result.Status == imagequery.StatusNoMatch {
//		fmt.Println(result.Notice)
//		return
//	}
//	fmt.Println(result.Explanation)
//
// Every collaborator is injected, so one Resolver can be shared by concurrent
// callers as long as the collaborators are safe for concurrent use. The model's
// filter program is interpreted against a fixed grammar and is never executed
// as code.
package imagequery

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"strings"
	"time"

	apperrors "github.com/D0men1c0/LauzHack/internal/errors"
	"github.com/D0men1c0/LauzHack/internal/logger"
	"github.com/D0men1c0/LauzHack/pkg/analyzer"
	"github.com/D0men1c0/LauzHack/pkg/client"
	"github.com/D0men1c0/LauzHack/pkg/dataset"
	"github.com/D0men1c0/LauzHack/pkg/detection"
	"github.com/D0men1c0/LauzHack/pkg/explain"
	"github.com/D0men1c0/LauzHack/pkg/processing"
	"github.com/D0men1c0/LauzHack/pkg/query"
	"github.com/D0men1c0/LauzHack/pkg/render"
	"github.com/D0men1c0/LauzHack/pkg/router"
	"github.com/D0men1c0/LauzHack/pkg/types"
	"github.com/D0men1c0/LauzHack/pkg/vision"
	"github.com/sirupsen/logrus"
)

// Version of the image query library
const Version = "1.0.0"

// Status tells a successful answer apart from an empty one
type Status string

const (
	// StatusOK means at least one region matched and both images were rendered
	StatusOK Status = "ok"
	// StatusNoMatch means nothing matched; no images are produced
	StatusNoMatch Status = "no_match"
)

// Notices attached to StatusNoMatch results
const (
	NoticeNoRegions = "no objects of the requested kind were found in the image"
	NoticeNoMatch   = "no object in the image matches the query"
)

// Options wires a Resolver. Zero-valued component configs fall back to their defaults.
type Options struct {
	Embedder  client.Embedder
	Generator client.TextGenerator
	Detector  client.RegionDetector
	// Labels is the ordered candidate list; earlier labels win routing ties
	Labels []string

	Detection detection.Config
	Color     vision.ColorConfig
	Compiler  query.Config
	Explain   explain.Config
	Render    render.Config
	Analyzer  analyzer.Config
}

// DefaultOptions returns options with every component config at its default
func DefaultOptions() Options {
	return Options{
		Detection: detection.DefaultConfig(),
		Color:     vision.DefaultColorConfig(),
		Compiler:  query.DefaultConfig(),
		Explain:   explain.DefaultConfig(),
		Render:    render.DefaultConfig(),
		Analyzer:  analyzer.DefaultConfig(),
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Detection == (detection.Config{}) {
		o.Detection = d.Detection
	}
	if len(o.Color.Bins) == 0 {
		o.Color = d.Color
	}
	if o.Compiler == (query.Config{}) {
		o.Compiler = d.Compiler
	}
	if o.Explain == (explain.Config{}) {
		o.Explain = d.Explain
	}
	if o.Render == (render.Config{}) {
		o.Render = d.Render
	}
	if o.Analyzer.MinImageSize == 0 && o.Analyzer.MaxImageSize == 0 {
		o.Analyzer = d.Analyzer
	}
	return o
}

// Resolver runs the query pipeline. Build it once and reuse it.
type Resolver struct {
	router    *router.Router
	detector  *detection.Detector
	builder   *dataset.Builder
	compiler  *query.Compiler
	renderer  *render.Renderer
	explainer *explain.Explainer
	analyzer  *analyzer.ImageAnalyzer

	closers []io.Closer
}

// Result is the outcome of one query. On StatusNoMatch only Label, Similarity,
// Notice, Regions, Dataset and possibly Filter and Output are set.
type Result struct {
	Status Status `json:"status"`
	Notice string `json:"notice,omitempty"`

	Label      string             `json:"label"`
	Similarity float64            `json:"similarity"`
	Scores     map[string]float64 `json:"scores,omitempty"`

	// Regions are the detections that survived the size filter
	Regions []types.Region   `json:"regions"`
	Dataset *dataset.Dataset `json:"-"`
	// Filter is nil when the compiler was never called
	Filter *query.Result `json:"-"`
	// Output is the aggregate or filtered table as shown to the explainer
	Output      string `json:"output,omitempty"`
	Explanation string `json:"explanation,omitempty"`

	Images         *render.Output `json:"-"`
	HighlightedPNG []byte         `json:"-"`
	ExtractedPNG   []byte         `json:"-"`

	Duration time.Duration `json:"duration"`
}

// Matched returns the number of rows the filter kept
func (r *Result) Matched() int {
	if r.Filter == nil || r.Filter.Filtered == nil {
		return 0
	}
	return r.Filter.Filtered.Len()
}

// New validates the options and builds a Resolver
func New(opts Options) (*Resolver, error) {
	if len(opts.Labels) == 0 {
		return nil, apperrors.NewConfigurationError("no candidate labels configured", router.ErrNoOptions)
	}
	for _, l := range opts.Labels {
		if strings.TrimSpace(l) == "" {
			return nil, apperrors.NewConfigurationError("candidate labels must not be blank", nil)
		}
	}
	if opts.Embedder == nil || opts.Generator == nil || opts.Detector == nil {
		return nil, apperrors.NewConfigurationError("embedder, generator and detector are all required", nil)
	}

	opts = opts.withDefaults()
	if err := opts.Detection.Validate(); err != nil {
		return nil, apperrors.NewConfigurationError("invalid detection config", err)
	}
	if err := opts.Color.Validate(); err != nil {
		return nil, apperrors.NewConfigurationError("invalid colour config", err)
	}
	if err := opts.Compiler.Validate(); err != nil {
		return nil, apperrors.NewConfigurationError("invalid compiler config", err)
	}

	r := &Resolver{
		router:    router.New(opts.Embedder, opts.Labels),
		detector:  detection.NewDetector(opts.Detector, opts.Detection),
		builder:   dataset.NewBuilder(vision.NewWithConfig(opts.Color)),
		compiler:  query.NewCompiler(opts.Generator, opts.Compiler),
		renderer:  render.NewWithConfig(opts.Render),
		explainer: explain.New(opts.Generator, opts.Explain),
		analyzer:  analyzer.NewWithConfig(opts.Analyzer),
	}

	// shared backends are closed once
	seen := map[any]bool{}
	for _, c := range []any{opts.Embedder, opts.Generator, opts.Detector} {
		closer, ok := c.(io.Closer)
		if !ok || seen[c] {
			continue
		}
		seen[c] = true
		r.closers = append(r.closers, closer)
	}

	return r, nil
}

// Labels returns the candidate labels in routing order
func (r *Resolver) Labels() []string {
	return r.router.Options()
}

// ResolveBytes decodes an encoded image (png, jpeg, gif, webp) and resolves q against it
func (r *Resolver) ResolveBytes(ctx context.Context, data []byte, q string) (*Result, error) {
	img, format, err := processing.DecodeBytes(data)
	if err != nil {
		return nil, apperrors.NewValidationError("could not decode image", err)
	}
	if err := r.analyzer.ValidateFormat(format); err != nil {
		return nil, apperrors.NewValidationError("unsupported image format", err)
	}
	return r.Resolve(ctx, img, q)
}

// Resolve runs the whole pipeline for one image and query. It returns either a
// complete result, a StatusNoMatch result, or an *errors.AppError; never a
// partially rendered result.
func (r *Resolver) Resolve(ctx context.Context, img image.Image, q string) (*Result, error) {
	start := time.Now()
	q = strings.TrimSpace(q)
	if q == "" {
		return nil, apperrors.NewValidationError("query is empty", nil)
	}
	if err := r.analyzer.ValidateImage(img); err != nil {
		return nil, apperrors.NewValidationError("invalid image", err)
	}
	log := logger.WithField("query", q)

	route, err := r.router.Route(ctx, q)
	if err != nil {
		if errors.Is(err, router.ErrNoOptions) {
			return nil, apperrors.NewConfigurationError("no candidate labels configured", err)
		}
		return nil, apperrors.NewRoutingError("failed to route query", err)
	}
	log = log.WithField("label", route.Label)
	log.WithField("similarity", route.Similarity).Info("Query routed")

	regions, err := r.detector.Detect(ctx, img, route.Label)
	if err != nil {
		return nil, apperrors.NewDetectionError("region detection failed", err)
	}
	log.WithField("regions", len(regions)).Debug("Regions detected")

	result := &Result{
		Label:      route.Label,
		Similarity: route.Similarity,
		Scores:     route.Scores,
		Regions:    regions,
	}

	ds, err := r.builder.Build(img, regions)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to extract region features", err)
	}
	result.Dataset = ds

	if ds.Len() == 0 {
		return r.noMatch(result, NoticeNoRegions, start, log), nil
	}

	filter, err := r.compiler.Compile(ctx, ds, analyzer.InfoOf(img), q)
	if err != nil {
		log.WithError(err).Warn("Filter synthesis failed")
		return nil, apperrors.NewGenerationError("filter synthesis failed", err)
	}
	result.Filter = filter
	result.Output = filter.OutputText()
	log.WithFields(logrus.Fields{
		"rows":    ds.Len(),
		"matched": filter.Filtered.Len(),
	}).Info("Filter applied")

	if filter.Filtered.Len() == 0 {
		return r.noMatch(result, NoticeNoMatch, start, log), nil
	}

	images, err := r.renderer.Render(img, filter.Filtered)
	if err != nil {
		return nil, apperrors.NewRenderError("failed to render matches", err)
	}
	highlighted, err := processing.EncodePNG(images.Highlighted)
	if err != nil {
		return nil, apperrors.NewRenderError("failed to encode highlighted image", err)
	}
	extracted, err := processing.EncodePNG(images.Extracted)
	if err != nil {
		return nil, apperrors.NewRenderError("failed to encode extracted image", err)
	}

	explanation, err := r.explainer.Explain(ctx, q, filter)
	if err != nil {
		return nil, apperrors.NewGenerationError("explanation failed", err)
	}

	result.Status = StatusOK
	result.Images = images
	result.HighlightedPNG = highlighted
	result.ExtractedPNG = extracted
	result.Explanation = explanation
	result.Duration = time.Since(start)
	log.WithField("duration", result.Duration.String()).Info("Query resolved")
	return result, nil
}

func (r *Resolver) noMatch(result *Result, notice string, start time.Time, log *logrus.Entry) *Result {
	result.Status = StatusNoMatch
	result.Notice = notice
	result.Duration = time.Since(start)
	log.WithField("notice", notice).Info("Nothing matched")
	return result
}

// DrawDetections outlines every region of a result on a copy of img
func (r *Resolver) DrawDetections(img image.Image, result *Result) image.Image {
	return r.renderer.DrawDetections(img, result.Regions)
}

// Close releases collaborators that hold resources
func (r *Resolver) Close() error {
	var errs []error
	for _, c := range r.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}

// GetVersion returns the library version
func GetVersion() string {
	return Version
}

// Describe returns a short human-readable summary of a result
func Describe(result *Result) string {
	if result.Status == StatusNoMatch {
		return fmt.Sprintf("%s (label %q, similarity %.3f)", result.Notice, result.Label, result.Similarity)
	}
	return fmt.Sprintf("%d of %d %s regions matched (similarity %.3f)",
		result.Matched(), result.Dataset.Len(), result.Label, result.Similarity)
}
