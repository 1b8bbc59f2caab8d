// Package router maps a free-text query onto one label of a fixed option list
// by cosine similarity of sentence embeddings.
package router

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/D0men1c0/LauzHack/pkg/client"
	"github.com/D0men1c0/LauzHack/pkg/types"
)

// ErrNoOptions is returned when the router has nothing to choose from
var ErrNoOptions = errors.New("router: option list is empty")

// Router selects the closest candidate label for a query
type Router struct {
	embedder client.Embedder
	options  []string
}

// New creates a router over a fixed, ordered option list
func New(embedder client.Embedder, options []string) *Router {
	opts := make([]string, len(options))
	copy(opts, options)
	return &Router{embedder: embedder, options: opts}
}

// Options returns a copy of the candidate labels
func (r *Router) Options() []string {
	out := make([]string, len(r.options))
	copy(out, r.options)
	return out
}

// Route embeds the query together with every option in one call and returns
// the option with the highest cosine similarity. Earlier options win ties.
func (r *Router) Route(ctx context.Context, query string) (types.Route, error) {
	if len(r.options) == 0 {
		return types.Route{}, ErrNoOptions
	}

	texts := make([]string, 0, len(r.options)+1)
	texts = append(texts, query)
	texts = append(texts, r.options...)

	vectors, err := r.embedder.Encode(ctx, texts)
	if err != nil {
		return types.Route{}, fmt.Errorf("failed to embed query: %w", err)
	}
	if len(vectors) != len(texts) {
		return types.Route{}, fmt.Errorf("embedder returned %d vectors for %d inputs", len(vectors), len(texts))
	}

	q := vectors[0]
	route := types.Route{Similarity: math.Inf(-1), Scores: make(map[string]float64, len(r.options))}
	for i, opt := range r.options {
		v := vectors[i+1]
		if len(v) != len(q) {
			return types.Route{}, fmt.Errorf("embedding dimension mismatch: query %d, %q %d", len(q), opt, len(v))
		}
		score := Cosine(q, v)
		route.Scores[opt] = score
		if score > route.Similarity {
			route.Label = opt
			route.Similarity = score
		}
	}
	return route, nil
}

// Cosine returns the cosine similarity of a and b, 0 when either has zero norm
func Cosine(a, b []float64) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
