// Package reid resolves short-lived tracker IDs to persistent global
// person identities by cosine-matching appearance embeddings against a
// per-identity gallery of running-average vectors.
package reid

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// DefaultThreshold is the cosine similarity at or above which an
// incoming embedding is considered the same person as a gallery entry.
const DefaultThreshold = 0.62

// galleryAlpha is the EMA weight kept from the existing gallery vector
// on each blend. 0.8/0.2 stabilises the representative vector against
// pose and lighting noise while staying responsive to drift.
const galleryAlpha = 0.8

// Resolver owns the track→identity cache (valid within one run) and the
// identity→gallery map (persistent for the run). Single-writer: only the
// pipeline worker calls into it, so it carries no locking.
type Resolver struct {
	threshold float64

	nextID      int
	trackToID   map[int]int
	gallery     map[int][]float64
	identityIDs []int // ascending, for deterministic arg-max scans
}

// NewResolver creates a resolver with the given similarity threshold.
func NewResolver(threshold float64) *Resolver {
	return &Resolver{
		threshold: threshold,
		nextID:    1,
		trackToID: make(map[int]int),
		gallery:   make(map[int][]float64),
	}
}

// SetThreshold updates the similarity threshold between frames.
func (r *Resolver) SetThreshold(threshold float64) { r.threshold = threshold }

// IdentityCount returns the number of identities created this run.
func (r *Resolver) IdentityCount() int { return len(r.gallery) }

// AssignIdentity resolves a track to a global person ID.
//
// A track seen before keeps its identity and blends the fresh embedding
// into the gallery. A new track is matched against every gallery vector
// by cosine similarity; the best match at or above the threshold binds
// the track to that identity, anything else mints a new one. Never
// fails: a zero or zero-length embedding has similarity 0 against every
// gallery entry and therefore produces a new identity.
func (r *Resolver) AssignIdentity(trackID int, embedding []float32) int {
	if id, ok := r.trackToID[trackID]; ok {
		r.blend(id, embedding)
		return id
	}

	emb := normalize(toFloat64(embedding))

	if len(r.gallery) > 0 {
		bestID := 0
		bestSim := math.Inf(-1)
		for _, id := range r.identityIDs {
			if sim := cosine(emb, r.gallery[id]); sim > bestSim {
				bestSim = sim
				bestID = id
			}
		}
		if bestID != 0 && bestSim >= r.threshold {
			r.trackToID[trackID] = bestID
			r.blendNormalized(bestID, emb)
			return bestID
		}
	}

	id := r.createIdentity(emb)
	r.trackToID[trackID] = id
	return id
}

// ForgetTracks drops expired tracks from the track→identity cache. The
// identities and gallery vectors themselves are permanent for the run;
// a person who reappears under a new track ID is re-matched through the
// gallery.
func (r *Resolver) ForgetTracks(trackIDs []int) {
	for _, id := range trackIDs {
		delete(r.trackToID, id)
	}
}

func (r *Resolver) createIdentity(normalized []float64) int {
	id := r.nextID
	r.nextID++
	r.gallery[id] = normalized
	r.identityIDs = append(r.identityIDs, id)
	sort.Ints(r.identityIDs)
	return id
}

func (r *Resolver) blend(id int, embedding []float32) {
	r.blendNormalized(id, normalize(toFloat64(embedding)))
}

// blendNormalized folds a unit-normalised sample into the identity's
// gallery vector: gallery = normalize(0.8*gallery + 0.2*sample).
// Mismatched dimensions (the coasting-track sentinel) leave the gallery
// untouched.
func (r *Resolver) blendNormalized(id int, sample []float64) {
	g, ok := r.gallery[id]
	if !ok || len(g) != len(sample) || len(sample) == 0 {
		return
	}
	blended := make([]float64, len(g))
	floats.AddScaledTo(blended, scaled(g, galleryAlpha), 1-galleryAlpha, sample)
	r.gallery[id] = normalize(blended)
}

// cosine returns the dot product of two unit vectors, or 0 when the
// dimensions differ or either vector is empty.
func cosine(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	return floats.Dot(a, b)
}

// normalize returns v scaled to unit length, or v unchanged when its
// norm is zero (the unmatchable sentinel).
func normalize(v []float64) []float64 {
	n := floats.Norm(v, 2)
	if n == 0 {
		return v
	}
	out := make([]float64, len(v))
	floats.ScaleTo(out, 1/n, v)
	return out
}

func scaled(v []float64, s float64) []float64 {
	out := make([]float64, len(v))
	floats.ScaleTo(out, s, v)
	return out
}

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}
