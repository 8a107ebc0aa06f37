package mapcore

import (
	"fmt"
	"log"
	"math"
	"time"

	"github.com/mmcloughlin/geohash"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/paulmach/orb/quadtree"
)

// Algorithm selects the clustering implementation
type Algorithm string

const (
	// AlgorithmGreedy scans every cluster formed so far for each feature
	AlgorithmGreedy Algorithm = "greedy"
	// AlgorithmIndexed looks up candidate clusters in a quadtree. It produces
	// the same clusters as AlgorithmGreedy.
	AlgorithmIndexed Algorithm = "indexed"
)

// DefaultPixelDistance is the merge threshold in screen pixels
const DefaultPixelDistance = 40.0

// clusterIDPrecision is the geohash length used in cluster ids
const clusterIDPrecision = 7

// ParseAlgorithm returns the algorithm for a config value; empty means greedy.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch Algorithm(s) {
	case "", AlgorithmGreedy:
		return AlgorithmGreedy, nil
	case AlgorithmIndexed:
		return AlgorithmIndexed, nil
	}
	return "", fmt.Errorf("unknown cluster algorithm %q (want greedy or indexed)", s)
}

// MergeDistance converts the pixel threshold to map units at a resolution
func MergeDistance(resolution, pixelDistance float64) float64 {
	d := pixelDistance * resolution
	if !finite(d) || d < 0 {
		return 0
	}
	return d
}

// building is a cluster under construction
type building struct {
	*Cluster
	order int
	sum   orb.Point
}

func newBuilding(order int, f *Feature) *building {
	return &building{
		Cluster: &Cluster{Centroid: f.Coord, Members: []*Feature{f}},
		order:   order,
		sum:     f.Coord,
	}
}

// add merges f and moves the centroid to the running average
func (b *building) add(f *Feature) {
	b.Members = append(b.Members, f)
	b.sum[0] += f.Coord[0]
	b.sum[1] += f.Coord[1]
	n := float64(len(b.Members))
	b.Centroid = orb.Point{b.sum[0] / n, b.sum[1] / n}
}

// ClusterFeatures groups features first-fit: each feature joins the first
// cluster, in creation order, whose centroid lies within
// pixelDistance*resolution map units, or starts a new cluster. Clusters are
// returned in the order their first member was encountered.
func ClusterFeatures(features []*Feature, resolution, pixelDistance float64) []*Cluster {
	d := MergeDistance(resolution, pixelDistance)

	var built []*building
	for _, f := range features {
		merged := false
		for _, b := range built {
			if planar.Distance(b.Centroid, f.Coord) <= d {
				b.add(f)
				merged = true
				break
			}
		}
		if !merged {
			built = append(built, newBuilding(len(built), f))
		}
	}

	return finish(built)
}

// ClusterFeaturesIndexed has the same semantics as ClusterFeatures but keeps
// the cluster centroids in a quadtree so each feature only examines nearby
// clusters.
func ClusterFeaturesIndexed(features []*Feature, resolution, pixelDistance float64) []*Cluster {
	if len(features) == 0 {
		return []*Cluster{}
	}
	d := MergeDistance(resolution, pixelDistance)

	bound := orb.Bound{Min: features[0].Coord, Max: features[0].Coord}
	for _, f := range features[1:] {
		bound = bound.Extend(f.Coord)
	}
	qt := quadtree.New(bound.Pad(1))

	var built []*building
	var buf []orb.Pointer
	for _, f := range features {
		search := orb.Bound{
			Min: orb.Point{f.Coord[0] - d, f.Coord[1] - d},
			Max: orb.Point{f.Coord[0] + d, f.Coord[1] + d},
		}
		buf = qt.InBound(buf[:0], search)

		var best *building
		for _, p := range buf {
			b := p.(*building)
			if planar.Distance(b.Centroid, f.Coord) > d {
				continue
			}
			if best == nil || b.order < best.order {
				best = b
			}
		}

		if best == nil {
			b := newBuilding(len(built), f)
			built = append(built, b)
			if err := qt.Add(b); err != nil {
				log.Printf("[CLUSTER] Warning: indexing cluster %d: %v", b.order, err)
			}
			continue
		}

		qt.Remove(best, func(p orb.Pointer) bool { return p == best })
		best.add(f)
		if err := qt.Add(best); err != nil {
			log.Printf("[CLUSTER] Warning: re-indexing cluster %d: %v", best.order, err)
		}
	}

	return finish(built)
}

// finish assigns pass-local ids and unwraps the clusters
func finish(built []*building) []*Cluster {
	out := make([]*Cluster, len(built))
	for i, b := range built {
		b.ID = clusterID(i, b.Members[0].Coord)
		out[i] = b.Cluster
	}
	return out
}

// clusterID combines the geohash of the seed feature with the pass index
func clusterID(index int, seed orb.Point) string {
	ll := toWGS84(seed)
	lon := math.Mod(ll[0]+180, 360)
	if lon < 0 {
		lon += 360
	}
	lat := math.Max(-90, math.Min(90, ll[1]))
	return fmt.Sprintf("%s.%d", geohash.EncodeWithPrecision(lat, lon-180, clusterIDPrecision), index)
}

// Engine caches the clusters of the last pass. It reclusters only when the
// resolution or the feature set version changes, or after Invalidate.
type Engine struct {
	PixelDistance float64
	Algorithm     Algorithm

	valid      bool
	resolution float64
	version    uint64
	clusters   []*Cluster
}

// NewEngine creates an engine; a non-positive pixelDistance uses the default.
func NewEngine(pixelDistance float64, algo Algorithm) *Engine {
	if pixelDistance <= 0 {
		pixelDistance = DefaultPixelDistance
	}
	if algo == "" {
		algo = AlgorithmGreedy
	}
	return &Engine{PixelDistance: pixelDistance, Algorithm: algo}
}

// Invalidate forces the next Update to recluster
func (e *Engine) Invalidate() {
	e.valid = false
}

// Clusters returns the clusters of the last pass
func (e *Engine) Clusters() []*Cluster {
	return e.clusters
}

// Update returns the clusters for the feature set at resolution and
// whether a new pass was run.
func (e *Engine) Update(set *FeatureSet, resolution float64) ([]*Cluster, bool) {
	var version uint64
	var features []*Feature
	if set != nil {
		version = set.Version
		features = set.Features
	}

	if e.valid && e.resolution == resolution && e.version == version {
		return e.clusters, false
	}

	start := time.Now()
	switch e.Algorithm {
	case AlgorithmIndexed:
		e.clusters = ClusterFeaturesIndexed(features, resolution, e.PixelDistance)
	default:
		e.clusters = ClusterFeatures(features, resolution, e.PixelDistance)
	}
	clusterPassDuration.Observe(time.Since(start).Seconds())
	clusterPasses.Inc()

	e.valid = true
	e.resolution = resolution
	e.version = version
	return e.clusters, true
}
