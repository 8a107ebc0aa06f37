package mapcore

import (
	"fmt"
	"math"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
)

const (
	ProjectionWGS84    = "EPSG:4326"
	ProjectionMercator = "EPSG:3857"

	// maxMercatorLat is the latitude limit of the spherical mercator square
	maxMercatorLat = 85.05112878
)

var (
	nameKeys   = []string{"name", "nome", "comune", "title"}
	statusKeys = []string{"status", "stato"}
	linkKeys   = []string{"link", "url", "href", "source", "fonte"}
)

// featureNamespace seeds deterministic ids for records without one
var featureNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/kwv/comunimap/feature"))

// RawRecord is a loosely typed point record produced by a decoder.
// Properties keep their source order.
type RawRecord struct {
	ID         string
	Geometry   orb.Geometry
	Properties []Attribute

	// Invalid is set when the loader could not decode the record at all
	Invalid string
}

// Property returns the first property matching any of the keys
// (case-insensitive) with a non-blank value.
func (r RawRecord) Property(keys ...string) (string, bool) {
	for _, k := range keys {
		for _, p := range r.Properties {
			if strings.EqualFold(p.Name, k) && strings.TrimSpace(p.Value) != "" {
				return strings.TrimSpace(p.Value), true
			}
		}
	}
	return "", false
}

// ConvertOptions controls record conversion
type ConvertOptions struct {
	DataProjection string
}

// ConvertRecords converts raw records into features. Records that do not
// satisfy the schema are returned as MalformedFeatureError values and
// skipped; conversion of the remaining records continues.
func ConvertRecords(records []RawRecord, opts ConvertOptions) ([]*Feature, []error) {
	features := make([]*Feature, 0, len(records))
	var dropped []error
	seen := make(map[string]int, len(records))

	for i, rec := range records {
		f, err := ToFeature(i, rec, opts)
		if err != nil {
			dropped = append(dropped, err)
			continue
		}
		if n, dup := seen[f.ID]; dup {
			seen[f.ID] = n + 1
			f.ID = fmt.Sprintf("%s-%d", f.ID, n+1)
		} else {
			seen[f.ID] = 0
		}
		features = append(features, f)
	}

	return features, dropped
}

// ToFeature converts one raw record. index is used only for error reporting.
func ToFeature(index int, rec RawRecord, opts ConvertOptions) (*Feature, error) {
	if rec.Invalid != "" {
		return nil, &MalformedFeatureError{Index: index, Reason: rec.Invalid}
	}
	pt, ok := rec.Geometry.(orb.Point)
	if !ok {
		if rec.Geometry == nil {
			return nil, &MalformedFeatureError{Index: index, Reason: "missing point geometry"}
		}
		return nil, &MalformedFeatureError{Index: index, Reason: fmt.Sprintf("unsupported geometry %s", rec.Geometry.GeoJSONType())}
	}

	coord, err := projectPoint(pt, opts.DataProjection)
	if err != nil {
		return nil, &MalformedFeatureError{Index: index, Reason: err.Error()}
	}

	name, _ := rec.Property(nameKeys...)
	rawStatus, _ := rec.Property(statusKeys...)
	link, _ := rec.Property(linkKeys...)

	f := &Feature{
		ID:        strings.TrimSpace(rec.ID),
		Coord:     coord,
		Name:      name,
		Status:    ParseStatus(rawStatus),
		SourceURL: sanitizeLink(link),
	}

	consumed := map[string]bool{}
	for _, keys := range [][]string{nameKeys, statusKeys, linkKeys} {
		for _, k := range keys {
			consumed[k] = true
		}
	}
	for _, p := range rec.Properties {
		if consumed[strings.ToLower(p.Name)] {
			continue
		}
		f.Attributes = append(f.Attributes, p)
	}

	if f.ID == "" {
		seed := fmt.Sprintf("%s|%.3f|%.3f", f.Name, coord[0], coord[1])
		f.ID = uuid.NewSHA1(featureNamespace, []byte(seed)).String()
	}

	return f, nil
}

// projectPoint converts a source coordinate to EPSG:3857
func projectPoint(pt orb.Point, dataProjection string) (orb.Point, error) {
	if !finite(pt[0]) || !finite(pt[1]) {
		return orb.Point{}, fmt.Errorf("non-finite coordinate")
	}

	switch strings.ToUpper(strings.TrimSpace(dataProjection)) {
	case "", ProjectionWGS84, "WGS84", "CRS:84":
		if pt[0] < -180 || pt[0] > 180 || pt[1] < -90 || pt[1] > 90 {
			return orb.Point{}, fmt.Errorf("coordinate (%g, %g) outside lon/lat range", pt[0], pt[1])
		}
		if math.Abs(pt[1]) > maxMercatorLat {
			return orb.Point{}, fmt.Errorf("latitude %g outside mercator range", pt[1])
		}
		return project.Point(pt, project.WGS84.ToMercator), nil
	case ProjectionMercator, "EPSG:900913", "EPSG:102100":
		return pt, nil
	default:
		return orb.Point{}, fmt.Errorf("unsupported data projection %q", dataProjection)
	}
}

// sanitizeLink keeps only absolute http(s) links
func sanitizeLink(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ""
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	return u.String()
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
