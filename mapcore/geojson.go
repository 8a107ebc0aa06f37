package mapcore

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/project"
)

// ParseGeoJSON reads a FeatureCollection (or a bare Feature) into raw
// records. Features are decoded one at a time: a feature that does not
// decode becomes an invalid record and the rest of the collection still
// loads. Properties keep their source order.
func ParseGeoJSON(data []byte) ([]RawRecord, error) {
	var doc struct {
		Type     string            `json:"type"`
		Features []json.RawMessage `json:"features"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing GeoJSON: %w", err)
	}

	var raws []json.RawMessage
	switch doc.Type {
	case "FeatureCollection":
		raws = doc.Features
	case "Feature":
		raws = []json.RawMessage{data}
	default:
		return nil, fmt.Errorf("parsing GeoJSON: unsupported type %q", doc.Type)
	}

	records := make([]RawRecord, 0, len(raws))
	for _, raw := range raws {
		rec, err := geoJSONRecord(raw)
		if err != nil {
			if doc.Type == "Feature" {
				return nil, fmt.Errorf("parsing GeoJSON: %w", err)
			}
			rec = RawRecord{Invalid: err.Error()}
		}
		records = append(records, rec)
	}
	return records, nil
}

func geoJSONRecord(raw json.RawMessage) (RawRecord, error) {
	if string(bytes.TrimSpace(raw)) == "null" {
		return RawRecord{}, nil
	}
	f, err := geojson.UnmarshalFeature(raw)
	if err != nil {
		return RawRecord{}, err
	}

	rec := RawRecord{Geometry: f.Geometry}
	if f.ID != nil {
		rec.ID = fmt.Sprint(f.ID)
	}

	var body struct {
		Properties json.RawMessage `json:"properties"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return RawRecord{}, err
	}
	keys, err := objectKeys(body.Properties)
	if err != nil {
		return RawRecord{}, err
	}
	for _, k := range keys {
		v := f.Properties[k]
		if v == nil {
			continue
		}
		rec.Properties = append(rec.Properties, Attribute{Name: k, Value: fmt.Sprint(v)})
	}
	return rec, nil
}

// objectKeys returns the keys of a JSON object in document order, each
// once. null or absent yields no keys.
func objectKeys(obj json.RawMessage) ([]string, error) {
	if len(bytes.TrimSpace(obj)) == 0 || string(bytes.TrimSpace(obj)) == "null" {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(obj))
	if tok, err := dec.Token(); err != nil {
		return nil, err
	} else if tok != json.Delim('{') {
		return nil, fmt.Errorf("properties is not an object")
	}

	var keys []string
	seen := map[string]bool{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		k, _ := tok.(string)
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return nil, err
		}
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	return keys, nil
}

// FeaturesToGeoJSON exports features as a WGS84 FeatureCollection
func FeaturesToGeoJSON(features []*Feature) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, f := range features {
		gf := geojson.NewFeature(toWGS84(f.Coord))
		gf.ID = f.ID
		gf.Properties["name"] = f.Name
		gf.Properties["status"] = string(f.Status)
		if f.SourceURL != "" {
			gf.Properties["link"] = f.SourceURL
		}
		for _, a := range f.Attributes {
			if _, taken := gf.Properties[a.Name]; !taken {
				gf.Properties[a.Name] = a.Value
			}
		}
		fc.Append(gf)
	}
	return fc
}

// ClustersToGeoJSON exports one point per marker at its cluster centroid.
// Singletons carry their feature's properties; every point carries
// cluster, cluster_id, point_count and the resolved style.
func ClustersToGeoJSON(markers []*Marker) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, m := range markers {
		c := m.Cluster
		gf := geojson.NewFeature(toWGS84(c.Centroid))
		gf.ID = c.ID
		gf.Properties["cluster"] = !c.IsSingleton()
		gf.Properties["cluster_id"] = c.ID
		gf.Properties["point_count"] = c.Size()
		gf.Properties["label"] = m.Label

		if c.IsSingleton() {
			f := c.Members[0]
			gf.Properties["feature_id"] = f.ID
			gf.Properties["name"] = f.Name
			gf.Properties["status"] = string(f.Status)
		}

		if m.Style != nil {
			gf.Properties["radius"] = m.Style.Radius
			gf.Properties["fill"] = m.Style.FillColor
			gf.Properties["stroke"] = m.Style.StrokeColor
		}
		fc.Append(gf)
	}
	return fc
}

func toWGS84(p orb.Point) orb.Point {
	return project.Point(p, project.Mercator.ToWGS84)
}
