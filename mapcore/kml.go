package mapcore

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"golang.org/x/net/html/charset"
)

type kmlPlacemark struct {
	ID           string          `xml:"id,attr"`
	Name         string          `xml:"name"`
	Description  string          `xml:"description"`
	ExtendedData kmlExtendedData `xml:"ExtendedData"`
	Point        *kmlPoint       `xml:"Point"`
	Multi        *kmlMulti       `xml:"MultiGeometry"`
	LineString   *struct{}       `xml:"LineString"`
	Polygon      *struct{}       `xml:"Polygon"`
}

type kmlExtendedData struct {
	Data []struct {
		Name  string `xml:"name,attr"`
		Value string `xml:"value"`
	} `xml:"Data"`
	SchemaData []struct {
		SimpleData []struct {
			Name  string `xml:"name,attr"`
			Value string `xml:",chardata"`
		} `xml:"SimpleData"`
	} `xml:"SchemaData"`
}

type kmlPoint struct {
	Coordinates string `xml:"coordinates"`
}

type kmlMulti struct {
	Points []kmlPoint `xml:"Point"`
}

// ParseKML extracts every Placemark from a KML document, at any depth of
// Document/Folder nesting.
func ParseKML(data []byte) ([]RawRecord, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.CharsetReader = charset.NewReaderLabel

	var records []RawRecord
	sawRoot := false

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parsing KML: %w", err)
		}

		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		if start.Name.Local == "kml" {
			sawRoot = true
			continue
		}
		if start.Name.Local != "Placemark" {
			continue
		}

		var pm kmlPlacemark
		if err := dec.DecodeElement(&pm, &start); err != nil {
			return nil, fmt.Errorf("parsing KML placemark %d: %w", len(records), err)
		}
		records = append(records, pm.record())
	}

	if !sawRoot {
		return nil, fmt.Errorf("parsing KML: no <kml> root element")
	}
	return records, nil
}

func (pm *kmlPlacemark) record() RawRecord {
	rec := RawRecord{ID: strings.TrimSpace(pm.ID)}

	if name := strings.TrimSpace(pm.Name); name != "" {
		rec.Properties = append(rec.Properties, Attribute{Name: "name", Value: name})
	}
	if desc := strings.TrimSpace(pm.Description); desc != "" {
		rec.Properties = append(rec.Properties, Attribute{Name: "description", Value: desc})
	}
	for _, d := range pm.ExtendedData.Data {
		rec.Properties = append(rec.Properties, Attribute{Name: d.Name, Value: strings.TrimSpace(d.Value)})
	}
	for _, sd := range pm.ExtendedData.SchemaData {
		for _, s := range sd.SimpleData {
			rec.Properties = append(rec.Properties, Attribute{Name: s.Name, Value: strings.TrimSpace(s.Value)})
		}
	}

	switch {
	case pm.Point != nil:
		if pt, ok := parseKMLCoordinates(pm.Point.Coordinates); ok {
			rec.Geometry = pt
		}
	case pm.Multi != nil && len(pm.Multi.Points) == 1:
		if pt, ok := parseKMLCoordinates(pm.Multi.Points[0].Coordinates); ok {
			rec.Geometry = pt
		}
	case pm.Multi != nil:
		rec.Geometry = orb.MultiPoint{}
	case pm.LineString != nil:
		rec.Geometry = orb.LineString{}
	case pm.Polygon != nil:
		rec.Geometry = orb.Polygon{}
	}

	return rec
}

// parseKMLCoordinates parses a single "lon,lat[,alt]" tuple
func parseKMLCoordinates(raw string) (orb.Point, bool) {
	fields := strings.Fields(raw)
	if len(fields) != 1 {
		return orb.Point{}, false
	}
	parts := strings.Split(fields[0], ",")
	if len(parts) < 2 {
		return orb.Point{}, false
	}
	lon, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return orb.Point{}, false
	}
	lat, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return orb.Point{}, false
	}
	return orb.Point{lon, lat}, true
}
