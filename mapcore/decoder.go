package mapcore

import (
	"archive/zip"
	"bytes"
	"compress/zlib"
	"fmt"
	"io"
	"path"
	"strings"
)

// Format names reported by DecodeFeatureData
const (
	FormatKML     = "kml"
	FormatKMZ     = "kmz"
	FormatGeoJSON = "geojson"
)

// maxArchiveEntryBytes limits a single KMZ entry to 50 MB
const maxArchiveEntryBytes = 50 << 20

// maxInflatedBytes limits zlib output; feed payloads arrive from the network
var maxInflatedBytes int64 = maxArchiveEntryBytes

// DecodeResult is the outcome of decoding one payload
type DecodeResult struct {
	Format   string
	Features []*Feature
	// Dropped holds one MalformedFeatureError per skipped record
	Dropped []error
}

// DecodeFeatureData decodes feature data from various formats:
// - KMZ (zip archive holding a .kml document)
// - KML
// - GeoJSON FeatureCollection
// - zlib-compressed KML or GeoJSON
func DecodeFeatureData(data []byte, opts ConvertOptions) (*DecodeResult, error) {
	if len(data) == 0 {
		return nil, ErrEmptyData
	}

	format, records, err := decodeRecords(data, true)
	if err != nil {
		return nil, err
	}

	features, dropped := ConvertRecords(records, opts)
	return &DecodeResult{Format: format, Features: features, Dropped: dropped}, nil
}

func decodeRecords(data []byte, allowInflate bool) (string, []RawRecord, error) {
	if IsZip(data) {
		kml, err := extractKMZ(data)
		if err != nil {
			return "", nil, fmt.Errorf("extracting KMZ: %w", err)
		}
		records, err := ParseKML(kml)
		return FormatKMZ, records, err
	}

	body := bytes.TrimLeft(bytes.TrimPrefix(data, []byte("\xef\xbb\xbf")), " \t\r\n")
	if len(body) == 0 {
		return "", nil, ErrEmptyData
	}

	switch body[0] {
	case '<':
		records, err := ParseKML(body)
		return FormatKML, records, err
	case '{':
		records, err := ParseGeoJSON(body)
		return FormatGeoJSON, records, err
	}

	if !allowInflate {
		return "", nil, ErrUnknownFormat
	}
	inflated, err := inflateZlib(data)
	if err != nil {
		return "", nil, ErrUnknownFormat
	}
	return decodeRecords(inflated, false)
}

// IsZip checks if data starts with the zip local file header magic
func IsZip(data []byte) bool {
	return len(data) >= 4 && data[0] == 'P' && data[1] == 'K' && data[2] == 0x03 && data[3] == 0x04
}

// extractKMZ returns the main KML document of a KMZ archive: doc.kml when
// present, otherwise the first .kml entry.
func extractKMZ(data []byte) ([]byte, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}

	var chosen *zip.File
	for _, f := range zr.File {
		if !strings.EqualFold(path.Ext(f.Name), ".kml") {
			continue
		}
		if strings.EqualFold(path.Base(f.Name), "doc.kml") {
			chosen = f
			break
		}
		if chosen == nil {
			chosen = f
		}
	}
	if chosen == nil {
		return nil, fmt.Errorf("no .kml entry in archive")
	}

	rc, err := chosen.Open()
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", chosen.Name, err)
	}
	defer func() { _ = rc.Close() }()

	return io.ReadAll(io.LimitReader(rc, maxArchiveEntryBytes))
}

// inflateZlib decompresses zlib-compressed data
func inflateZlib(data []byte) ([]byte, error) {
	reader, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("creating zlib reader: %w", err)
	}
	defer func() { _ = reader.Close() }()

	decompressed, err := io.ReadAll(io.LimitReader(reader, maxInflatedBytes+1))
	if err != nil {
		return nil, fmt.Errorf("decompressing zlib data: %w", err)
	}
	if int64(len(decompressed)) > maxInflatedBytes {
		return nil, fmt.Errorf("decompressing zlib data: exceeds %d bytes", maxInflatedBytes)
	}
	return decompressed, nil
}
