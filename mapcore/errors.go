package mapcore

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyData is returned when a payload has no bytes
	ErrEmptyData = errors.New("empty data")

	// ErrUnknownFormat is returned when a payload is not KML, KMZ or GeoJSON
	ErrUnknownFormat = errors.New("unknown format: not KML, KMZ, GeoJSON, or zlib-compressed")

	// ErrNotConnected is returned when publishing without a broker connection
	ErrNotConnected = errors.New("MQTT client not connected")

	// ErrSessionClosed is returned by session calls made before Start or after Stop
	ErrSessionClosed = errors.New("session not running")
)

// LoadError reports a failed feature load. The store keeps its previous
// snapshot when a LoadError is returned.
type LoadError struct {
	Source string
	Op     string // "fetch" or "decode"
	Err    error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load %s: %s: %v", e.Source, e.Op, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// MalformedFeatureError reports a single record that does not satisfy the
// minimal feature schema. The record is dropped; the batch continues.
type MalformedFeatureError struct {
	Index  int
	Reason string
}

func (e *MalformedFeatureError) Error() string {
	return fmt.Sprintf("record %d: %s", e.Index, e.Reason)
}
