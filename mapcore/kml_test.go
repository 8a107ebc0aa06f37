package mapcore

import (
	"strings"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKML = `<?xml version="1.0" encoding="UTF-8"?>
<kml xmlns="http://www.opengis.net/kml/2.2">
  <Document>
    <name>Comunità</name>
    <Placemark id="roma">
      <name>Roma</name>
      <ExtendedData>
        <Data name="stato"><value>Avviata</value></Data>
        <Data name="link"><value>https://example.org/roma</value></Data>
      </ExtendedData>
      <Point><coordinates>12.4964,41.9028,0</coordinates></Point>
    </Placemark>
    <Folder>
      <Folder>
        <Placemark>
          <name>Tivoli</name>
          <ExtendedData>
            <SchemaData schemaUrl="#comuni">
              <SimpleData name="stato">Interessato</SimpleData>
              <SimpleData name="provincia">RM</SimpleData>
            </SchemaData>
          </ExtendedData>
          <MultiGeometry><Point><coordinates> 12.7967,41.9637 </coordinates></Point></MultiGeometry>
        </Placemark>
      </Folder>
      <Placemark><name>Strada</name><LineString><coordinates>1,1 2,2</coordinates></LineString></Placemark>
    </Folder>
    <Placemark><name>Due punti</name><MultiGeometry><Point><coordinates>1,1</coordinates></Point><Point><coordinates>2,2</coordinates></Point></MultiGeometry></Placemark>
    <Placemark><name>Rotto</name><Point><coordinates>abc,def</coordinates></Point></Placemark>
  </Document>
</kml>`

func TestParseKML_NestedPlacemarks(t *testing.T) {
	records, err := ParseKML([]byte(testKML))
	require.NoError(t, err)
	require.Len(t, records, 5)

	roma := records[0]
	assert.Equal(t, "roma", roma.ID)
	assert.Equal(t, orb.Point{12.4964, 41.9028}, roma.Geometry)
	status, _ := roma.Property("stato")
	assert.Equal(t, "Avviata", status)

	tivoli := records[1]
	assert.Equal(t, orb.Point{12.7967, 41.9637}, tivoli.Geometry, "single-point MultiGeometry unwraps")
	prov, ok := tivoli.Property("provincia")
	require.True(t, ok)
	assert.Equal(t, "RM", prov)

	assert.IsType(t, orb.LineString{}, records[2].Geometry)
	assert.IsType(t, orb.MultiPoint{}, records[3].Geometry)
	assert.Nil(t, records[4].Geometry, "unparseable coordinates leave no geometry")
}

func TestParseKML_Convert(t *testing.T) {
	records, err := ParseKML([]byte(testKML))
	require.NoError(t, err)

	features, dropped := ConvertRecords(records, ConvertOptions{})
	require.Len(t, features, 2)
	require.Len(t, dropped, 3)

	assert.Equal(t, "Roma", features[0].Name)
	assert.Equal(t, StatusActive, features[0].Status)
	assert.Equal(t, "https://example.org/roma", features[0].SourceURL)
	assert.Equal(t, StatusInterested, features[1].Status)

	assert.Contains(t, dropped[0].Error(), "LineString")
	assert.Contains(t, dropped[1].Error(), "MultiPoint")
	assert.Contains(t, dropped[2].Error(), "missing point geometry")
}

func TestParseKML_Charset(t *testing.T) {
	doc := "<?xml version=\"1.0\" encoding=\"ISO-8859-1\"?>\n" +
		"<kml><Placemark><name>Canal\xe8</name><Point><coordinates>7,45</coordinates></Point></Placemark></kml>"

	records, err := ParseKML([]byte(doc))
	require.NoError(t, err)
	require.Len(t, records, 1)
	name, _ := records[0].Property("name")
	assert.Equal(t, "Canalè", name)
}

func TestParseKML_Errors(t *testing.T) {
	_, err := ParseKML([]byte(`<gpx><Placemark/></gpx>`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no <kml> root")

	_, err = ParseKML([]byte(`<kml><Placemark><name>x</Placemark></kml>`))
	assert.Error(t, err)

	records, err := ParseKML([]byte(`<kml><Document/></kml>`))
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestParseKMLCoordinates(t *testing.T) {
	tests := []struct {
		raw  string
		want orb.Point
		ok   bool
	}{
		{"12.5,41.9", orb.Point{12.5, 41.9}, true},
		{"  12.5,41.9,120\n", orb.Point{12.5, 41.9}, true},
		{"12.5", orb.Point{}, false},
		{"1,1 2,2", orb.Point{}, false},
		{"x,1", orb.Point{}, false},
		{"", orb.Point{}, false},
	}
	for _, tt := range tests {
		t.Run(strings.TrimSpace(tt.raw), func(t *testing.T) {
			got, ok := parseKMLCoordinates(tt.raw)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
