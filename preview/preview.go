// Package preview draws a small map of the occurrences of an archive.
package preview

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"math"
	"strconv"
	"strings"

	gErrors "github.com/biodiversity-data/publishing-gateway/gateway/errors"
)

// BoundingBox is the area drawn, in decimal degrees.
type BoundingBox struct {
	MinLatitude  float64
	MaxLatitude  float64
	MinLongitude float64
	MaxLongitude float64
}

var (
	pointColor = color.NRGBA{R: 0xc4, G: 0x4d, B: 0x34, A: 0xff}
	frameColor = color.NRGBA{A: 0xff}
	gridColor  = color.NRGBA{R: 0xcc, G: 0xcc, B: 0xcc, A: 0xff}
)

const (
	gridStep    = 10.0 // Degrees.
	pointRadius = 3
)

// Renderer draws previews of a fixed area.
type Renderer struct {
	bbox  BoundingBox
	width int
}

// NewRenderer returns a renderer producing images width pixels wide. The
// height follows the aspect ratio of bbox.
func NewRenderer(bbox BoundingBox, width int) *Renderer {
	if width <= 0 {
		width = 600
	}
	return &Renderer{bbox: bbox, width: width}
}

// Render returns the base64 encoded PNG of the given latitude/longitude
// pairs. Rows with an empty value are skipped, points outside the bounding
// box are not drawn. Values that are not coordinates fail the whole render
// with BadlyFormedCoordinates.
func (r *Renderer) Render(rows [][]string) (string, error) {
	b := r.bbox
	if b.MaxLatitude <= b.MinLatitude || b.MaxLongitude <= b.MinLongitude {
		return "", gErrors.New(gErrors.BadlyFormedCoordinates, "the preview bounding box is empty")
	}
	height := int(math.Round(float64(r.width) * (b.MaxLatitude - b.MinLatitude) / (b.MaxLongitude - b.MinLongitude)))
	if height < 1 {
		height = 1
	}

	img := image.NewNRGBA(image.Rect(0, 0, r.width, height))
	project := func(lat, lon float64) (int, int) {
		x := (lon - b.MinLongitude) / (b.MaxLongitude - b.MinLongitude) * float64(r.width-1)
		y := (b.MaxLatitude - lat) / (b.MaxLatitude - b.MinLatitude) * float64(height-1)
		return int(math.Round(x)), int(math.Round(y))
	}

	for lon := math.Ceil(b.MinLongitude/gridStep) * gridStep; lon <= b.MaxLongitude; lon += gridStep {
		x, _ := project(b.MaxLatitude, lon)
		for y := 0; y < height; y++ {
			img.Set(x, y, gridColor)
		}
	}
	for lat := math.Ceil(b.MinLatitude/gridStep) * gridStep; lat <= b.MaxLatitude; lat += gridStep {
		_, y := project(lat, b.MinLongitude)
		for x := 0; x < r.width; x++ {
			img.Set(x, y, gridColor)
		}
	}
	for x := 0; x < r.width; x++ {
		img.Set(x, 0, frameColor)
		img.Set(x, height-1, frameColor)
	}
	for y := 0; y < height; y++ {
		img.Set(0, y, frameColor)
		img.Set(r.width-1, y, frameColor)
	}

	for i, row := range rows {
		if len(row) < 2 || strings.TrimSpace(row[0]) == "" || strings.TrimSpace(row[1]) == "" {
			continue
		}
		lat, lon, err := parseCoordinates(row[0], row[1])
		if err != nil {
			return "", gErrors.New(gErrors.BadlyFormedCoordinates,
				"Invalid coordinates supplied in record %d. Please check the values in the provided latitude and longitude columns.", i+1)
		}
		if lat < b.MinLatitude || lat > b.MaxLatitude || lon < b.MinLongitude || lon > b.MaxLongitude {
			continue
		}
		cx, cy := project(lat, lon)
		for dy := -pointRadius; dy <= pointRadius; dy++ {
			for dx := -pointRadius; dx <= pointRadius; dx++ {
				if dx*dx+dy*dy <= pointRadius*pointRadius {
					img.Set(cx+dx, cy+dy, pointColor)
				}
			}
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", gErrors.NewWithError(gErrors.BadlyFormedCoordinates, err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func parseCoordinates(latitude, longitude string) (float64, float64, error) {
	lat, err := strconv.ParseFloat(strings.TrimSpace(latitude), 64)
	if err != nil {
		return 0, 0, err
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(longitude), 64)
	if err != nil {
		return 0, 0, err
	}
	if math.IsNaN(lat) || math.IsNaN(lon) || lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return 0, 0, strconv.ErrRange
	}
	return lat, lon, nil
}
