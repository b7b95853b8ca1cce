// Package mapasset turns a map descriptor (a YAML metadata document plus the
// binary occupancy raster it references) into a normalized RGBA buffer ready
// for the renderer, with request de-duplication and a bounded cache in front.
package mapasset

import (
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"
)

const (
	defaultOccupiedThresh = 0.65
	defaultFreeThresh     = 0.196
)

var (
	ErrMissingImage      = errors.New("mapasset: metadata missing image reference")
	ErrInvalidResolution = errors.New("mapasset: resolution must be > 0")
	ErrInvalidOrigin     = errors.New("mapasset: origin must have exactly 3 elements")
	ErrInvalidNegate     = errors.New("mapasset: negate must be 0 or 1")
)

// Metadata is the parsed, validated map metadata document. Immutable once
// parsed; Width and Height are filled in from the raster after decoding.
type Metadata struct {
	Image          string
	Resolution     float64
	OriginX        float64
	OriginY        float64
	OriginYaw      float64
	OccupiedThresh float64
	FreeThresh     float64
	Negate         bool
	Width          int
	Height         int
}

type rawMetadata struct {
	Image          string    `yaml:"image"`
	Resolution     *float64  `yaml:"resolution"`
	Origin         []float64 `yaml:"origin"`
	OccupiedThresh *float64  `yaml:"occupied_thresh"`
	FreeThresh     *float64  `yaml:"free_thresh"`
	Negate         *int      `yaml:"negate"`
}

// ParseMetadata decodes and validates the YAML metadata document. Validation
// failures here happen before any raster bytes are fetched.
func ParseMetadata(doc []byte) (Metadata, error) {
	var raw rawMetadata
	if err := yaml.Unmarshal(doc, &raw); err != nil {
		return Metadata{}, fmt.Errorf("mapasset: malformed metadata: %w", err)
	}

	if raw.Image == "" {
		return Metadata{}, ErrMissingImage
	}
	if raw.Resolution == nil || *raw.Resolution <= 0 {
		return Metadata{}, ErrInvalidResolution
	}
	if len(raw.Origin) != 3 {
		return Metadata{}, ErrInvalidOrigin
	}

	meta := Metadata{
		Image:          raw.Image,
		Resolution:     *raw.Resolution,
		OriginX:        raw.Origin[0],
		OriginY:        raw.Origin[1],
		OriginYaw:      raw.Origin[2],
		OccupiedThresh: defaultOccupiedThresh,
		FreeThresh:     defaultFreeThresh,
	}
	if raw.OccupiedThresh != nil {
		meta.OccupiedThresh = *raw.OccupiedThresh
	}
	if raw.FreeThresh != nil {
		meta.FreeThresh = *raw.FreeThresh
	}
	if raw.Negate != nil {
		switch *raw.Negate {
		case 0:
		case 1:
			meta.Negate = true
		default:
			return Metadata{}, ErrInvalidNegate
		}
	}
	return meta, nil
}
