// Package ingest decides whether a candidate image may become an AR marker.
package ingest

import (
	"fmt"

	"github.com/kimhsiao/arcache/internal/config"
	"github.com/kimhsiao/arcache/internal/logging"
	"github.com/kimhsiao/arcache/internal/media"
	"github.com/kimhsiao/arcache/internal/telemetry"
)

// Cropper canonicalizes a raw image into a centered square.
type Cropper interface {
	CropToSquare(raw []byte, encodeQuality float64) (*media.CropResult, error)
}

// Result is the gate verdict. A rejection is a normal result, never an error.
type Result struct {
	Accepted bool
	Image    *media.CropResult
	Quality  media.QualityResult
	// Reason is empty when Accepted.
	Reason string
}

// Gate crops then scores candidate marker images.
type Gate struct {
	cropper       Cropper
	minScore      int
	encodeQuality float64
	metrics       *telemetry.Metrics
}

// NewGate creates a Gate. A nil cfg uses the defaults; a nil cropper uses media.Cropper.
func NewGate(cropper Cropper, cfg *config.IngestConfig, metrics *telemetry.Metrics) *Gate {
	if cropper == nil {
		cropper = media.NewCropper()
	}
	g := &Gate{
		cropper:       cropper,
		minScore:      config.DefaultMinScore,
		encodeQuality: config.DefaultEncodeQuality,
		metrics:       metrics,
	}
	if cfg != nil {
		g.minScore = cfg.MinScore
		g.encodeQuality = cfg.EncodeQuality
	}
	return g
}

// Ingest runs the gate with the configured minimum score.
func (g *Gate) Ingest(raw []byte) (*Result, error) {
	return g.IngestWithMinScore(raw, g.minScore)
}

// IngestWithMinScore crops raw to its canonical square and scores the cropped
// bytes. Decode and encode failures are returned as errors.
func (g *Gate) IngestWithMinScore(raw []byte, minScore int) (*Result, error) {
	cropped, err := g.cropper.CropToSquare(raw, g.encodeQuality)
	if err != nil {
		logging.Warn("Candidate marker image could not be cropped",
			map[string]interface{}{"error": err.Error(), "input_bytes": len(raw)})
		return nil, err
	}

	quality := media.Score(cropped.Width, cropped.Height, int64(len(cropped.Data)), cropped.Format.Ext)
	res := &Result{
		Accepted: quality.MeetsMinimumResolution && quality.Score >= minScore,
		Image:    cropped,
		Quality:  quality,
	}
	if !res.Accepted {
		res.Reason = rejectionReason(quality, minScore)
	}

	g.metrics.ObserveIngest(res.Accepted, quality.Score)
	logging.Info("Marker image evaluated",
		map[string]interface{}{
			"accepted": res.Accepted,
			"score":    quality.Score,
			"label":    string(quality.Label),
			"width":    cropped.Width,
			"bytes":    len(cropped.Data),
			"format":   cropped.Format.Ext,
		})
	return res, nil
}

func rejectionReason(q media.QualityResult, minScore int) string {
	if len(q.Recommendations) > 0 {
		return fmt.Sprintf("%s (score %d)", q.Recommendations[0], q.Score)
	}
	return fmt.Sprintf("quality score %d is below the minimum of %d", q.Score, minScore)
}
