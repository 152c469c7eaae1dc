package ingest

import (
	"bytes"
	"image"
	"image/jpeg"
	"math/rand"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kimhsiao/arcache/internal/config"
	apperrors "github.com/kimhsiao/arcache/internal/errors"
	"github.com/kimhsiao/arcache/internal/media"
	"github.com/kimhsiao/arcache/internal/telemetry"
)

// fakeCropper returns a fixed crop result or error.
type fakeCropper struct {
	result  *media.CropResult
	err     error
	quality float64
}

func (f *fakeCropper) CropToSquare(raw []byte, q float64) (*media.CropResult, error) {
	f.quality = q
	return f.result, f.err
}

func cropOf(side int, size int, ext string) *media.CropResult {
	return &media.CropResult{
		Data:   make([]byte, size),
		Width:  side,
		Height: side,
		Format: media.Format{Ext: ext},
	}
}

func noiseJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	rng := rand.New(rand.NewSource(42))
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	rng.Read(img.Pix)
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = 255
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}))
	return buf.Bytes()
}

// =====================================================
// Verdict Tests
// =====================================================

// TestGate_acceptsRealImage verifies a detailed landscape photo is cropped and accepted.
func TestGate_acceptsRealImage(t *testing.T) {
	gate := NewGate(nil, nil, nil)

	res, err := gate.Ingest(noiseJPEG(t, 600, 400))
	require.NoError(t, err)

	assert.True(t, res.Accepted, "reason: %s", res.Reason)
	assert.Empty(t, res.Reason)
	assert.Equal(t, 400, res.Image.Width)
	assert.Equal(t, 400, res.Image.Height)
	assert.Equal(t, "jpg", res.Image.Format.Ext)
	assert.True(t, res.Quality.MeetsMinimumResolution)
	assert.GreaterOrEqual(t, res.Quality.Score, 75)
}

// TestGate_rejectsSmallImage verifies a crop below 300px is rejected with a reason.
func TestGate_rejectsSmallImage(t *testing.T) {
	gate := NewGate(nil, nil, nil)

	res, err := gate.Ingest(noiseJPEG(t, 200, 150))
	require.NoError(t, err)

	assert.False(t, res.Accepted)
	assert.Equal(t, 150, res.Image.Width)
	assert.True(t, strings.HasPrefix(res.Reason, "resolution 150x150 is below the minimum"), res.Reason)
	assert.Contains(t, res.Reason, "(score ")
}

// TestGate_scoresCroppedResult verifies the score uses the cropped bytes and format.
func TestGate_scoresCroppedResult(t *testing.T) {
	cropper := &fakeCropper{result: cropOf(3000, 10000, "png")}
	gate := NewGate(cropper, nil, nil)

	res, err := gate.Ingest([]byte("raw"))
	require.NoError(t, err)

	assert.False(t, res.Accepted)
	assert.Equal(t, 35, res.Quality.Score)
	assert.False(t, res.Quality.MeetsMinimumFileSize)
	assert.Contains(t, res.Reason, "minimum file size")
	assert.True(t, strings.HasSuffix(res.Reason, "(score 35)"), res.Reason)
}

// TestGate_minScore verifies the threshold is inclusive and overridable.
func TestGate_minScore(t *testing.T) {
	cropper := &fakeCropper{result: cropOf(1000, 600000, "jpg")} // scores 95
	gate := NewGate(cropper, nil, nil)

	res, err := gate.IngestWithMinScore([]byte("raw"), 95)
	require.NoError(t, err)
	assert.True(t, res.Accepted)

	res, err = gate.IngestWithMinScore([]byte("raw"), 96)
	require.NoError(t, err)
	assert.False(t, res.Accepted)
	assert.Equal(t, "quality score 95 is below the minimum of 96", res.Reason)
}

// TestGate_config verifies configured min score and encode quality are used.
func TestGate_config(t *testing.T) {
	cropper := &fakeCropper{result: cropOf(1000, 600000, "jpg")}
	cfg := config.Default("/data").Ingest
	cfg.MinScore = 99
	cfg.EncodeQuality = 0.7
	gate := NewGate(cropper, &cfg, nil)

	res, err := gate.Ingest([]byte("raw"))
	require.NoError(t, err)

	assert.False(t, res.Accepted)
	assert.InDelta(t, 0.7, cropper.quality, 1e-9)
}

// TestGate_resolutionAlwaysRequired verifies a zero min score still needs 300px.
func TestGate_resolutionAlwaysRequired(t *testing.T) {
	cropper := &fakeCropper{result: cropOf(299, 200000, "jpg")}
	gate := NewGate(cropper, nil, nil)

	res, err := gate.IngestWithMinScore([]byte("raw"), 0)
	require.NoError(t, err)
	assert.False(t, res.Accepted)
}

// =====================================================
// Error Tests
// =====================================================

// TestGate_propagatesCropErrors verifies decode and encode failures are returned.
func TestGate_propagatesCropErrors(t *testing.T) {
	for _, code := range []apperrors.ErrorCode{apperrors.ErrDecode, apperrors.ErrEncode} {
		cropper := &fakeCropper{err: apperrors.New(code, "boom")}
		gate := NewGate(cropper, nil, nil)

		res, err := gate.Ingest([]byte("raw"))
		assert.Nil(t, res)
		assert.True(t, apperrors.Is(err, code), "got %v", err)
	}
}

// TestGate_realDecodeError verifies garbage input yields DECODE_ERROR.
func TestGate_realDecodeError(t *testing.T) {
	gate := NewGate(nil, nil, nil)

	_, err := gate.Ingest([]byte("not an image at all"))
	assert.True(t, apperrors.Is(err, apperrors.ErrDecode))
}

// =====================================================
// Metrics Tests
// =====================================================

// TestGate_metrics verifies verdicts are counted.
func TestGate_metrics(t *testing.T) {
	m := telemetry.New()
	accept := NewGate(&fakeCropper{result: cropOf(1000, 600000, "jpg")}, nil, m)
	reject := NewGate(&fakeCropper{result: cropOf(100, 600000, "jpg")}, nil, m)

	_, err := accept.Ingest(nil)
	require.NoError(t, err)
	_, err = reject.Ingest(nil)
	require.NoError(t, err)
	_, err = reject.Ingest(nil)
	require.NoError(t, err)

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	counts := map[string]float64{}
	for _, f := range families {
		if f.GetName() != "arcache_ingest_total" {
			continue
		}
		for _, metric := range f.GetMetric() {
			counts[metric.GetLabel()[0].GetValue()] = metric.GetCounter().GetValue()
		}
	}
	assert.Equal(t, 1.0, counts["accepted"])
	assert.Equal(t, 2.0, counts["rejected"])
	n, err := testutil.GatherAndCount(m.Registry(), "arcache_ingest_score")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
