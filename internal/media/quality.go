package media

import (
	"fmt"

	"github.com/dustin/go-humanize"
)

// Scoring thresholds.
const (
	MinDimension     = 300
	MinFileSizeBytes = 51200
	RecommendedScore = 75
	ExcellentScore   = 90
	LargeDimension   = 2000
	FileSizePenalty  = 30
	MinimumBonus     = 10
)

// Label grades a quality score.
type Label string

const (
	LabelPoor      Label = "poor"
	LabelGood      Label = "good"
	LabelExcellent Label = "excellent"
)

// LabelFor returns the label of score.
func LabelFor(score int) Label {
	switch {
	case score >= ExcellentScore:
		return LabelExcellent
	case score >= RecommendedScore:
		return LabelGood
	default:
		return LabelPoor
	}
}

// QualityResult is the verdict of Score.
type QualityResult struct {
	Score                  int
	MeetsMinimumResolution bool
	MeetsMinimumFileSize   bool
	Recommendations        []string
	Label                  Label
}

// Score rates an encoded image for use as an AR tracking target.
// It is pure: the same inputs always give the same result.
func Score(width, height int, fileSizeBytes int64, formatExt string) QualityResult {
	ext := normalizeExt(formatExt)
	res := QualityResult{
		MeetsMinimumResolution: width >= MinDimension && height >= MinDimension,
		MeetsMinimumFileSize:   fileSizeBytes >= MinFileSizeBytes,
	}

	total := resolutionScore(width, height, res.MeetsMinimumResolution) +
		fileSizeScore(width, height, fileSizeBytes, res.MeetsMinimumFileSize) +
		aspectScore(width, height) +
		formatScore(ext)

	if res.MeetsMinimumResolution {
		total += MinimumBonus
	}
	if !res.MeetsMinimumFileSize {
		total -= FileSizePenalty
		if total < 0 {
			total = 0
		}
	}
	if total > 100 {
		total = 100
	}

	res.Score = total
	res.Label = LabelFor(total)
	res.Recommendations = recommendations(width, height, fileSizeBytes, ext, res)
	return res
}

func resolutionScore(width, height int, meetsMinimum bool) int {
	if !meetsMinimum {
		return 0
	}
	mp := float64(width) * float64(height) / 1_000_000
	switch {
	case mp >= 0.09 && mp <= 0.5:
		return 35
	case mp > 0.5 && mp <= 2:
		return 30
	case mp > 2 && mp <= 4:
		return 25
	case mp > 4:
		return 20
	default:
		return 15
	}
}

func fileSizeScore(width, height int, size int64, meetsMinimum bool) int {
	if !meetsMinimum {
		return 0
	}
	uncompressed := 3 * float64(width) * float64(height)
	if uncompressed <= 0 {
		return 0
	}
	ratio := float64(size) / uncompressed
	switch {
	case ratio < 0.05:
		return 5
	case ratio < 0.1:
		return 10
	case ratio < 0.3:
		return 15
	case ratio <= 1.0:
		return 20
	default:
		return 18
	}
}

func aspectScore(width, height int) int {
	if width <= 0 || height <= 0 {
		return 10
	}
	ratio := float64(width) / float64(height)
	switch {
	case ratio >= 0.9 && ratio <= 1.1:
		return 20
	case ratio >= 0.7 && ratio <= 1.4:
		return 18
	case ratio >= 0.5 && ratio <= 2.0:
		return 15
	default:
		return 10
	}
}

// formatScore keeps jpg at 20 even though the other bands cap at 15.
func formatScore(ext string) int {
	switch ext {
	case "jpg", "jpeg":
		return 20
	case "png":
		return 15
	default:
		return 10
	}
}

func recommendations(width, height int, size int64, ext string, res QualityResult) []string {
	recs := []string{}
	if !res.MeetsMinimumResolution {
		recs = append(recs, fmt.Sprintf("resolution %dx%d is below the minimum of %dx%d pixels",
			width, height, MinDimension, MinDimension))
	}
	if !res.MeetsMinimumFileSize {
		var shown uint64
		if size > 0 {
			shown = uint64(size)
		}
		recs = append(recs, fmt.Sprintf("file size %s is below the minimum file size of %s, re-export at higher quality",
			humanize.IBytes(shown), humanize.IBytes(MinFileSizeBytes)))
	}
	if ext != "jpg" && ext != "jpeg" && ext != "png" {
		recs = append(recs, fmt.Sprintf("format %q is not recommended, use JPG or PNG", ext))
	}
	if res.Score < RecommendedScore && res.Score >= 50 {
		recs = append(recs, fmt.Sprintf("quality score %d is below the recommended %d", res.Score, RecommendedScore))
	}
	if width > LargeDimension || height > LargeDimension {
		recs = append(recs, fmt.Sprintf("resolution %dx%d is larger than %d pixels, downscaling will not reduce tracking quality",
			width, height, LargeDimension))
	}
	return recs
}
