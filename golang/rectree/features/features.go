// Package features turns catalog audio features into the numeric matrices the tree consumes.
package features

import (
	"math"

	"github.com/tarstars/recommendation_tree/golang/rectree/rtl"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// AudioFeatures is one entry of the audio-features catalog response.
type AudioFeatures struct {
	ID               string  `json:"id"`
	Type             string  `json:"type,omitempty"`
	URI              string  `json:"uri,omitempty"`
	TrackHref        string  `json:"track_href,omitempty"`
	AnalysisURL      string  `json:"analysis_url,omitempty"`
	Danceability     float64 `json:"danceability"`
	Energy           float64 `json:"energy"`
	Key              float64 `json:"key"`
	Loudness         float64 `json:"loudness"`
	Mode             float64 `json:"mode"`
	Speechiness      float64 `json:"speechiness"`
	Acousticness     float64 `json:"acousticness"`
	Instrumentalness float64 `json:"instrumentalness"`
	Liveness         float64 `json:"liveness"`
	Valence          float64 `json:"valence"`
	Tempo            float64 `json:"tempo"`
	DurationMs       float64 `json:"duration_ms"`
	TimeSignature    float64 `json:"time_signature"`
}

// Columns names the numeric columns of a feature table in order.
var Columns = []string{
	"danceability",
	"energy",
	"key",
	"loudness",
	"mode",
	"speechiness",
	"acousticness",
	"instrumentalness",
	"liveness",
	"valence",
	"tempo",
	"duration_ms",
	"time_signature",
}

func (f *AudioFeatures) row() []float64 {
	return []float64{
		f.Danceability,
		f.Energy,
		f.Key,
		f.Loudness,
		f.Mode,
		f.Speechiness,
		f.Acousticness,
		f.Instrumentalness,
		f.Liveness,
		f.Valence,
		f.Tempo,
		f.DurationMs,
		f.TimeSignature,
	}
}

// Table stacks the numeric columns of every non-nil entry into a matrix.
// The catalog answers null for unknown tracks; those are skipped.
func Table(features []*AudioFeatures) (*mat.Dense, error) {
	data := make([]float64, 0, len(features)*len(Columns))
	h := 0
	for _, f := range features {
		if f == nil {
			continue
		}
		data = append(data, f.row()...)
		h++
	}
	if h == 0 {
		return nil, rtl.ErrEmptyInput
	}
	return mat.NewDense(h, len(Columns), data), nil
}

// Scale standardises every column to zero mean and unit population variance.
// Columns with zero variance are only centred.
func Scale(m *mat.Dense) (*mat.Dense, error) {
	if err := rtl.CheckMatrix(m); err != nil {
		return nil, err
	}
	h, w := m.Dims()
	result := mat.NewDense(h, w, nil)
	column := make([]float64, h)
	for q := 0; q < w; q++ {
		mat.Col(column, q, m)
		mean, std := stat.PopMeanStdDev(column, nil)
		if std == 0 || math.IsNaN(std) {
			std = 1
		}
		for p := 0; p < h; p++ {
			result.Set(p, q, (column[p]-mean)/std)
		}
	}
	return result, nil
}
