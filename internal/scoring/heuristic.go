package scoring

import (
	"context"

	"github.com/stormwatch-systems/stormwatch/pkg/model"
)

// HeuristicModel is a deterministic rule-based scorer used when no trained
// model is wired in. Thresholds approximate the bands the trained classifier
// learned: sustained high-rate traffic reads volumetric, bursty repeat
// sources read application-layer, the rest probing or benign.
type HeuristicModel struct {
	// VolumetricMetric is the metric magnitude above which traffic is
	// treated as volumetric flood.
	VolumetricMetric float64

	// BurstFrequency is the same-source observation count above which
	// repeated moderate traffic reads as application-layer abuse.
	BurstFrequency int

	// BenignMetric is the magnitude below which a first-time source is
	// considered benign.
	BenignMetric float64
}

// DefaultHeuristicModel returns the model with tuned default bands.
func DefaultHeuristicModel() *HeuristicModel {
	return &HeuristicModel{
		VolumetricMetric: 10000,
		BurstFrequency:   10,
		BenignMetric:     50,
	}
}

// Version implements Model.
func (m *HeuristicModel) Version() string { return "heuristic-v1" }

// ScoreFeatures implements Model.
func (m *HeuristicModel) ScoreFeatures(ctx context.Context, f FeatureVector) (float64, model.Classification, error) {
	if err := ctx.Err(); err != nil {
		return 0, "", &UnavailableError{Err: err}
	}

	switch {
	case f.Metric >= m.VolumetricMetric:
		score := 0.7 + 0.3*min(f.Metric/(m.VolumetricMetric*10), 1)
		return weighByGeo(score, f.GeoConfidence), model.ClassificationVolumetricDDoS, nil

	case f.SourceFrequency >= m.BurstFrequency:
		score := 0.6 + 0.3*min(float64(f.SourceFrequency)/float64(m.BurstFrequency*5), 1)
		return weighByGeo(score, f.GeoConfidence), model.ClassificationApplicationLayerDDoS, nil

	case f.Metric < m.BenignMetric && f.SourceFrequency <= 1:
		return 0.05, model.ClassificationBenign, nil

	default:
		score := 0.2 + 0.3*min(f.Metric/m.VolumetricMetric, 1)
		return weighByGeo(score, f.GeoConfidence), model.ClassificationProbing, nil
	}
}

// weighByGeo shaves confidence off scores for poorly located sources, since
// correlation quality depends on the coordinates being real.
func weighByGeo(score, geoConfidence float64) float64 {
	if geoConfidence >= 0.5 {
		return score
	}
	return score * (0.7 + 0.6*geoConfidence)
}
