package scoring

import "github.com/opensource-finance/avia/internal/domain"

// MissingCategory is the placeholder for absent categorical values.
const MissingCategory = "MISSING"

// Vectorize builds the scaled feature vector for a claim in trained order.
//
// Categorical features map to their label-encoder index. Unseen categories
// map to 0, which collides with the first trained class; retraining with an
// explicit unknown class is required to separate them. Numeric features that
// fail coercion become 0.
func Vectorize(claim domain.ClaimRecord, b *Bundle) []float64 {
	names := b.Metadata.FeatureNames
	x := make([]float64, len(names))

	for i, name := range names {
		if codes, ok := b.codes[name]; ok {
			s, ok := claim.Text(name)
			if !ok {
				s = MissingCategory
			}
			x[i] = float64(codes[s])
			continue
		}
		x[i] = claim.FloatOr(name, 0)
	}

	for i := range x {
		scale := b.Scaler.Scale[i]
		if scale == 0 {
			scale = 1
		}
		x[i] = (x[i] - b.Scaler.Mean[i]) / scale
	}

	return x
}
