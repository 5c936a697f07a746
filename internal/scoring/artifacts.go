package scoring

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Artifact files expected in a model directory.
const (
	MetadataFile   = "metadata.json"
	ScalerFile     = "scaler.json"
	EncodersFile   = "label_encoders.json"
	ClassifierFile = "classifier.json"
	AnomalyFile    = "anomaly.json"
)

// ErrArtifactsUnavailable is returned when the model bundle is missing or corrupt.
var ErrArtifactsUnavailable = errors.New("model artifacts unavailable")

// Metadata describes the trained feature layout.
type Metadata struct {
	Version            string   `json:"version"`
	FeatureNames       []string `json:"feature_names"`
	CategoricalColumns []string `json:"cat_cols"`
	TargetColumn       string   `json:"target_col"`
}

// Scaler is a fitted standard scaler: (x - mean) / scale.
type Scaler struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

// Bundle is an immutable set of inference artifacts.
// It is safe for concurrent use once built.
type Bundle struct {
	Metadata   Metadata
	Scaler     Scaler
	Encoders   map[string][]string
	Classifier *TreeEnsemble
	Anomaly    *IsolationForest

	codes map[string]map[string]int
}

// NewBundle validates the artifacts against each other and indexes the encoders.
func NewBundle(meta Metadata, scaler Scaler, encoders map[string][]string, clf *TreeEnsemble, iso *IsolationForest) (*Bundle, error) {
	n := len(meta.FeatureNames)
	if n == 0 {
		return nil, fmt.Errorf("metadata: no feature names")
	}
	if len(scaler.Mean) != n || len(scaler.Scale) != n {
		return nil, fmt.Errorf("scaler: expected %d features, got mean=%d scale=%d", n, len(scaler.Mean), len(scaler.Scale))
	}
	if clf == nil {
		return nil, fmt.Errorf("classifier: missing")
	}
	if err := clf.validate(n); err != nil {
		return nil, fmt.Errorf("classifier: %w", err)
	}
	if iso == nil {
		return nil, fmt.Errorf("anomaly model: missing")
	}
	if err := iso.validate(n); err != nil {
		return nil, fmt.Errorf("anomaly model: %w", err)
	}

	b := &Bundle{
		Metadata:   meta,
		Scaler:     scaler,
		Encoders:   encoders,
		Classifier: clf,
		Anomaly:    iso,
		codes:      make(map[string]map[string]int),
	}

	for _, col := range meta.CategoricalColumns {
		classes, ok := encoders[col]
		if !ok {
			continue
		}
		idx := make(map[string]int, len(classes))
		for i, c := range classes {
			if _, dup := idx[c]; !dup {
				idx[c] = i
			}
		}
		b.codes[col] = idx
	}

	return b, nil
}

// FeatureNames returns the trained feature order.
func (b *Bundle) FeatureNames() []string {
	return b.Metadata.FeatureNames
}

// Loader produces a Bundle. It is called at most once per Engine.
type Loader func() (*Bundle, error)

// DirLoader loads the bundle from the five JSON artifacts in dir.
func DirLoader(dir string) Loader {
	return func() (*Bundle, error) {
		return LoadBundle(dir)
	}
}

// StaticLoader returns an already built bundle.
func StaticLoader(b *Bundle) Loader {
	return func() (*Bundle, error) {
		if b == nil {
			return nil, ErrArtifactsUnavailable
		}
		return b, nil
	}
}

// LoadBundle reads and validates an artifact directory.
func LoadBundle(dir string) (*Bundle, error) {
	if dir == "" {
		return nil, fmt.Errorf("%w: model directory not configured", ErrArtifactsUnavailable)
	}

	var (
		meta     Metadata
		scaler   Scaler
		encoders map[string][]string
		clf      TreeEnsemble
		iso      IsolationForest
	)

	files := []struct {
		name string
		dst  any
	}{
		{MetadataFile, &meta},
		{ScalerFile, &scaler},
		{EncodersFile, &encoders},
		{ClassifierFile, &clf},
		{AnomalyFile, &iso},
	}
	for _, f := range files {
		if err := readJSON(filepath.Join(dir, f.name), f.dst); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrArtifactsUnavailable, err)
		}
	}

	b, err := NewBundle(meta, scaler, encoders, &clf, &iso)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrArtifactsUnavailable, err)
	}
	return b, nil
}

func readJSON(path string, dst any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return nil
}
