// Package analysis runs principal component analysis over measurement
// tables, either remotely on an OpenCPU server or in process.
package analysis

import (
	"context"

	"github.com/paveg/metabulo/internal/frame"
)

// PCAResult holds the projection of the samples onto the leading
// principal components.
type PCAResult struct {
	// Rows are the sample labels, aligned with Scores.
	Rows []string `json:"rows"`
	// Scores is samples by components.
	Scores [][]float64 `json:"x"`
	// ExplainedVariance is the share of total variance per component.
	ExplainedVariance []float64 `json:"explained_variance"`
	// Loadings is components by measurement columns, when available.
	Loadings [][]float64 `json:"loadings,omitempty"`
	// Labels holds the sample annotations by column (group and metadata
	// columns), each aligned with Rows.
	Labels map[string][]string `json:"labels,omitempty"`
}

// Components returns the number of components in the result.
func (r *PCAResult) Components() int {
	return len(r.ExplainedVariance)
}

// Analyzer computes a PCA of a measurement table.
type Analyzer interface {
	PCA(ctx context.Context, f *frame.Frame, maxComponents int) (*PCAResult, error)
}

// Renderer produces plot images of a measurement table.
type Renderer interface {
	Image(ctx context.Context, path string, f *frame.Frame) ([]byte, error)
}
