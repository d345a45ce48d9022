package models

import (
	"image"
	"time"

	"tvflow/pkg/flow"
	"tvflow/pkg/grid"
	"tvflow/pkg/opticflow"
)

// Frame represents a single input image with metadata
type Frame struct {
	// Image is the decoded image as read from disk
	Image image.Image

	// Gray is the preprocessed grayscale grid handed to the estimator
	Gray *grid.Grid

	// Index is the position of this frame in the sequence
	Index int

	// Filename is the original filename of the frame
	Filename string
}

// Pair is two consecutive frames; the flow maps First onto Second
type Pair struct {
	First  *Frame
	Second *Frame
}

// Result holds the estimated flow of one pair and its quality figures
type Result struct {
	Pair    Pair
	Field   *flow.Field
	Reports []opticflow.LevelReport

	// Duration is the wall time of the estimation alone
	Duration time.Duration

	// HasTruth is set when AAE and EPE were measured against a ground truth
	HasTruth bool
	AAE      float64 // average angular error in degrees
	EPE      float64 // average endpoint error in pixels

	// Files lists the outputs written for this pair
	Files []string
}
