// Package pipeline drives flow estimation over image files: it loads frames,
// preprocesses them, estimates the flow of every consecutive pair and writes
// the results.
//
// The processing steps are:
// 1. Loading the frames, either an explicit pair or a numbered sequence
// 2. Resizing and presmoothing each frame
// 3. Estimating the flow of each consecutive pair
// 4. Comparing against a ground truth when one is given
// 5. Writing Barron flow files and colour coded images
package pipeline

import (
	"fmt"
	"image"
	_ "image/jpeg" // decoders for image.Decode
	_ "image/png"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/anthonynsimon/bild/blur"
	"github.com/anthonynsimon/bild/transform"
	"github.com/golang/glog"
	"github.com/pkg/errors"

	"tvflow/internal/models"
	"tvflow/internal/workers"
	"tvflow/pkg/config"
	"tvflow/pkg/flow"
	"tvflow/pkg/flowio"
	"tvflow/pkg/grid"
	"tvflow/pkg/opticflow"
	"tvflow/pkg/visualization"
)

// Params holds the inputs of one run. Either First and Second or InputDir
// must be set.
type Params struct {
	// First and Second are the two frames of a single pair
	First, Second string

	// InputDir holds a numbered frame sequence; every consecutive pair is
	// processed
	InputDir string

	// TruthFile is an optional Barron file with the true flow of the pair.
	// It is ignored in sequence mode.
	TruthFile string

	// Config supplies solver, preprocessing and output settings
	Config *config.Config
}

// Processor runs the pipeline for one set of Params
type Processor struct {
	params    *Params
	estimator *opticflow.Estimator

	frames  []*models.Frame
	results []models.Result
}

// NewProcessor validates the configuration and prepares the estimator.
func NewProcessor(params *Params) (*Processor, error) {
	if params.Config == nil {
		params.Config = config.DefaultConfig()
	}
	if params.InputDir == "" && (params.First == "" || params.Second == "") {
		return nil, errors.New("pipeline: need two frames or an input directory")
	}
	if err := params.Config.Validate(); err != nil {
		return nil, err
	}
	p, err := params.Config.SolverParams()
	if err != nil {
		return nil, err
	}
	est, err := opticflow.NewEstimator(p)
	if err != nil {
		return nil, err
	}
	return &Processor{params: params, estimator: est}, nil
}

// SetProgressCallback forwards progress reports of every estimation.
func (pr *Processor) SetProgressCallback(callback opticflow.ProgressCallback) {
	pr.estimator.SetProgressCallback(callback)
}

// Process runs the complete pipeline
func (pr *Processor) Process() error {
	if err := pr.loadFrames(); err != nil {
		return err
	}
	for _, f := range pr.frames {
		if err := pr.preprocess(f); err != nil {
			return err
		}
	}

	for i := 0; i+1 < len(pr.frames); i++ {
		pair := models.Pair{First: pr.frames[i], Second: pr.frames[i+1]}
		res, err := pr.processPair(i, pair)
		if err != nil {
			return err
		}
		pr.results = append(pr.results, res)
	}
	return nil
}

// Workers returns the number of goroutines each estimation pass uses.
func (pr *Processor) Workers() int {
	return workers.Count(pr.params.Config.Solver.NumCores)
}

// Frames returns the loaded frames in processing order.
func (pr *Processor) Frames() []*models.Frame { return pr.frames }

// Results returns one result per processed pair.
func (pr *Processor) Results() []models.Result { return pr.results }

func (pr *Processor) loadFrames() error {
	var files []string
	if pr.params.InputDir != "" {
		entries, err := os.ReadDir(pr.params.InputDir)
		if err != nil {
			return errors.Wrap(err, "pipeline: reading input directory")
		}
		for _, e := range entries {
			if !e.IsDir() && isImage(e.Name()) {
				files = append(files, filepath.Join(pr.params.InputDir, e.Name()))
			}
		}
		sort.SliceStable(files, func(i, j int) bool {
			ni, nj := extractNumber(files[i]), extractNumber(files[j])
			if ni != nj {
				return ni < nj
			}
			return files[i] < files[j]
		})
		if len(files) < 2 {
			return errors.Errorf("pipeline: need at least two images in %s, found %d",
				pr.params.InputDir, len(files))
		}
	} else {
		files = []string{pr.params.First, pr.params.Second}
	}

	pr.frames = pr.frames[:0]
	for i, path := range files {
		img, err := loadImage(path)
		if err != nil {
			return errors.Wrapf(err, "pipeline: loading %s", path)
		}
		pr.frames = append(pr.frames, &models.Frame{Image: img, Index: i, Filename: path})
	}

	b := pr.frames[0].Image.Bounds()
	for _, f := range pr.frames[1:] {
		if fb := f.Image.Bounds(); fb.Dx() != b.Dx() || fb.Dy() != b.Dy() {
			return errors.Errorf("pipeline: %s is %dx%d, %s is %dx%d",
				pr.frames[0].Filename, b.Dx(), b.Dy(), f.Filename, fb.Dx(), fb.Dy())
		}
	}
	glog.Infof("Loaded %d frames with dimensions %dx%d", len(pr.frames), b.Dx(), b.Dy())
	return nil
}

// preprocess resizes and presmooths the frame and stores its gray grid
func (pr *Processor) preprocess(f *models.Frame) error {
	cfg := pr.params.Config.Preprocess
	img := f.Image

	if cfg.Resize != 1 {
		w, h := scaledSize(img.Bounds(), cfg.Resize)
		img = transform.Resize(img, w, h, transform.Linear)
	}
	if cfg.Sigma > 0 {
		img = blur.Gaussian(img, cfg.Sigma)
	}

	f.Gray = grid.FromImage(img)
	s := f.Gray.Stats()
	glog.V(1).Infof("%s: %dx%d min %.2f max %.2f mean %.2f variance %.2f",
		f.Filename, f.Gray.Width, f.Gray.Height, s.Min, s.Max, s.Mean, s.Variance)
	return nil
}

func (pr *Processor) processPair(index int, pair models.Pair) (models.Result, error) {
	res := models.Result{Pair: pair}

	start := time.Now()
	field, reports, err := pr.estimator.Estimate(pair.First.Gray, pair.Second.Gray)
	if err != nil {
		return res, errors.Wrapf(err, "pipeline: pair %d", index)
	}
	res.Duration = time.Since(start)
	res.Field = field
	res.Reports = reports

	for _, r := range reports {
		glog.V(1).Infof("level %dx%d: %d warps, %d outer iterations, converged %v, direct %v",
			r.Width, r.Height, r.Warps, r.Outer, r.Converged, r.Direct)
	}
	st := field.Stats()
	glog.Infof("pair %d (%s -> %s): %.2fs, max displacement %.3f, mean %.3f",
		index, filepath.Base(pair.First.Filename), filepath.Base(pair.Second.Filename),
		res.Duration.Seconds(), st.MaxMagnitude, st.MeanMagnitude)

	if pr.params.TruthFile != "" && pr.params.InputDir == "" {
		if err := pr.compareTruth(&res); err != nil {
			return res, err
		}
	}

	files, err := pr.saveResult(index, field)
	res.Files = files
	return res, err
}

// compareTruth measures the angular and endpoint errors against the truth
// file, resized to the working resolution when frames were rescaled
func (pr *Processor) compareTruth(res *models.Result) error {
	truth, err := flowio.ReadFile(pr.params.TruthFile)
	if err != nil {
		return errors.Wrap(err, "pipeline: ground truth")
	}
	if truth.Width() != res.Field.Width() || truth.Height() != res.Field.Height() {
		if pr.params.Config.Preprocess.Resize == 1 {
			return errors.Wrapf(grid.ErrSizeMismatch, "pipeline: truth is %dx%d, flow is %dx%d",
				truth.Width(), truth.Height(), res.Field.Width(), res.Field.Height())
		}
		truth = resizeTruth(truth, res.Field.Width(), res.Field.Height())
	}

	if res.AAE, err = flow.AngularError(res.Field, truth); err != nil {
		return errors.Wrap(err, "pipeline: angular error")
	}
	if res.EPE, err = flow.EndpointError(res.Field, truth); err != nil {
		return errors.Wrap(err, "pipeline: endpoint error")
	}
	res.HasTruth = true
	glog.Infof("AAE %.4f°, EPE %.4f px", res.AAE, res.EPE)
	return nil
}

func (pr *Processor) saveResult(index int, field *flow.Field) ([]string, error) {
	out := pr.params.Config.Output
	if err := os.MkdirAll(out.Dir, 0755); err != nil {
		return nil, errors.Wrap(err, "pipeline: creating output directory")
	}

	prefix := out.Prefix
	if pr.params.InputDir != "" {
		prefix = fmt.Sprintf("%s_%03d", out.Prefix, index)
	}

	barPath := filepath.Join(out.Dir, prefix+".bar")
	if err := flowio.WriteFile(barPath, field); err != nil {
		return nil, err
	}
	files := []string{barPath}

	viewer, err := visualization.NewViewer(field, out.MaxDisplacement)
	if err != nil {
		return files, err
	}
	written, err := viewer.SaveAll(out.Dir, prefix, out.SaveMagnitude, out.SaveComponents)
	files = append(files, written...)
	if err != nil {
		return files, err
	}
	glog.V(1).Infof("wrote %s", strings.Join(files, ", "))
	return files, nil
}

// resizeTruth resamples a ground truth field, keeping unknown pixels
// unknown where any contributing sample is unknown
func resizeTruth(truth *flow.Field, width, height int) *flow.Field {
	known := grid.New(truth.Width(), truth.Height())
	clean := truth.Clone()
	for i := range known.Data {
		if flow.Known(truth.U.Data[i], truth.V.Data[i]) {
			known.Data[i] = 1
		} else {
			clean.U.Data[i], clean.V.Data[i] = 0, 0
		}
	}

	resized, err := flow.Resize(clean, width, height, 0)
	if err != nil {
		return truth
	}
	mask := known.Resample(width, height, 0)
	for i, m := range mask.Data {
		if m < 1-1e-9 {
			resized.U.Data[i] = 2 * flow.UnknownThreshold
			resized.V.Data[i] = 2 * flow.UnknownThreshold
		}
	}
	return resized
}

func scaledSize(b image.Rectangle, factor float64) (int, int) {
	w := int(math.Max(1, math.Round(float64(b.Dx())*factor)))
	h := int(math.Max(1, math.Round(float64(b.Dy())*factor)))
	return w, h
}

func isImage(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".png", ".jpg", ".jpeg":
		return true
	}
	return false
}

// loadImage loads an image from a file
func loadImage(path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, err
	}
	return img, nil
}

// extractNumber extracts the numeric part from a filename
func extractNumber(filename string) int {
	base := filepath.Base(filename)
	numStr := ""
	for _, c := range base {
		if c >= '0' && c <= '9' {
			numStr += string(c)
		}
	}

	if numStr != "" {
		num, err := strconv.Atoi(numStr)
		if err == nil {
			return num
		}
	}
	return 0
}
