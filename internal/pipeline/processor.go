package pipeline

import (
	"context"
	"slices"

	"github.com/524D/mzbatch/internal/classify"
)

// PeakProcessor does the numerical work of each stage. Implementations
// must not modify the dataset they are given and must return a new one.
type PeakProcessor interface {
	Detect(ctx context.Context, samples []Sample, p DetectParams) (*Dataset, error)
	Group(ctx context.Context, ds *Dataset, p GroupParams) (*Dataset, error)
	RetentionCorrect(ctx context.Context, ds *Dataset, p RetentionParams) (*Dataset, error)
	FillGaps(ctx context.Context, ds *Dataset) (*Dataset, error)
	// Report writes the intermediate comma separated table to req.Path.
	// Its first column has an empty header and holds the row identity.
	Report(ctx context.Context, ds *Dataset, req ReportRequest) error
}

// ReportRequest describes the report to write. In Differential mode
// ClassA and ClassB name the contrasted classes.
type ReportRequest struct {
	Mode   classify.Mode `json:"mode"`
	ClassA string        `json:"class_a,omitempty"`
	ClassB string        `json:"class_b,omitempty"`
	Path   string        `json:"path"`
}

// Report columns other than the per-sample intensities. IDColumn is
// the name the first column gets in the delivered report.
const IDColumn = "id"

var (
	ContrastColumns = []string{"fold", "tstat", "pvalue", "presence"}
	FeatureColumns  = []string{"mzmed", "mzmin", "mzmax", "rtmed", "rtmin", "rtmax", "npeaks"}
)

// CountColumn names the column with the number of detected peaks of a
// feature in class.
func CountColumn(class string) string {
	return "n_" + class
}

// ReservedColumn reports whether name is taken by a report column that
// is not a sample column, for a dataset with the given classes.
func ReservedColumn(name string, classes []string) bool {
	if name == "" || name == IDColumn || slices.Contains(ContrastColumns, name) || slices.Contains(FeatureColumns, name) {
		return true
	}
	for _, c := range classes {
		if name == CountColumn(c) {
			return true
		}
	}
	return false
}
