package pipeline

// DetectParams controls peak detection. Widths and times are in
// seconds.
type DetectParams struct {
	PPM                float64 `json:"ppm"`
	PeakWidthMin       float64 `json:"peakwidth_min"`
	PeakWidthMax       float64 `json:"peakwidth_max"`
	SNR                float64 `json:"snthresh"`
	PrefilterCount     int     `json:"prefilter_k"`
	PrefilterIntensity float64 `json:"prefilter_i"`
	// Integrate is 1 for the filtered signal, 2 for the raw signal
	Integrate int     `json:"integrate"`
	MzDiff    float64 `json:"mzdiff"`
	FitGauss  bool    `json:"fitgauss"`
	Noise     float64 `json:"noise"`
	// ScanFirst and ScanLast are 1-based and inclusive; 0 means open
	ScanFirst int `json:"scan_first"`
	ScanLast  int `json:"scan_last"`
}

// GroupParams controls the grouping of peaks into features.
type GroupParams struct {
	Bandwidth float64 `json:"bw"`
	MzWid     float64 `json:"mzwid"`
	MinFrac   float64 `json:"minfrac"`
	MinSamp   int     `json:"minsamp"`
}

// RetentionParams controls retention time correction.
type RetentionParams struct {
	Method string  `json:"method"`
	Step   float64 `json:"step"`
	// Response is 0..100: 0 gives a global linear fit, 100 follows the
	// anchor deviations exactly
	Response float64 `json:"response"`
	// Center is the 1-based reference sample, 0 picks one
	Center       int  `json:"center"`
	SuppressPlot bool `json:"suppress_plot"`
}

// Params holds everything the stages need. Regroup is Group with the
// regroup bandwidth.
type Params struct {
	Detect    DetectParams    `json:"detect"`
	Group     GroupParams     `json:"group"`
	Regroup   GroupParams     `json:"regroup"`
	Retention RetentionParams `json:"retcor"`
}

// Retention correction methods.
const (
	MethodPeakGroups = "peakgroups"
	MethodObiwarp    = "obiwarp"
	MethodOffset     = "offset"
	MethodPoly1      = "poly1"
	MethodPoly2      = "poly2"
	MethodPoly3      = "poly3"
)

// RetentionMethods lists the accepted retention correction methods.
var RetentionMethods = []string{
	MethodPeakGroups, MethodObiwarp, MethodOffset, MethodPoly1, MethodPoly2, MethodPoly3,
}
