// Copyright 2018 Rob Marissen.
// SPDX-License-Identifier: MIT

// This file contains code to help debugging, and is
// separated in from the rest in order not to litter
// the main code with debugging stuff

package main

import (
	"fmt"
	"io"
	"math"

	"github.com/524D/mzbatch/internal/config"
	"github.com/524D/mzbatch/internal/pipeline"
)

// dumpFeatures prints the features with an index in featRange and a
// median m/z in mzRange, with their peaks and per-sample intensities.
func dumpFeatures(w io.Writer, ds *pipeline.Dataset, featRange, mzRange string) error {
	if len(ds.Features) == 0 {
		fmt.Fprintf(w, "No features\n")
		return nil
	}
	first, last, err := config.ParseIntRange(featRange, 0, len(ds.Features)-1)
	if err != nil {
		return fmt.Errorf("debug range %q: %w", featRange, err)
	}
	mzMin, mzMax, err := config.ParseFloat64Range(mzRange, 0, math.MaxFloat64)
	if err != nil {
		return fmt.Errorf("debug m/z range %q: %w", mzRange, err)
	}

	for i := first; i <= last; i++ {
		f := ds.Features[i]
		if f.MzMed < mzMin || f.MzMed > mzMax {
			continue
		}
		fmt.Fprintf(w, "Feature:%d mz:%f [%f,%f] rt:%f [%f,%f] peaks:%d\n",
			i, f.MzMed, f.MzMin, f.MzMax, f.RtMed, f.RtMin, f.RtMax, len(f.Peaks))
		for _, pi := range f.Peaks {
			p := ds.Peaks[pi]
			filled := ``
			if p.Filled {
				filled = ` filled`
			}
			fmt.Fprintf(w, " %s mz:%f rt:%f [%f,%f] into:%f maxo:%f sn:%0.1f%s\n",
				ds.Samples[p.Sample].Name, p.Mz, p.Rt, p.RtMin, p.RtMax, p.Into, p.Maxo, p.SN, filled)
		}
		for s, sample := range ds.Samples {
			fmt.Fprintf(w, " %s:%g", sample.Name, ds.Intensity(i, s))
		}
		fmt.Fprintf(w, "\n")
	}
	return nil
}
