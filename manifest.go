// Copyright 2018 Rob Marissen.
// SPDX-License-Identifier: MIT

package main

import (
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/524D/mzbatch/internal/config"
)

// Format of the manifest, if it ever changes we should still be able
// to parse manifests from old versions
const manifestFormatVersion = "1.0"

// manifest records how a report was made. Its params section has the
// layout of the config file, so a manifest can be passed to --config
// to repeat a run.
type manifest struct {
	FormatVersion string               `yaml:"format_version"`
	Program       string               `yaml:"program"`
	Version       string               `yaml:"version"`
	Created       string               `yaml:"created"`
	RunID         string               `yaml:"run_id,omitempty"`
	Mode          string               `yaml:"mode"`
	Classes       []string             `yaml:"classes"`
	Output        string               `yaml:"output"`
	Backend       config.BackendConfig `yaml:"backend"`
	Params        config.ParamsConfig  `yaml:"params"`
	Samples       []manifestSample     `yaml:"samples"`
	Repairs       []manifestRepair     `yaml:"repairs,omitempty"`
}

type manifestSample struct {
	Name  string `yaml:"name"`
	Class string `yaml:"class,omitempty"`
	Path  string `yaml:"path"`
}

type manifestRepair struct {
	Path     string `yaml:"path"`
	Backup   string `yaml:"backup"`
	Repaired string `yaml:"repaired"`
	Scan     int    `yaml:"scan"`
}

func manifestPath(dir, base string) string {
	return filepath.Join(dir, base+".params.yaml")
}

func writeManifest(path string, c *config.Config, st runState, reportPath string) error {
	m := manifest{
		FormatVersion: manifestFormatVersion,
		Program:       progName,
		Version:       progVersion,
		Created:       time.Now().UTC().Format(time.RFC3339),
		RunID:         st.runID,
		Mode:          st.mode.String(),
		Classes:       st.classes,
		Output:        filepath.Base(reportPath),
		Backend:       c.Backend,
		Params:        c.Params,
	}
	for _, s := range st.samples {
		m.Samples = append(m.Samples, manifestSample{Name: s.Name, Class: s.Class, Path: s.Path})
	}
	for _, r := range st.repairs {
		m.Repairs = append(m.Repairs, manifestRepair{
			Path: r.Path, Backup: r.BackupPath, Repaired: r.RepairedPath, Scan: r.Scan,
		})
	}
	b, err := yaml.Marshal(&m)
	if err != nil {
		return eris.Wrap(err, "marshal manifest")
	}
	return eris.Wrapf(os.WriteFile(path, b, 0o644), "write manifest %s", path)
}
