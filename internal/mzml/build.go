package mzml

import (
	"encoding/xml"
	"strconv"
)

// Spectrum holds what is needed to add a spectrum to a new document.
// RetentionTime is in seconds.
type Spectrum struct {
	ID            string
	MSLevel       int
	Centroid      bool
	RetentionTime float64
	Peaks         []Peak
}

const defaultCvList = `
  <cv id="MS" fullName="Proteomics Standards Initiative Mass Spectrometry Ontology" URI="https://raw.githubusercontent.com/HUPO-PSI/psi-ms-CV/master/psi-ms.obo"/>
  <cv id="UO" fullName="Unit Ontology" URI="https://raw.githubusercontent.com/bio-ontology-research-group/unit-ontology/master/unit.obo"/>
 `

const defaultFileDescription = `
  <fileContent>
   <cvParam cvRef="MS" accession="MS:1000579" name="MS1 spectrum"/>
  </fileContent>
 `

// New creates an empty mzML document with the given run id.
// Spectra are added with AppendSpectrum.
func New(runID string) MzML {
	var f MzML
	f.content.XMLName = xml.Name{Space: "http://psi.hupo.org/ms/mzml", Local: "mzML"}
	f.content.CvList = cvList{Count: 2, CvListXML: []byte(defaultCvList)}
	f.content.FileDescription.FileDescriptionXML = defaultFileDescription
	f.content.Run.ID = runID
	f.id2Index = make(map[string]int)
	return f
}

// AppendSpectrum adds a spectrum at the end of the spectrum list.
// Binary arrays are written as zlib compressed 64-bit floats.
func (f *MzML) AppendSpectrum(s Spectrum) error {
	i := f.NumSpecs()
	id := s.ID
	if id == "" {
		id = "scan=" + strconv.Itoa(i+1)
	}
	if _, ok := f.id2Index[id]; ok {
		return ErrInvalidScanID
	}
	level := s.MSLevel
	if level == 0 {
		level = 1
	}
	spec := spectrum{
		Index:              i,
		ID:                 id,
		DefaultArrayLength: int64(len(s.Peaks)),
		CvPar: []CVParam{
			{CvRef: "MS", Accession: "MS:1000511", Name: "ms level", Value: strconv.Itoa(level)},
		},
	}
	if s.Centroid {
		spec.CvPar = append(spec.CvPar, CVParam{CvRef: "MS", Accession: "MS:1000127", Name: "centroid spectrum"})
	} else {
		spec.CvPar = append(spec.CvPar, CVParam{CvRef: "MS", Accession: "MS:1000128", Name: "profile spectrum"})
	}
	spec.ScanList = scanList{
		Count: 1,
		CvPar: []CVParam{{CvRef: "MS", Accession: "MS:1000795", Name: "no combination"}},
		Scan: []scan{{
			CvPar: []CVParam{{
				CvRef:         "MS",
				Accession:     "MS:1000016",
				Name:          "scan start time",
				Value:         strconv.FormatFloat(s.RetentionTime, 'f', -1, 64),
				UnitCvRef:     "UO",
				UnitAccession: "UO:0000010",
				UnitName:      "second",
			}},
		}},
	}

	mz, err := encodeBinary(s.Peaks, true, true, true)
	if err != nil {
		return err
	}
	intens, err := encodeBinary(s.Peaks, true, true, false)
	if err != nil {
		return err
	}
	arrayPars := func(accession, name string) []CVParam {
		return []CVParam{
			{CvRef: "MS", Accession: "MS:1000523", Name: "64-bit float"},
			{CvRef: "MS", Accession: "MS:1000574", Name: "zlib compression"},
			{CvRef: "MS", Accession: accession, Name: name},
		}
	}
	spec.BinaryDataArrayList = binaryDataArrayList{
		Count: 2,
		BinaryDataArray: []binaryDataArray{
			{EncodedLength: len(mz), CvPar: arrayPars("MS:1000514", "m/z array"), Binary: mz},
			{EncodedLength: len(intens), CvPar: arrayPars("MS:1000515", "intensity array"), Binary: intens},
		},
	}

	f.content.Run.SpectrumList.Spectrum = append(f.content.Run.SpectrumList.Spectrum, spec)
	f.content.Run.SpectrumList.Count = f.NumSpecs()
	f.index2id = append(f.index2id, id)
	if f.id2Index == nil {
		f.id2Index = make(map[string]int)
	}
	f.id2Index[id] = i
	return nil
}
