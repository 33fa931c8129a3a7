package mzml

import (
	"bytes"
	"compress/zlib"
	"encoding/base64"
	"encoding/binary"
	"encoding/xml"
	"io"
	"math"
)

// Write writes the document as (non-indexed) mzML
func (f *MzML) Write(writer io.Writer) error {
	if _, err := io.WriteString(writer, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(writer)
	// FIXME: We want readable XML, with XML tags starting on a new line.
	// GO's Encode doesn't always insert newlines, and using
	// Indent only works if the indent string is not empty,
	// resuling in a single space indent.
	enc.Indent(` `, `  `)
	var content mzMLContentWrite

	content.XMLName = f.content.XMLName
	content.Sl1 = "http://psi.hupo.org/ms/mzml http://psidev.info/files/ms/mzML/xsd/mzML1.1.0.xsd"
	content.Version = "1.1.0"
	content.Sl2 = "http://www.w3.org/2001/XMLSchema-instance"
	content.CvList = f.content.CvList
	content.FileDescription = f.content.FileDescription
	content.ReferenceableParamGroupList = f.content.ReferenceableParamGroupList
	content.SoftwareList = f.content.SoftwareList
	content.InstrumentConfigurationList = f.content.InstrumentConfigurationList
	content.DataProcessingList = f.content.DataProcessingList
	content.Run = f.content.Run

	if err := enc.Encode(&content); err != nil {
		return err
	}
	return enc.Flush()
}

// AppendSoftwareInfo adds info to the SoftwareList tag of the mzML file
func (f *MzML) AppendSoftwareInfo(id string, version string) {
	if f.content.SoftwareList == nil {
		f.content.SoftwareList = &softwareList{}
	}
	f.content.SoftwareList.Count++
	f.content.SoftwareList.Software = append(f.content.SoftwareList.Software,
		software{ID: id, Version: version})
}

// AppendDataProcessing adds info to the DataProcessing tag of the mzML file
func (f *MzML) AppendDataProcessing(proc DataProcessing) {
	if f.content.DataProcessingList == nil {
		f.content.DataProcessingList = &dataProcessingList{}
	}
	f.content.DataProcessingList.Count++
	f.content.DataProcessingList.DataProcessingd = append(f.content.DataProcessingList.DataProcessingd, proc)
}

// ReplaceScan replaces the m/z and intensity arrays of a scan, storing
// them as zlib compressed 64-bit floats. An empty peak list stays
// empty.
func (f *MzML) ReplaceScan(scanIndex int, p []Peak) error {
	if scanIndex < 0 || scanIndex >= f.NumSpecs() {
		return ErrInvalidScanIndex
	}
	spec := &f.content.Run.SpectrumList.Spectrum[scanIndex]
	spec.DefaultArrayLength = int64(len(p))
	for i := range spec.BinaryDataArrayList.BinaryDataArray {
		bda := &spec.BinaryDataArrayList.BinaryDataArray[i]
		_, _, mzArray, intensityArray, err := binaryDataPars(bda)
		if err != nil {
			return err
		}
		if !mzArray && !intensityArray {
			continue
		}
		b64, err := encodeBinary(p, true, true, mzArray)
		if err != nil {
			return err
		}
		bda.CvPar = to64BitZlib(bda.CvPar)
		bda.Binary = b64
		bda.ArrayLength = len(p)
		bda.EncodedLength = len(b64)
	}
	return nil
}

// to64BitZlib replaces the precision and compression terms of a binary
// array
func to64BitZlib(cv []CVParam) []CVParam {
	out := make([]CVParam, 0, len(cv)+2)
	for _, c := range cv {
		switch c.Accession {
		case "MS:1000521", "MS:1000523", "MS:1000574", "MS:1000576":
			continue
		}
		out = append(out, c)
	}
	return append(out,
		CVParam{CvRef: "MS", Accession: "MS:1000523", Name: "64-bit float"},
		CVParam{CvRef: "MS", Accession: "MS:1000574", Name: "zlib compression"})
}

func encodeBinary(p []Peak, zlibCompression bool, bits64 bool, mzArray bool) (
	string, error) {

	var rawUncompressed []byte

	// Some code duplication below in order to optimize loops
	if bits64 {
		// Allocate room for uncompressed binary data
		rawUncompressed = make([]byte, len(p)*8)
		if mzArray {
			for i, peak := range p {
				binary.LittleEndian.PutUint64(rawUncompressed[(8*i):], math.Float64bits(peak.Mz))
			}
		} else {
			for i, peak := range p {
				binary.LittleEndian.PutUint64(rawUncompressed[(8*i):], math.Float64bits(peak.Intens))
			}
		}
	} else {
		rawUncompressed = make([]byte, len(p)*4)
		if mzArray {
			for i, peak := range p {
				binary.LittleEndian.PutUint32(rawUncompressed[(4*i):], math.Float32bits(float32(peak.Mz)))
			}
		} else {
			for i, peak := range p {
				binary.LittleEndian.PutUint32(rawUncompressed[(4*i):], math.Float32bits(float32(peak.Intens)))
			}
		}
	}
	data := rawUncompressed
	if zlibCompression {
		var b bytes.Buffer
		z := zlib.NewWriter(&b)
		if _, err := z.Write(rawUncompressed); err != nil {
			return "", err
		}
		// zlib writer must explicitly be closed here, otherwise the result is invalid
		if err := z.Close(); err != nil {
			return "", err
		}
		data = b.Bytes()
	}
	return base64.StdEncoding.EncodeToString(data), nil
}
