package mzxml

import (
	"bytes"
	"compress/zlib"
	"encoding/base64"
	"encoding/binary"
	"encoding/xml"
	"fmt"
	"io"
	"math"
	"strings"

	"golang.org/x/net/html/charset"

	"github.com/524D/mzbatch/internal/mzml"
)

// Read reads an mzXML file from an io.Reader
func Read(reader io.Reader) (MzXML, error) {
	var f MzXML

	d := xml.NewDecoder(reader)
	d.CharsetReader = charset.NewReaderLabel

	for {
		t, err := d.Token()
		if err != nil {
			if err == io.EOF {
				return f, ErrNoContent
			}
			return f, err
		}
		if t, ok := t.(xml.StartElement); ok && t.Name.Local == "mzXML" {
			var content mzXMLContent
			if err := d.DecodeElement(&content, &t); err != nil {
				return f, err
			}
			f.scans = flatten(content.Scans, nil)
			return f, nil
		}
	}
}

// decodePeaks decodes a peaks element: base64 encoded, optionally zlib
// compressed, network byte order m/z-intensity pairs
func decodePeaks(pk *peaks) ([]mzml.Peak, error) {
	if pk.ByteOrder != "" && pk.ByteOrder != "network" {
		return nil, fmt.Errorf("%w: byte order %s", ErrUnsupportedEncoding, pk.ByteOrder)
	}
	order := pk.PairOrder
	if order == "" {
		order = pk.ContentType
	}
	if order != "" && order != "m/z-int" {
		return nil, fmt.Errorf("%w: pair order %s", ErrUnsupportedEncoding, order)
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(pk.Value))
	if err != nil {
		return nil, err
	}
	switch pk.CompressionType {
	case "", "none":
	case "zlib":
		if len(data) > 0 {
			z, err := zlib.NewReader(bytes.NewReader(data))
			if err != nil {
				return nil, err
			}
			defer z.Close()
			if data, err = io.ReadAll(z); err != nil {
				return nil, err
			}
		}
	default:
		return nil, fmt.Errorf("%w: compression %s", ErrUnsupportedEncoding, pk.CompressionType)
	}

	var p []mzml.Peak
	switch pk.Precision {
	case 64:
		p = make([]mzml.Peak, len(data)/16)
		for i := range p {
			p[i].Mz = math.Float64frombits(binary.BigEndian.Uint64(data[i*16:]))
			p[i].Intens = math.Float64frombits(binary.BigEndian.Uint64(data[i*16+8:]))
		}
	case 32, 0:
		p = make([]mzml.Peak, len(data)/8)
		for i := range p {
			p[i].Mz = float64(math.Float32frombits(binary.BigEndian.Uint32(data[i*8:])))
			p[i].Intens = float64(math.Float32frombits(binary.BigEndian.Uint32(data[i*8+4:])))
		}
	default:
		return nil, fmt.Errorf("%w: precision %d", ErrUnsupportedEncoding, pk.Precision)
	}
	return p, nil
}
