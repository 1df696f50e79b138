package data

import (
	"bytes"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// FieldReader is just a simple reader for whitespace delimited formats.
type FieldReader struct {
	Pos    int
	Fields []string
}

// NewFieldReader constructs a new field reader around the given data
func NewFieldReader(data string) *FieldReader {
	return &FieldReader{0, strings.Fields(data)}
}

// More is true if there are fields left to read
func (fr *FieldReader) More() bool {
	return fr.Pos < len(fr.Fields)
}

// Peek returns the next field without consuming it
func (fr *FieldReader) Peek() (string, error) {
	if !fr.More() {
		return "", io.EOF
	}
	return fr.Fields[fr.Pos], nil
}

// Read returns the next space-delimited field/token
func (fr *FieldReader) Read() (string, error) {
	if fr.Pos >= len(fr.Fields) {
		return "", io.EOF
	}
	p := fr.Pos
	fr.Pos++
	return fr.Fields[p], nil
}

// ReadInt reads the next token as an int
func (fr *FieldReader) ReadInt() (int, error) {
	s, err := fr.Read()
	if err != nil {
		return 0, err
	}

	i, err := strconv.ParseInt(s, 10, 0)
	return int(i), err
}

// ReadFloat reads the next token as a float
func (fr *FieldReader) ReadFloat() (float64, error) {
	s, err := fr.Read()
	if err != nil {
		return 0, err
	}

	return strconv.ParseFloat(s, 64)
}

// strip comments (# to end of line) and blank lines
func preprocess(data []byte) string {
	lines := strings.Split(string(data), "\n")

	newPos := 0
	for _, ln := range lines {
		if i := strings.IndexByte(ln, '#'); i >= 0 {
			ln = ln[:i]
		}
		ln = strings.TrimSpace(ln)
		if len(ln) < 1 {
			continue
		}
		lines[newPos] = ln
		newPos++
	}

	return strings.Join(lines[:newPos], "\n")
}

// ReadDataset parses the text dataset format:
//
//	# comments are ignored
//	n p
//	y x1 ... xp      (n rows)
//	beta b1 ... bp   (optional true coefficients)
func ReadDataset(r io.Reader) (*Dataset, error) {
	buf, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "Could not read dataset")
	}

	fr := NewFieldReader(preprocess(buf))
	if len(fr.Fields) < 2 {
		return nil, errors.Wrapf(ErrFormat, "only %d fields found", len(fr.Fields))
	}

	n, err := fr.ReadInt()
	if err != nil {
		return nil, errors.Wrapf(ErrFormat, "reading row count: %v", err)
	}
	p, err := fr.ReadInt()
	if err != nil {
		return nil, errors.Wrapf(ErrFormat, "reading predictor count: %v", err)
	}
	if n < 1 || p < 1 {
		return nil, errors.Wrapf(ErrFormat, "invalid shape %d x %d", n, p)
	}

	// Each row is y plus p predictors: check the header against the data we
	// actually have before allocating anything
	remain := len(fr.Fields) - fr.Pos
	if p >= remain || n > remain/(p+1) {
		return nil, errors.Wrapf(ErrFormat, "header declares %d x %d but only %d fields follow", n, p, remain)
	}

	ds := &Dataset{
		X: mat.NewDense(n, p, nil),
		Y: make([]float64, n),
	}

	for i := 0; i < n; i++ {
		ds.Y[i], err = fr.ReadFloat()
		if err != nil {
			return nil, errors.Wrapf(ErrFormat, "row %d response: %v", i+1, err)
		}
		row := ds.X.RawRowView(i)
		for j := range row {
			row[j], err = fr.ReadFloat()
			if err != nil {
				return nil, errors.Wrapf(ErrFormat, "row %d predictor %d: %v", i+1, j+1, err)
			}
		}
	}

	if tok, err := fr.Peek(); err == nil && tok == "beta" {
		fr.Read()
		ds.TrueBeta = make([]float64, p)
		for j := range ds.TrueBeta {
			ds.TrueBeta[j], err = fr.ReadFloat()
			if err != nil {
				return nil, errors.Wrapf(ErrFormat, "beta %d: %v", j+1, err)
			}
		}
	}

	if fr.More() {
		return nil, errors.Wrapf(ErrFormat, "%d unexpected fields after the data", len(fr.Fields)-fr.Pos)
	}

	return ds, nil
}

// ReadDatasetFile reads a dataset from the named file
func ReadDatasetFile(filename string) (*Dataset, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.Wrapf(err, "Could not READ dataset from %s", filename)
	}

	ds, err := ReadDataset(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrapf(err, "Could not PARSE dataset %s", filename)
	}
	return ds, nil
}
