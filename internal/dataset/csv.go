// Package dataset reads sample sets from logger CSV exports and writes
// fitted curves back out.
package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/copyleftdev/gridfit/internal/optimization"
)

// Column names used by the supported logger exports.
const (
	FieldMAFVoltage  = "MAF Voltage"
	FieldMassAirflow = "Mass Airflow"
	FieldShortTermFT = "Short Term FT"
	FieldLongTermFT  = "Long Term FT"
)

// ReadOptions selects the columns to pair.
type ReadOptions struct {
	// X and Y are header names, matched case-insensitively after trimming.
	X string
	Y string
	// UniqueX keeps only the first row for every distinct x value.
	UniqueX bool
}

// ReadStats reports what ReadCSV did with the input rows.
type ReadStats struct {
	Rows       int `json:"rows"`
	Kept       int `json:"kept"`
	Duplicates int `json:"duplicates"`
}

// ReadCSV parses a CSV with a header row and returns the (X, Y) samples.
// Duplicate pairs, or duplicate x values under UniqueX, are dropped keeping
// the first occurrence. Any unparseable value fails the whole read with its
// line number.
func ReadCSV(r io.Reader, opts ReadOptions) (*optimization.Samples, ReadStats, error) {
	const op = "ReadCSV"
	var stats ReadStats

	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, stats, invalid(op, "CSV is empty or missing header")
	}
	if err != nil {
		return nil, stats, optimization.WrapError(err, optimization.KindInvalidInput, "read CSV header").
			WithComponent("dataset").WithOperation(op)
	}
	xi, err := column(header, opts.X)
	if err != nil {
		return nil, stats, err
	}
	yi, err := column(header, opts.Y)
	if err != nil {
		return nil, stats, err
	}

	var xs, ys []float32
	seenPair := make(map[[2]uint32]struct{})
	seenX := make(map[uint32]struct{})
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, stats, optimization.WrapError(err, optimization.KindInvalidInput, "read CSV row").
				WithComponent("dataset").WithOperation(op)
		}
		line, _ := reader.FieldPos(0)
		if blank(record) {
			continue
		}
		stats.Rows++

		x, err := field(record, xi, header[xi], line)
		if err != nil {
			return nil, stats, err
		}
		y, err := field(record, yi, header[yi], line)
		if err != nil {
			return nil, stats, err
		}

		xb := math.Float32bits(x)
		if opts.UniqueX {
			if _, dup := seenX[xb]; dup {
				stats.Duplicates++
				continue
			}
			seenX[xb] = struct{}{}
		}
		key := [2]uint32{xb, math.Float32bits(y)}
		if _, dup := seenPair[key]; dup {
			stats.Duplicates++
			continue
		}
		seenPair[key] = struct{}{}
		xs = append(xs, x)
		ys = append(ys, y)
	}

	if len(xs) == 0 {
		return nil, stats, invalid(op, "CSV has no data rows")
	}
	stats.Kept = len(xs)
	samples, err := optimization.NewSamples(xs, ys)
	if err != nil {
		return nil, stats, err
	}
	return samples, stats, nil
}

// WriteCSV writes one "x,y" row per pair without a header. Values use the
// shortest decimal that round-trips a float32 and never use exponent
// notation.
func WriteCSV(w io.Writer, xs, ys []float32) error {
	if len(xs) != len(ys) {
		return optimization.NewErrorf(optimization.KindInvalidInput, "column length mismatch: len(x)=%d len(y)=%d", len(xs), len(ys)).
			WithComponent("dataset").WithOperation("WriteCSV")
	}
	cw := csv.NewWriter(w)
	for i := range xs {
		if err := cw.Write([]string{FormatFloat(xs[i]), FormatFloat(ys[i])}); err != nil {
			return fmt.Errorf("write CSV row %d: %w", i+1, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// FormatFloat formats v as written by WriteCSV.
func FormatFloat(v float32) string {
	return strconv.FormatFloat(float64(v), 'f', -1, 32)
}

func column(header []string, name string) (int, error) {
	want := strings.ToLower(strings.TrimSpace(name))
	if want == "" {
		return 0, invalid("ReadCSV", "column name is empty")
	}
	for i, h := range header {
		if strings.ToLower(strings.TrimSpace(h)) == want {
			return i, nil
		}
	}
	return 0, optimization.NewErrorf(optimization.KindInvalidInput, "column %q not found in header %q", name, header).
		WithComponent("dataset").WithOperation("ReadCSV")
}

func field(record []string, i int, name string, line int) (float32, error) {
	if i >= len(record) {
		return 0, optimization.NewErrorf(optimization.KindInvalidInput, "line %d: missing column %q", line, name).
			WithComponent("dataset").WithOperation("ReadCSV")
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(record[i]), 32)
	if err != nil {
		return 0, optimization.WrapError(err, optimization.KindInvalidInput, fmt.Sprintf("line %d: invalid %s %q", line, name, record[i])).
			WithComponent("dataset").WithOperation("ReadCSV")
	}
	f := float32(v)
	if math.IsNaN(v) || math.IsInf(float64(f), 0) {
		return 0, optimization.NewErrorf(optimization.KindInvalidInput, "line %d: %s must be finite, got %q", line, name, record[i]).
			WithComponent("dataset").WithOperation("ReadCSV")
	}
	return f, nil
}

func blank(record []string) bool {
	for _, f := range record {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

func invalid(op, msg string) error {
	return optimization.NewError(optimization.KindInvalidInput, msg).
		WithComponent("dataset").WithOperation(op)
}
