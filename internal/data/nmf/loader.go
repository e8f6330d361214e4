package nmf

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// DefaultSampleIDColumn is used when no sample id column is configured.
const DefaultSampleIDColumn = "sample_id"

// KFile is one NMF result file found by DiscoverKFiles.
type KFile struct {
	Filename    string `json:"filename"`
	K           int    `json:"k"`
	Path        string `json:"path"`
	DisplayName string `json:"display_name"`
}

var kFilePattern = regexp.MustCompile(`_[kK](\d+)\.csv(\.zst)?$`)

// DiscoverKFiles lists the files in dir that match the glob pattern and carry
// a K value in their name (e.g. "pancan_k12.csv"). The result is sorted by K.
func DiscoverKFiles(dir, pattern string) ([]KFile, error) {
	if pattern == "" {
		pattern = "*.csv*"
	}
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return nil, fmt.Errorf("invalid file pattern %q: %w", pattern, err)
	}

	var files []KFile
	for _, p := range matches {
		name := filepath.Base(p)
		m := kFilePattern.FindStringSubmatch(name)
		if m == nil {
			continue
		}
		k, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		files = append(files, KFile{
			Filename:    name,
			K:           k,
			Path:        p,
			DisplayName: fmt.Sprintf("K = %d", k),
		})
	}
	sort.SliceStable(files, func(i, j int) bool { return files[i].K < files[j].K })
	return files, nil
}

// LoadCSV reads an NMF result. The sample id column is idColumn (falling
// back to the first column when it is absent); every column whose cells all
// parse as numbers is a component, every other column becomes an
// annotation. Files ending in .zst are zstd-decompressed. The cancer_type
// annotation is always derived from the sample ids.
func LoadCSV(path, idColumn string) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".zst") {
		dec, err := zstd.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
		}
		defer dec.Close()
		r = dec
	}

	ds, err := ReadCSV(r, idColumn)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	if m := kFilePattern.FindStringSubmatch(filepath.Base(path)); m != nil {
		ds.K, _ = strconv.Atoi(m[1])
	}
	ds.Name = strings.TrimSuffix(strings.TrimSuffix(filepath.Base(path), ".zst"), ".csv")
	return ds, nil
}

// ReadCSV parses an NMF result from r. See LoadCSV.
func ReadCSV(r io.Reader, idColumn string) (*Dataset, error) {
	if idColumn == "" {
		idColumn = DefaultSampleIDColumn
	}

	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}
	if len(records) < 2 {
		return nil, errors.New("csv has no data rows")
	}

	header := records[0]
	rows := records[1:]

	idCol := 0
	for i, h := range header {
		if strings.TrimSpace(h) == idColumn {
			idCol = i
			break
		}
	}

	numeric := make([]bool, len(header))
	for c := range header {
		if c == idCol {
			continue
		}
		numeric[c] = true
		for _, row := range rows {
			if _, err := strconv.ParseFloat(strings.TrimSpace(row[c]), 64); err != nil {
				numeric[c] = false
				break
			}
		}
	}

	ds := &Dataset{
		SampleIDs:   make([]string, len(rows)),
		H:           make([][]float64, len(rows)),
		Annotations: make(map[string][]string),
	}
	var compCols, annCols []int
	for c, h := range header {
		switch {
		case c == idCol:
		case numeric[c]:
			compCols = append(compCols, c)
			ds.Components = append(ds.Components, strings.TrimSpace(h))
		default:
			annCols = append(annCols, c)
			ds.Annotations[strings.TrimSpace(h)] = make([]string, len(rows))
		}
	}
	if len(compCols) == 0 {
		return nil, errors.New("no numeric component columns found")
	}

	for i, row := range rows {
		ds.SampleIDs[i] = strings.TrimSpace(row[idCol])
		h := make([]float64, len(compCols))
		for j, c := range compCols {
			v, _ := strconv.ParseFloat(strings.TrimSpace(row[c]), 64)
			if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("row %d (%s): component %s has invalid activity %v", i+1, ds.SampleIDs[i], ds.Components[j], v)
			}
			h[j] = v
		}
		ds.H[i] = h
		for _, c := range annCols {
			ds.Annotations[strings.TrimSpace(header[c])][i] = strings.TrimSpace(row[c])
		}
	}

	ds.Annotations[CancerTypeAnnotation] = CancerTypes(ds.SampleIDs)
	if err := ds.Validate(); err != nil {
		return nil, err
	}
	return ds, nil
}
