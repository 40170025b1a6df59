package leaderboard

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"
)

// TimeLayout is the timestamp format of the high-score file.
const TimeLayout = "2006-01-02 15:04:05"

const numColumns = 9

// Record is one finished session. Velocities are in m/s.
type Record struct {
	Name    string    `json:"name"`
	VMax    float64   `json:"vmax"`
	VAvg    float64   `json:"vavg"`
	CBest   float64   `json:"cbest"`
	PctBest float64   `json:"pctbest"`
	CAvg    float64   `json:"cavg"`
	CStd    float64   `json:"cstd"`
	Start   time.Time `json:"dtstart"`
	End     time.Time `json:"dtend"`
}

func (r Record) columns() []string {
	return []string{
		r.Name,
		formatFloat(r.VMax),
		formatFloat(r.VAvg),
		formatFloat(r.CBest),
		formatFloat(r.PctBest),
		formatFloat(r.CAvg),
		formatFloat(r.CStd),
		r.Start.Format(TimeLayout),
		r.End.Format(TimeLayout),
	}
}

func parseRecord(row []string) (Record, error) {
	if len(row) != numColumns {
		return Record{}, fmt.Errorf("expected %d columns, got %d", numColumns, len(row))
	}

	r := Record{Name: row[0]}
	floats := []*float64{&r.VMax, &r.VAvg, &r.CBest, &r.PctBest, &r.CAvg, &r.CStd}
	for i, dst := range floats {
		v, err := strconv.ParseFloat(row[i+1], 64)
		if err != nil {
			return Record{}, err
		}
		*dst = v
	}

	var err error
	if r.Start, err = time.ParseInLocation(TimeLayout, row[7], time.Local); err != nil {
		return Record{}, err
	}
	if r.End, err = time.ParseInLocation(TimeLayout, row[8], time.Local); err != nil {
		return Record{}, err
	}
	return r, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// SortRecords orders by best deviation, closest to c first.
func SortRecords(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].PctBest < records[j].PctBest
	})
}

// Store is the high-score CSV file. The file has no header row.
type Store struct {
	path string
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

func (s *Store) Path() string {
	return s.path
}

// Load reads every record. A missing file is an empty table.
func (s *Store) Load() ([]Record, error) {
	f, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return ReadRecords(f)
}

// ReadRecords parses high-score rows from r.
func ReadRecords(r io.Reader) ([]Record, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	var ret []Record
	for line := 1; ; line++ {
		row, err := reader.Read()
		if err == io.EOF {
			return ret, nil
		}
		if err != nil {
			return nil, err
		}
		rec, err := parseRecord(row)
		if err != nil {
			return nil, fmt.Errorf("highscore line %d: %w", line, err)
		}
		ret = append(ret, rec)
	}
}

// Save rewrites the whole file. The table is written to a temporary file
// first and renamed over the old one.
func (s *Store) Save(records []Record) error {
	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := WriteRecords(tmp, records); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}

func WriteRecords(w io.Writer, records []Record) error {
	writer := csv.NewWriter(w)
	for _, r := range records {
		if err := writer.Write(r.columns()); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// Row is a record formatted for display.
func (r Record) Row() []string {
	return []string{
		r.Start.Format(TimeLayout),
		r.End.Format(TimeLayout),
		r.Name,
		fmt.Sprintf("%s km/h", formatFloat(round(r.VMax*3.6, 2))),
		fmt.Sprintf("%s km/h", formatFloat(round(r.VAvg*3.6, 2))),
		fmt.Sprintf("%0.3e m/s", r.CBest),
		fmt.Sprintf("%s %%", formatFloat(round(r.PctBest, 4))),
		fmt.Sprintf("%0.3e m/s", r.CAvg),
		fmt.Sprintf("%0.3e m/s", r.CStd),
	}
}

func round(v float64, digits int) float64 {
	p := math.Pow(10, float64(digits))
	return math.Round(v*p) / p
}

var headers = map[string][]string{
	"en": {"Start", "End", "Name", "Max. velocity", "Avg. velocity", "Best speed of light", "Best deviation", "Avg. speed of light", "Std. deviation"},
	"de": {"Start", "Ende", "Name", "Max. Geschwindigkeit", "Mittl. Geschwindigkeit", "Beste Lichtgeschwindigkeit", "Beste Abweichung", "Mittl. Lichtgeschwindigkeit", "Standardabweichung"},
}

// Headers returns the table headings for lang, falling back to English.
func Headers(lang string) []string {
	if h, ok := headers[lang]; ok {
		return h
	}
	return headers["en"]
}
