package legacy

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// conversionRow is one line of a bids conversion table.
type conversionRow struct {
	RawPath       string
	BIDSPath      string
	RunConversion string
	Participant   string
	Session       string
	Task          string
	Acquisition   string
	Datatype      string
	TaskFlag      string
}

var requiredConversionColumns = []string{"raw_path", "raw_name"}

// latestConversionLog returns the most recently modified .tsv in dir, or ""
// when there is none.
func latestConversionLog(dir string) (string, error) {
	if strings.TrimSpace(dir) == "" {
		return "", nil
	}
	matches, err := filepath.Glob(filepath.Join(dir, "*.tsv"))
	if err != nil {
		return "", err
	}
	var (
		latest string
		newest int64
	)
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil || info.IsDir() {
			continue
		}
		if mt := info.ModTime().UnixNano(); latest == "" || mt > newest || (mt == newest && m > latest) {
			latest, newest = m, mt
		}
	}
	return latest, nil
}

func parseConversionLog(r io.Reader) ([]conversionRow, error) {
	reader := csv.NewReader(r)
	reader.Comma = '\t'
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("read conversion header: %w", err)
	}
	columns := map[string]int{}
	for i, name := range header {
		columns[strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))] = i
	}
	for _, col := range requiredConversionColumns {
		if _, ok := columns[col]; !ok {
			return nil, fmt.Errorf("conversion log is missing column %q", col)
		}
	}

	var rows []conversionRow
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read conversion row: %w", err)
		}
		field := func(name string) string {
			idx, ok := columns[name]
			if !ok || idx >= len(record) {
				return ""
			}
			value := strings.TrimSpace(record[idx])
			if strings.EqualFold(value, "nan") || strings.EqualFold(value, "n/a") {
				return ""
			}
			return value
		}
		rawName := field("raw_name")
		if rawName == "" {
			continue
		}
		row := conversionRow{
			RawPath:       filepath.Join(field("raw_path"), rawName),
			RunConversion: strings.ToLower(field("run_conversion")),
			Participant:   field("participant_to"),
			Session:       field("session_to"),
			Task:          field("task"),
			Acquisition:   field("acquisition"),
			Datatype:      field("datatype"),
			TaskFlag:      field("task_flag"),
		}
		if name := field("bids_name"); name != "" {
			row.BIDSPath = filepath.Join(field("bids_path"), name)
		}
		if row.TaskFlag == "" {
			row.TaskFlag = "ok"
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// converted reports whether the row describes a finished conversion. The
// scripts mark already converted rows with run_conversion=no.
func (r conversionRow) converted() bool {
	return r.RunConversion == "no"
}

func (r conversionRow) key() string {
	return strings.Join([]string{"bidsify", r.RawPath, r.BIDSPath}, "\x1f")
}

func (r conversionRow) metadata() map[string]string {
	md := map[string]string{"task_flag": r.TaskFlag}
	set := func(key, value string) {
		if value != "" {
			md[key] = value
		}
	}
	set("participant", r.Participant)
	set("session", r.Session)
	set("task", r.Task)
	set("acquisition", r.Acquisition)
	set("datatype", r.Datatype)
	return md
}
