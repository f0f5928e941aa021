package legacy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// fileList accepts either a single path or a list of paths.
type fileList []string

func (l *fileList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*l = nil
		return nil
	}
	if data[0] == '[' {
		var values []string
		if err := json.Unmarshal(data, &values); err != nil {
			return err
		}
		*l = compact(values)
		return nil
	}
	var value string
	if err := json.Unmarshal(data, &value); err != nil {
		return err
	}
	*l = compact([]string{value})
	return nil
}

// copyRow is one entry of copy_results.json.
type copyRow struct {
	OriginalFile   string   `json:"Original File"`
	CopyDate       string   `json:"Copy Date"`
	CopyTime       string   `json:"Copy Time"`
	NewFiles       fileList `json:"New file(s)"`
	TransferStatus string   `json:"Transfer status"`
	Message        string   `json:"message"`
	Timestamp      string   `json:"timestamp"`
}

func parseCopyResults(data []byte) ([]copyRow, error) {
	var rows []copyRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("decode copy ledger: %w", err)
	}
	return rows, nil
}

// key identifies the row for deterministic operation ids.
func (r copyRow) key() string {
	return strings.Join([]string{"copy", r.OriginalFile, strings.Join(r.NewFiles, "|"), r.CopyDate, r.CopyTime, r.Timestamp}, "\x1f")
}

func (r copyRow) failed() bool {
	status := strings.ToLower(r.TransferStatus)
	return strings.Contains(status, "fail") || strings.Contains(status, "error")
}

func (r copyRow) metadata() map[string]string {
	md := map[string]string{}
	set := func(key, value string) {
		if v := strings.TrimSpace(value); v != "" {
			md[key] = v
		}
	}
	set("copy_date", r.CopyDate)
	set("copy_time", r.CopyTime)
	set("transfer_status", r.TransferStatus)
	return md
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05.999999",
	"2006-01-02 15:04:05",
	"20060102_150405",
}

// startedAt returns the best timestamp the row carries, or zero.
func (r copyRow) startedAt() time.Time {
	candidates := []string{strings.TrimSpace(r.Timestamp)}
	if r.CopyDate != "" {
		candidates = append(candidates, strings.TrimSpace(r.CopyDate+" "+r.CopyTime))
	}
	for _, candidate := range candidates {
		if candidate == "" {
			continue
		}
		for _, layout := range timestampLayouts {
			if t, err := time.ParseInLocation(layout, candidate, time.Local); err == nil {
				return t
			}
		}
	}
	return time.Time{}
}

func compact(values []string) []string {
	out := values[:0]
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
