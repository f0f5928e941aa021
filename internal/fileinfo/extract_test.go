package fileinfo_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"pipetrack/internal/fileinfo"
)

func TestExtract(t *testing.T) {
	tests := []struct {
		name string
		file string
		want fileinfo.Info
	}{
		{
			name: "natmeg raw",
			file: "NatMEG_0003_raw.fif",
			want: fileinfo.Info{Filename: "NatMEG_0003_raw.fif", Participant: "0003", Extension: ".fif", Datatypes: []string{"raw"}, Rule: "natmeg"},
		},
		{
			name: "unconventional name",
			file: "weirdname.fif",
			want: fileinfo.Info{Filename: "weirdname.fif", Participant: fileinfo.Unknown, Task: "weirdname", Extension: ".fif", Rule: "none"},
		},
		{
			name: "bids entities",
			file: "/bids/sub-0003/ses-01/meg/sub-0003_ses-01_task-AudOdd_run-02_proc-tsss_meg.fif",
			want: fileinfo.Info{
				Filename:    "sub-0003_ses-01_task-AudOdd_run-02_proc-tsss_meg.fif",
				Participant: "0003",
				Session:     "01",
				Task:        "AudOdd",
				Run:         "02",
				Extension:   ".fif",
				Processing:  []string{"tsss"},
				Datatypes:   []string{"meg"},
				Rule:        "bids",
			},
		},
		{
			name: "natmeg processed split",
			file: "NatMEG_0003_AudOdd_raw_tsss_mc-1.fif",
			want: fileinfo.Info{
				Filename:    "NatMEG_0003_AudOdd_raw_tsss_mc-1.fif",
				Participant: "0003",
				Task:        "AudOdd",
				Split:       "1",
				Extension:   ".fif",
				Processing:  []string{"tsss", "mc"},
				Datatypes:   []string{"raw"},
				Rule:        "natmeg",
			},
		},
		{
			name: "multi part task is title cased",
			file: "NatMEG_0012_rest_eyes_open_meg_trans.fif",
			want: fileinfo.Info{
				Filename:    "NatMEG_0012_rest_eyes_open_meg_trans.fif",
				Participant: "0012",
				Task:        "RestEyesOpen",
				Extension:   ".fif",
				Description: []string{"trans"},
				Datatypes:   []string{"meg"},
				Rule:        "natmeg",
			},
		},
		{
			name: "loose prefix",
			file: "sub01_phalanges.fif",
			want: fileinfo.Info{Filename: "sub01_phalanges.fif", Participant: "01", Task: "phalanges", Extension: ".fif", Rule: "prefix"},
		},
		{
			name: "numeric fallback",
			file: "rec_4521_block.fif",
			want: fileinfo.Info{Filename: "rec_4521_block.fif", Participant: "4521", Task: "RecBlock", Extension: ".fif", Rule: "numeric"},
		},
		{
			name: "empty room before",
			file: "empty_room_before.fif",
			want: fileinfo.Info{Filename: "empty_room_before.fif", Participant: fileinfo.Unknown, Task: "NoiseBefore", Extension: ".fif", Rule: "none"},
		},
		{
			name: "noise without timing",
			file: "NatMEG_0003_Noise_raw.fif",
			want: fileinfo.Info{Filename: "NatMEG_0003_Noise_raw.fif", Participant: "0003", Task: "Noise", Extension: ".fif", Datatypes: []string{"raw"}, Rule: "natmeg"},
		},
		{
			name: "opm recording",
			file: "20240312_NatMEG_0007_file-RSEOopm_raw.fif",
			want: fileinfo.Info{Filename: "20240312_NatMEG_0007_file-RSEOopm_raw.fif", Participant: "0007", Task: "RSEO", Extension: ".fif", Datatypes: []string{"raw", "opm"}, Rule: "natmeg"},
		},
		{
			name: "compound extension",
			file: "NatMEG_0003_headpos.pos.txt",
			want: fileinfo.Info{Filename: "NatMEG_0003_headpos.pos.txt", Participant: "0003", Extension: ".txt", Description: []string{"headpos"}, Rule: "natmeg"},
		},
		{
			name: "empty input",
			file: "",
			want: fileinfo.Info{Participant: fileinfo.Unknown, Rule: "none"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := fileinfo.Extract(tc.file)
			if diff := cmp.Diff(tc.want, got, cmpopts.EquateEmpty()); diff != "" {
				t.Fatalf("Extract(%q) mismatch (-want +got):\n%s", tc.file, diff)
			}
		})
	}
}

func TestExtractNeverPanics(t *testing.T) {
	inputs := []string{".", "/", "..", "_", "___.fif", "sub-", "sub-_ses-", "NatMEG_", "-1.fif", "a.b.c.d", "\x00\xff", "sub-01_task-", "sub-01_ses-01"}
	for _, in := range inputs {
		info := fileinfo.Extract(in)
		if info.Participant == "" {
			t.Fatalf("Extract(%q) left participant empty", in)
		}
	}
}

func TestFieldsOmitsUnknownParticipant(t *testing.T) {
	fields := fileinfo.Extract("weirdname.fif").Fields()
	if _, ok := fields["participant"]; ok {
		t.Fatalf("unknown participant leaked into fields: %v", fields)
	}
	fields = fileinfo.Extract("sub-01_ses-02_task-rest_meg.fif").Fields()
	want := map[string]string{"participant": "01", "session": "02", "task": "rest"}
	if diff := cmp.Diff(want, fields); diff != "" {
		t.Fatalf("fields mismatch (-want +got):\n%s", diff)
	}
}
