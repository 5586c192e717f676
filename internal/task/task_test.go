package task

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestParseStatus(t *testing.T) {
	tests := []struct {
		name    string
		tag     string
		want    Status
		wantErr bool
	}{
		{name: "new", tag: "NEW", want: StatusNew},
		{name: "in progress", tag: "IN_PROGRESS", want: StatusInProgress},
		{name: "done", tag: "DONE", want: StatusDone},
		{name: "lower case is rejected", tag: "new", wantErr: true},
		{name: "empty is rejected", tag: "", wantErr: true},
		{name: "unknown tag", tag: "ARCHIVED", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseStatus(tt.tag)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalid) {
					t.Errorf("ParseStatus(%q) error = %v, want ErrInvalid", tt.tag, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseStatus(%q) unexpected error: %v", tt.tag, err)
			}
			if got != tt.want {
				t.Errorf("ParseStatus(%q) = %q, want %q", tt.tag, got, tt.want)
			}
		})
	}
}

func TestStatusesAreValid(t *testing.T) {
	for _, s := range Statuses {
		if !s.Valid() {
			t.Errorf("Status(%q).Valid() = false", s)
		}
	}
}

func TestInputValidate(t *testing.T) {
	tests := []struct {
		name    string
		in      Input
		wantErr bool
	}{
		{name: "minimal", in: Input{Title: "write report"}},
		{name: "full", in: Input{Title: "write report", Description: "q3", UserID: 7, Status: StatusDone}},
		{name: "missing title", in: Input{Status: StatusNew}, wantErr: true},
		{name: "blank title", in: Input{Title: "   "}, wantErr: true},
		{name: "bad status", in: Input{Title: "x", Status: "PAUSED"}, wantErr: true},
		{name: "negative owner", in: Input{Title: "x", UserID: -1}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.in.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalid) {
				t.Errorf("Validate() error = %v, want wrapped ErrInvalid", err)
			}
		})
	}
}

func TestTaskApply(t *testing.T) {
	tk := Task{ID: 42, Title: "old", Description: "old desc", UserID: 1, Status: StatusNew}
	tk.Apply(Input{Title: "new", Description: "", UserID: 2, Status: StatusInProgress})

	if tk.ID != 42 {
		t.Errorf("Apply() changed ID to %d", tk.ID)
	}
	if tk.Title != "new" || tk.Description != "" || tk.UserID != 2 || tk.Status != StatusInProgress {
		t.Errorf("Apply() = %+v, fields not overwritten", tk)
	}
}

func TestTaskJSONTimestamps(t *testing.T) {
	tests := []struct {
		name     string
		in       Task
		wantKeys bool
	}{
		{name: "unsaved task omits timestamps", in: Task{Title: "draft", Status: StatusNew}},
		{name: "saved task carries timestamps", in: Task{ID: 1, Title: "x", Status: StatusDone, CreatedAt: time.Unix(1700000000, 0).UTC(), UpdatedAt: time.Unix(1700000060, 0).UTC()}, wantKeys: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := json.Marshal(tt.in)
			if err != nil {
				t.Fatalf("Marshal: %v", err)
			}
			for _, key := range []string{`"created_at"`, `"updated_at"`} {
				if got := strings.Contains(string(b), key); got != tt.wantKeys {
					t.Errorf("%s present = %v, want %v in %s", key, got, tt.wantKeys, b)
				}
			}
		})
	}
}
