package models

import "testing"

func TestStatusAtLeast(t *testing.T) {
	tests := []struct {
		name   string
		status Status
		target Status
		want   bool
	}{
		{"pending does not satisfy exported", StatusPending, StatusExported, false},
		{"exported satisfies exported", StatusExported, StatusExported, true},
		{"uploaded satisfies converted", StatusUploaded, StatusConverted, true},
		{"converted does not satisfy uploaded", StatusConverted, StatusUploaded, false},
		{"failed satisfies nothing", StatusFailed, StatusExported, false},
		{"failed does not satisfy pending", StatusFailed, StatusPending, false},
		{"unknown status satisfies nothing", Status("bogus"), StatusExported, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.status.AtLeast(tt.target); got != tt.want {
				t.Errorf("Status(%q).AtLeast(%q) = %v, want %v", tt.status, tt.target, got, tt.want)
			}
		})
	}
}

func TestAttachmentIsImage(t *testing.T) {
	tests := []struct {
		name      string
		mediaType string
		want      bool
	}{
		{"png", "image/png", true},
		{"svg", "image/svg+xml", true},
		{"video wrapped in image markup", "video/mp4", false},
		{"audio", "audio/mpeg", false},
		{"pdf", "application/pdf", false},
		{"empty media type", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := Attachment{Filename: "file.bin", MediaType: tt.mediaType}
			if got := a.IsImage(); got != tt.want {
				t.Errorf("IsImage() with %q = %v, want %v", tt.mediaType, got, tt.want)
			}
		})
	}
}

func TestPageRecordFail(t *testing.T) {
	rec := NewPageRecord("123", "Broken Page", "SP", "", false)
	if rec.Status != StatusPending {
		t.Fatalf("new record status = %q, want pending", rec.Status)
	}

	rec.Fail(errFake("boom"))
	if rec.Status != StatusFailed {
		t.Errorf("status after Fail = %q, want failed", rec.Status)
	}
	if rec.Error != "boom" {
		t.Errorf("error after Fail = %q, want %q", rec.Error, "boom")
	}
}

type errFake string

func (e errFake) Error() string { return string(e) }
