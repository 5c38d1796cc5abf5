package gcs

import "testing"

func TestParseURI(t *testing.T) {
	tests := []struct {
		uri     string
		bucket  string
		object  string
		wantErr bool
	}{
		{"gs://bucket/reports/run.json", "bucket", "reports/run.json", false},
		{"gs://bucket/file", "bucket", "file", false},
		{"gs://bucket", "", "", true},
		{"gs://bucket/", "", "", true},
		{"/local/path.json", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			bucket, object, err := ParseURI(tt.uri)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseURI(%q) error = %v, wantErr %v", tt.uri, err, tt.wantErr)
			}
			if bucket != tt.bucket || object != tt.object {
				t.Errorf("ParseURI(%q) = %q, %q", tt.uri, bucket, object)
			}
		})
	}
}

func TestFilename(t *testing.T) {
	if got := Filename("gs://bucket/folder/file.json"); got != "file.json" {
		t.Errorf("Filename = %q, want file.json", got)
	}
	if got := Filename("gs://bucket"); got != "bucket" {
		t.Errorf("Filename = %q, want bucket", got)
	}
}
