package domain

import "testing"

func TestByteRange_Contains(t *testing.T) {
	r := ByteRange{Start: 100, Length: 50}
	tests := []struct {
		name  string
		other ByteRange
		want  bool
	}{
		{"inside", ByteRange{Start: 110, Length: 10}, true},
		{"exact", ByteRange{Start: 100, Length: 50}, true},
		{"ends at boundary", ByteRange{Start: 140, Length: 10}, true},
		{"crosses end", ByteRange{Start: 140, Length: 11}, false},
		{"before start", ByteRange{Start: 99, Length: 2}, false},
		{"empty anywhere", ByteRange{Start: 5000, Length: 0}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := r.Contains(tt.other); got != tt.want {
				t.Errorf("Contains(%v) = %v, want %v", tt.other, got, tt.want)
			}
		})
	}
}

func TestByteRange_Touches(t *testing.T) {
	r := ByteRange{Start: 10, Length: 10}
	tests := []struct {
		name  string
		other ByteRange
		want  bool
	}{
		{"adjacent after", ByteRange{Start: 20, Length: 5}, true},
		{"adjacent before", ByteRange{Start: 5, Length: 5}, true},
		{"overlap", ByteRange{Start: 15, Length: 10}, true},
		{"gap after", ByteRange{Start: 21, Length: 5}, false},
		{"gap before", ByteRange{Start: 0, Length: 9}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := r.Touches(tt.other); got != tt.want {
				t.Errorf("Touches(%v) = %v, want %v", tt.other, got, tt.want)
			}
		})
	}
}

func TestByteRange_Clip(t *testing.T) {
	tests := []struct {
		name  string
		r     ByteRange
		limit int64
		want  ByteRange
	}{
		{"unknown limit", ByteRange{Start: 5, Length: 10}, UnknownLength, ByteRange{Start: 5, Length: 10}},
		{"inside", ByteRange{Start: 5, Length: 10}, 100, ByteRange{Start: 5, Length: 10}},
		{"crosses", ByteRange{Start: 90, Length: 20}, 100, ByteRange{Start: 90, Length: 10}},
		{"beyond", ByteRange{Start: 120, Length: 20}, 100, ByteRange{Start: 100, Length: 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.r.Clip(tt.limit); got != tt.want {
				t.Errorf("Clip(%d) = %v, want %v", tt.limit, got, tt.want)
			}
		})
	}
}

func TestTypeHintFor(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		path        string
		want        TypeHint
	}{
		{"content type wins", "audio/flac", "/a.mp3", TypeFLAC},
		{"content type with params", "audio/mpeg; charset=binary", "", TypeMP3},
		{"falls back to extension", "application/octet-stream", "/music/track.M4A", TypeM4A},
		{"query stripped", "", "/x/song.ogg?token=1", TypeOgg},
		{"unknown", "text/plain", "/readme", TypeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TypeHintFor(tt.contentType, tt.path); got != tt.want {
				t.Errorf("TypeHintFor(%q, %q) = %v, want %v", tt.contentType, tt.path, got, tt.want)
			}
		})
	}
}

func TestTypeHint_MIMEType(t *testing.T) {
	tests := []struct {
		hint TypeHint
		want string
	}{
		{TypeMP3, "audio/mpeg"},
		{TypeFLAC, "audio/flac"},
		{TypeUnknown, "application/octet-stream"},
	}

	for _, tt := range tests {
		if got := tt.hint.MIMEType(); got != tt.want {
			t.Errorf("%v.MIMEType() = %q, want %q", tt.hint, got, tt.want)
		}
	}
}
