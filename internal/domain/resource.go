package domain

import (
	"mime"
	"path"
	"strings"
)

// ProviderStatus is the lifecycle state of a resource download as seen by consumers.
type ProviderStatus int

const (
	StatusReady ProviderStatus = iota
	StatusFinished
	StatusFailed
)

func (s ProviderStatus) String() string {
	switch s {
	case StatusReady:
		return "ready"
	case StatusFinished:
		return "finished"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// SessionState is the state of a single bounded network request.
type SessionState int

const (
	SessionConnecting SessionState = iota
	SessionStreaming
	SessionCompleted
	SessionCancelled
	SessionFailed
)

func (s SessionState) String() string {
	switch s {
	case SessionConnecting:
		return "connecting"
	case SessionStreaming:
		return "streaming"
	case SessionCompleted:
		return "completed"
	case SessionCancelled:
		return "cancelled"
	case SessionFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether no more callbacks are expected for the session.
func (s SessionState) IsTerminal() bool {
	return s == SessionCompleted || s == SessionCancelled || s == SessionFailed
}

// TypeHint identifies the container format of a resource for the decoder.
type TypeHint int32

const (
	TypeUnknown TypeHint = iota
	TypeMP3
	TypeAAC
	TypeM4A
	TypeFLAC
	TypeWAVE
	TypeAIFF
	TypeOgg
	TypeCAF
)

var typeHintNames = map[TypeHint]string{
	TypeUnknown: "unknown",
	TypeMP3:     "mp3",
	TypeAAC:     "aac",
	TypeM4A:     "m4a",
	TypeFLAC:    "flac",
	TypeWAVE:    "wav",
	TypeAIFF:    "aiff",
	TypeOgg:     "ogg",
	TypeCAF:     "caf",
}

func (h TypeHint) String() string {
	if name, ok := typeHintNames[h]; ok {
		return name
	}
	return "unknown"
}

var typeHintMIME = map[TypeHint]string{
	TypeMP3:  "audio/mpeg",
	TypeAAC:  "audio/aac",
	TypeM4A:  "audio/mp4",
	TypeFLAC: "audio/flac",
	TypeWAVE: "audio/wav",
	TypeAIFF: "audio/aiff",
	TypeOgg:  "audio/ogg",
	TypeCAF:  "audio/x-caf",
}

// MIMEType returns the canonical media type of the format.
func (h TypeHint) MIMEType() string {
	if mt, ok := typeHintMIME[h]; ok {
		return mt
	}
	return "application/octet-stream"
}

var mimeTypeHints = map[string]TypeHint{
	"audio/mpeg":      TypeMP3,
	"audio/mp3":       TypeMP3,
	"audio/aac":       TypeAAC,
	"audio/aacp":      TypeAAC,
	"audio/mp4":       TypeM4A,
	"audio/x-m4a":     TypeM4A,
	"audio/flac":      TypeFLAC,
	"audio/x-flac":    TypeFLAC,
	"audio/wav":       TypeWAVE,
	"audio/x-wav":     TypeWAVE,
	"audio/wave":      TypeWAVE,
	"audio/aiff":      TypeAIFF,
	"audio/x-aiff":    TypeAIFF,
	"audio/ogg":       TypeOgg,
	"application/ogg": TypeOgg,
	"audio/x-caf":     TypeCAF,
}

var extensionTypeHints = map[string]TypeHint{
	".mp3":  TypeMP3,
	".aac":  TypeAAC,
	".m4a":  TypeM4A,
	".mp4":  TypeM4A,
	".flac": TypeFLAC,
	".wav":  TypeWAVE,
	".aif":  TypeAIFF,
	".aiff": TypeAIFF,
	".ogg":  TypeOgg,
	".oga":  TypeOgg,
	".caf":  TypeCAF,
}

// TypeHintFor derives a type hint from the response content type, falling
// back to the extension of the resource path.
func TypeHintFor(contentType, resourcePath string) TypeHint {
	if contentType != "" {
		if mt, _, err := mime.ParseMediaType(contentType); err == nil {
			if hint, ok := mimeTypeHints[strings.ToLower(mt)]; ok {
				return hint
			}
		}
	}
	ext := strings.ToLower(path.Ext(resourcePath))
	if i := strings.IndexAny(ext, "?#"); i >= 0 {
		ext = ext[:i]
	}
	if hint, ok := extensionTypeHints[ext]; ok {
		return hint
	}
	return TypeUnknown
}
