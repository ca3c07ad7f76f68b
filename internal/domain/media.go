package domain

type MediaKind string

const (
	KindAudio MediaKind = "audio"
	KindVideo MediaKind = "video"
)

// Source is a local capture device.
type Source int

const (
	SourceMicrophone Source = iota
	SourceCamera
	SourceScreen
)

func (s Source) String() string {
	switch s {
	case SourceMicrophone:
		return "microphone"
	case SourceCamera:
		return "camera"
	case SourceScreen:
		return "screen"
	}
	return "unknown"
}

// Kind reports which outgoing slot the source occupies. Camera and screen
// compete for the same video slot.
func (s Source) Kind() MediaKind {
	if s == SourceMicrophone {
		return KindAudio
	}
	return KindVideo
}

// LocalMediaState never has VideoEnabled and ScreenSharing both set.
type LocalMediaState struct {
	AudioEnabled  bool `json:"audioEnabled"`
	VideoEnabled  bool `json:"videoEnabled"`
	ScreenSharing bool `json:"screenSharing"`
}

// SendsVideo reports whether anything occupies the outgoing video slot.
func (s LocalMediaState) SendsVideo() bool { return s.VideoEnabled || s.ScreenSharing }
