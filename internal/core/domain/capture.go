package domain

type CursorMode string

const (
	CursorAlways CursorMode = "always"
	CursorMotion CursorMode = "motion"
	CursorNever  CursorMode = "never"
)

// CaptureProfile is the constraint set requested from the capture device.
type CaptureProfile struct {
	IdealWidth     int
	IdealHeight    int
	IdealFrameRate int
	Cursor         CursorMode
	Audio          bool
}

// DefaultCaptureProfile returns 1920x1080 at 30fps, cursor always shown, no audio.
func DefaultCaptureProfile() CaptureProfile {
	return CaptureProfile{
		IdealWidth:     1920,
		IdealHeight:    1080,
		IdealFrameRate: 30,
		Cursor:         CursorAlways,
		Audio:          false,
	}
}

type idealValue struct {
	Ideal int `json:"ideal"`
}

type videoConstraints struct {
	Width     idealValue `json:"width"`
	Height    idealValue `json:"height"`
	FrameRate idealValue `json:"frameRate"`
	Cursor    CursorMode `json:"cursor"`
}

// DisplayMediaConstraints mirrors the getDisplayMedia constraint object a
// browser endpoint passes to the capture device.
type DisplayMediaConstraints struct {
	Video videoConstraints `json:"video"`
	Audio bool             `json:"audio"`
}

func (p CaptureProfile) DisplayMediaConstraints() DisplayMediaConstraints {
	return DisplayMediaConstraints{
		Video: videoConstraints{
			Width:     idealValue{Ideal: p.IdealWidth},
			Height:    idealValue{Ideal: p.IdealHeight},
			FrameRate: idealValue{Ideal: p.IdealFrameRate},
			Cursor:    p.Cursor,
		},
		Audio: p.Audio,
	}
}
