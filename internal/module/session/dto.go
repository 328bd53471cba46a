package session

import "time"

// View is a snapshot of a session for presentation.
type View struct {
	ID             string      `json:"id"`
	Status         Status      `json:"status"`
	Busy           bool        `json:"busy"`
	CanGenerate    bool        `json:"can_generate"`
	Authenticated  bool        `json:"authenticated"`
	OverlayMessage string      `json:"overlay_message,omitempty"`
	OverlayHint    string      `json:"overlay_hint,omitempty"`
	Error          string      `json:"error,omitempty"`
	ErrorKind      string      `json:"error_kind,omitempty"`
	Prompt         string      `json:"prompt"`
	AspectRatio    string      `json:"aspect_ratio"`
	Image          *ImageInfo  `json:"image,omitempty"`
	Result         *ResultInfo `json:"result,omitempty"`
}

// ImageInfo describes the selected image.
type ImageInfo struct {
	FileName string `json:"file_name"`
	MIMEType string `json:"mime_type"`
	Size     int    `json:"size"`
}

// ResultInfo describes the generated video.
type ResultInfo struct {
	Prompt      string    `json:"prompt"`
	AspectRatio string    `json:"aspect_ratio"`
	MIMEType    string    `json:"mime_type"`
	Size        int64     `json:"size"`
	CreatedAt   time.Time `json:"created_at"`
}
