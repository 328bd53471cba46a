// Package generation drives a single image-to-video job against a remote
// long-running-operation provider: encode, submit, poll, download.
package generation

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// DefaultPrompt is submitted when the user leaves the prompt blank.
const DefaultPrompt = "Animate this image cinematically."

// AspectRatio is the target shape of the output video.
type AspectRatio string

const (
	AspectLandscape AspectRatio = "16:9"
	AspectPortrait  AspectRatio = "9:16"
)

// IsValid reports whether a is one of the supported presets.
func (a AspectRatio) IsValid() bool {
	return a == AspectLandscape || a == AspectPortrait
}

// ParseAspectRatio parses a user supplied aspect ratio.
func ParseAspectRatio(s string) (AspectRatio, error) {
	a := AspectRatio(strings.TrimSpace(s))
	if !a.IsValid() {
		return "", NewError(KindValidation, fmt.Sprintf("unsupported aspect ratio %q", s), nil)
	}
	return a, nil
}

// Phase is a progress tag emitted by the orchestrator.
type Phase string

const (
	PhaseUploading   Phase = "uploading"
	PhaseGenerating  Phase = "generating"
	PhasePolling     Phase = "polling"
	PhaseDownloading Phase = "downloading"
)

// Order returns the position of p in the pipeline.
func (p Phase) Order() int {
	switch p {
	case PhaseUploading:
		return 1
	case PhaseGenerating:
		return 2
	case PhasePolling:
		return 3
	case PhaseDownloading:
		return 4
	default:
		return 0
	}
}

// PhaseFunc observes phase transitions. It is called synchronously.
type PhaseFunc func(Phase)

// ImageAsset is an uploaded reference image.
type ImageAsset struct {
	Data     []byte
	MIMEType string
	FileName string
}

// Size returns the payload size in bytes.
func (a *ImageAsset) Size() int {
	if a == nil {
		return 0
	}
	return len(a.Data)
}

// Request is one generation attempt.
type Request struct {
	Image       *ImageAsset
	Prompt      string
	AspectRatio AspectRatio
	// AccessToken is appended to provider calls. Empty uses the provider default.
	AccessToken string
}

// EffectivePrompt returns prompt, or fallback when prompt is blank.
func EffectivePrompt(prompt, fallback string) string {
	if strings.TrimSpace(prompt) == "" {
		return fallback
	}
	return prompt
}

// EncodedImage is the transport form of an ImageAsset.
type EncodedImage struct {
	Base64   string
	MIMEType string
}

// CreateRequest is sent to the provider to start an operation.
type CreateRequest struct {
	Prompt      string
	Image       EncodedImage
	AspectRatio AspectRatio
	SampleCount int
	Resolution  string
	AccessToken string
}

// Operation is the provider's handle for a long-running job.
type Operation struct {
	Name  string
	Done  bool
	State string // provider reported progress, informational only
	Error *OperationError
	// VideoURIs lists generated samples once Done.
	VideoURIs []string
}

// OperationError is the error payload of a finished operation.
type OperationError struct {
	Code    int
	Message string
	Status  string
}

// Video is downloaded video content.
type Video struct {
	Data     []byte
	MIMEType string
}

// VideoResult references a downloaded video kept in the blob store.
type VideoResult struct {
	Handle      string
	Prompt      string
	AspectRatio AspectRatio
	MIMEType    string
	Size        int64
	CreatedAt   time.Time
}

// Blob is a stored object.
type Blob struct {
	Handle   string
	Data     []byte
	MIMEType string
}

// Provider is the remote video generation service.
type Provider interface {
	CreateOperation(ctx context.Context, req *CreateRequest) (*Operation, error)
	RefreshOperation(ctx context.Context, name, accessToken string) (*Operation, error)
	Download(ctx context.Context, uri, accessToken string) (*Video, error)
}

// BlobStore keeps downloaded videos addressable by handle.
type BlobStore interface {
	Put(ctx context.Context, data []byte, mimeType string) (string, error)
	Get(ctx context.Context, handle string) (*Blob, error)
	Delete(ctx context.Context, handle string) error
}

// Metrics receives generation telemetry.
type Metrics interface {
	ObserveGeneration(outcome string, duration time.Duration)
	IncPoll()
	AddDownloadedBytes(n int)
}

type nopMetrics struct{}

func (nopMetrics) ObserveGeneration(string, time.Duration) {}
func (nopMetrics) IncPoll()                                {}
func (nopMetrics) AddDownloadedBytes(int)                  {}
