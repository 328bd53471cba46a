// Package session holds the per-browser state of the animator and maps
// generation outcomes onto a finite status model.
package session

import (
	"context"
	"errors"

	"github.com/veoanimator/server/internal/module/generation"
)

// Status is the generation status shown to the user.
type Status string

const (
	StatusIdle        Status = "idle"
	StatusUploading   Status = "uploading"
	StatusGenerating  Status = "generating"
	StatusPolling     Status = "polling"
	StatusDownloading Status = "downloading"
	StatusSuccess     Status = "success"
	StatusError       Status = "error"
)

// IsBusy reports whether a generation attempt is in flight.
func (s Status) IsBusy() bool {
	switch s {
	case StatusIdle, StatusSuccess, StatusError:
		return false
	default:
		return true
	}
}

// rank orders the busy statuses of one attempt.
func (s Status) rank() int {
	switch s {
	case StatusUploading:
		return 1
	case StatusGenerating:
		return 2
	case StatusPolling:
		return 3
	case StatusDownloading:
		return 4
	default:
		return 0
	}
}

func statusForPhase(p generation.Phase) Status {
	switch p {
	case generation.PhaseUploading:
		return StatusUploading
	case generation.PhaseGenerating:
		return StatusGenerating
	case generation.PhasePolling:
		return StatusPolling
	case generation.PhaseDownloading:
		return StatusDownloading
	default:
		return ""
	}
}

// User facing messages.
const (
	SamplePrompt = "DM Madam, dressed as a bride, reached the police station at midnight. Cinematic lighting, high drama, moody atmosphere."

	MsgSelectImage    = "Please select an image first."
	MsgSessionExpired = "Session expired or invalid key. Please reconnect."
	MsgGenericFailure = "Something went wrong during generation."
	MsgConnectFailed  = "Failed to connect API key."
	OverlayHint       = "Veo generation can take 1-2 minutes."
)

// OverlayMessages rotate while a generation is running.
var OverlayMessages = []string{
	"Analyzing image composition...",
	"Dreaming up movement...",
	"Consulting the director...",
	"Rendering pixels...",
	"Applying cinematic lighting...",
	"Finalizing the cut...",
	"Polishing the frames...",
}

var (
	ErrBusy                = errors.New("a generation is already in progress")
	ErrUnauthenticated     = errors.New("no API key connected")
	ErrNoResult            = errors.New("no video generated yet")
	ErrSessionNotFound     = errors.New("session not found")
	ErrKeyEntryUnsupported = errors.New("this deployment does not accept API keys from the browser")
)

// CredentialCapability is the host provided credential flow.
type CredentialCapability interface {
	HasSelectedCredential(ctx context.Context) (bool, error)
	// OpenCredentialSelector runs the interactive selection. Returning
	// without error is taken as success.
	OpenCredentialSelector(ctx context.Context) error
	AccessToken(ctx context.Context) (string, error)
}

// Releaser is implemented by capabilities holding per-session secrets.
type Releaser interface {
	Release(ctx context.Context) error
}

// Stager is implemented by capabilities that accept a key typed by the user.
type Stager interface {
	Stage(ctx context.Context, key string) error
}

// Generator runs one generation attempt.
type Generator interface {
	Generate(ctx context.Context, req *generation.Request, onPhase generation.PhaseFunc) (*generation.VideoResult, error)
}
