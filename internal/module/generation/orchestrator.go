package generation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Config holds orchestrator configuration.
type Config struct {
	PollInterval time.Duration
	// PollTimeout and MaxPollAttempts bound the poll loop. Zero means unbounded.
	PollTimeout     time.Duration
	MaxPollAttempts int
	DefaultPrompt   string
	Resolution      string
	SampleCount     int
}

// DefaultConfig returns default orchestrator configuration.
func DefaultConfig() *Config {
	return &Config{
		PollInterval:  5 * time.Second,
		DefaultPrompt: DefaultPrompt,
		Resolution:    "1080p",
		SampleCount:   1,
	}
}

// Orchestrator runs generation attempts.
type Orchestrator struct {
	provider Provider
	blobs    BlobStore
	config   *Config
	metrics  Metrics
	logger   *zap.Logger
	now      func() time.Time
}

// NewOrchestrator creates a new orchestrator.
func NewOrchestrator(provider Provider, blobs BlobStore, cfg *Config, metrics Metrics, logger *zap.Logger) *Orchestrator {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.DefaultPrompt == "" {
		cfg.DefaultPrompt = DefaultPrompt
	}
	if cfg.SampleCount <= 0 {
		cfg.SampleCount = 1
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		provider: provider,
		blobs:    blobs,
		config:   cfg,
		metrics:  metrics,
		logger:   logger.Named("generation"),
		now:      time.Now,
	}
}

// Generate encodes the image, submits it, polls the operation until done and
// stores the first generated video. Cancelling ctx stops local polling only;
// the remote operation keeps running.
func (o *Orchestrator) Generate(ctx context.Context, req *Request, onPhase PhaseFunc) (*VideoResult, error) {
	start := o.now()
	result, err := o.generate(ctx, req, onPhase)
	err = reclassify(err)

	outcome := "success"
	if err != nil {
		outcome = string(KindOf(err))
		if outcome == "" {
			outcome = "unknown"
		}
		o.logger.Warn("generation failed", zap.String("kind", outcome), zap.Error(err))
	}
	o.metrics.ObserveGeneration(outcome, o.now().Sub(start))

	return result, err
}

func (o *Orchestrator) generate(ctx context.Context, req *Request, onPhase PhaseFunc) (*VideoResult, error) {
	if req == nil || req.Image == nil {
		return nil, NewError(KindValidation, "Please select an image first.", nil)
	}
	if !req.AspectRatio.IsValid() {
		return nil, NewError(KindValidation, fmt.Sprintf("unsupported aspect ratio %q", req.AspectRatio), nil)
	}
	emit := func(p Phase) {
		if onPhase != nil {
			onPhase(p)
		}
	}

	emit(PhaseUploading)

	image, err := encodeImage(req.Image)
	if err != nil {
		return nil, err
	}

	prompt := EffectivePrompt(req.Prompt, o.config.DefaultPrompt)
	op, err := o.provider.CreateOperation(ctx, &CreateRequest{
		Prompt:      prompt,
		Image:       image,
		AspectRatio: req.AspectRatio,
		SampleCount: o.config.SampleCount,
		Resolution:  o.config.Resolution,
		AccessToken: req.AccessToken,
	})
	if err != nil {
		return nil, o.callError(ctx, "submit generation", err)
	}
	if op == nil {
		return nil, NewError(KindProvider, "provider returned no operation", nil)
	}

	o.logger.Info("operation created",
		zap.String("operation", op.Name),
		zap.String("aspect_ratio", string(req.AspectRatio)),
		zap.Bool("done", op.Done))
	emit(PhaseGenerating)

	op, err = o.poll(ctx, op, req.AccessToken, emit)
	if err != nil {
		return nil, err
	}

	uri, err := videoURI(op)
	if err != nil {
		return nil, err
	}

	emit(PhaseDownloading)

	video, err := o.provider.Download(ctx, uri, req.AccessToken)
	if err != nil {
		return nil, o.downloadError(ctx, err)
	}
	o.metrics.AddDownloadedBytes(len(video.Data))

	mimeType := video.MIMEType
	if mimeType == "" {
		mimeType = "video/mp4"
	}
	handle, err := o.blobs.Put(ctx, video.Data, mimeType)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, NewError(KindCancelled, "generation cancelled", ctxErr)
		}
		return nil, NewError(KindNetwork, "Failed to store video.", err)
	}

	o.logger.Info("video stored",
		zap.String("operation", op.Name),
		zap.String("handle", handle),
		zap.Int("bytes", len(video.Data)))

	return &VideoResult{
		Handle:      handle,
		Prompt:      prompt,
		AspectRatio: req.AspectRatio,
		MIMEType:    mimeType,
		Size:        int64(len(video.Data)),
		CreatedAt:   o.now(),
	}, nil
}

// poll refreshes op every poll interval until it is done.
func (o *Orchestrator) poll(ctx context.Context, op *Operation, accessToken string, emit func(Phase)) (*Operation, error) {
	var deadline <-chan time.Time
	if o.config.PollTimeout > 0 {
		timeout := time.NewTimer(o.config.PollTimeout)
		defer timeout.Stop()
		deadline = timeout.C
	}

	wait := time.NewTimer(o.config.PollInterval)
	defer wait.Stop()

	attempts := 0
	for !op.Done {
		if o.config.MaxPollAttempts > 0 && attempts >= o.config.MaxPollAttempts {
			return nil, NewError(KindTimeout,
				fmt.Sprintf("operation %s not done after %d polls", op.Name, attempts), nil)
		}

		emit(PhasePolling)
		if attempts > 0 {
			wait.Reset(o.config.PollInterval)
		}

		select {
		case <-ctx.Done():
			return nil, NewError(KindCancelled, "generation cancelled", ctx.Err())
		case <-deadline:
			return nil, NewError(KindTimeout,
				fmt.Sprintf("operation %s not done after %s", op.Name, o.config.PollTimeout), nil)
		case <-wait.C:
		}

		attempts++
		o.metrics.IncPoll()

		name := op.Name
		next, err := o.provider.RefreshOperation(ctx, name, accessToken)
		if err != nil {
			return nil, o.callError(ctx, "refresh operation", err)
		}
		if next == nil {
			return nil, NewError(KindProvider, "provider returned no operation", nil)
		}
		if next.Name == "" {
			next.Name = name
		}
		op = next

		o.logger.Debug("operation polled",
			zap.String("operation", op.Name),
			zap.String("state", op.State),
			zap.Int("attempt", attempts),
			zap.Bool("done", op.Done))
	}

	return op, nil
}

// videoURI applies the terminal checks to a finished operation.
func videoURI(op *Operation) (string, error) {
	if op.Error != nil {
		msg := op.Error.Message
		if msg == "" {
			msg = "Video generation failed"
		}
		return "", NewError(KindProvider, msg, nil)
	}
	if len(op.VideoURIs) == 0 || op.VideoURIs[0] == "" {
		return "", NewError(KindProvider, "No video URI returned from the API.", nil)
	}
	return op.VideoURIs[0], nil
}

// callError classifies a failed create or refresh call.
func (o *Orchestrator) callError(ctx context.Context, action string, err error) error {
	var classified *Error
	if errors.As(err, &classified) {
		return err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return NewError(KindCancelled, "generation cancelled", ctxErr)
	}
	return NewError(KindProvider, err.Error(), fmt.Errorf("%s: %w", action, err))
}

// downloadError classifies a failed download.
func (o *Orchestrator) downloadError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return NewError(KindCancelled, "generation cancelled", ctxErr)
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return NewError(KindNetwork, "Failed to download video: "+httpErr.StatusText(), err)
	}
	return NewError(KindNetwork, "Failed to download video: "+err.Error(), err)
}
