package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/veoanimator/server/internal/module/generation"
)

// ControllerConfig holds controller configuration.
type ControllerConfig struct {
	// MessageInterval is how often the overlay message rotates.
	MessageInterval time.Duration
	// CleanupTimeout bounds blob deletions done after a request returns.
	CleanupTimeout time.Duration
}

// DefaultControllerConfig returns default controller configuration.
func DefaultControllerConfig() *ControllerConfig {
	return &ControllerConfig{
		MessageInterval: 4 * time.Second,
		CleanupTimeout:  30 * time.Second,
	}
}

// Controller owns the state of one browser session. At most one generation
// attempt runs at a time; its completion is applied only if no reset or newer
// attempt happened in between.
type Controller struct {
	id         string
	capability CredentialCapability
	generator  Generator
	blobs      generation.BlobStore
	config     *ControllerConfig
	logger     *zap.Logger
	now        func() time.Time

	mu            sync.Mutex
	authenticated bool
	image         *generation.ImageAsset
	prompt        string
	aspectRatio   generation.AspectRatio
	status        Status
	errMsg        string
	errKind       generation.Kind
	result        *generation.VideoResult
	attempt       uint64
	cancel        context.CancelFunc
	rotationStart time.Time

	wg sync.WaitGroup
}

// NewController creates a controller in the idle state.
func NewController(id string, capability CredentialCapability, generator Generator, blobs generation.BlobStore, cfg *ControllerConfig, logger *zap.Logger) *Controller {
	if cfg == nil {
		cfg = DefaultControllerConfig()
	}
	if cfg.MessageInterval <= 0 {
		cfg.MessageInterval = 4 * time.Second
	}
	if cfg.CleanupTimeout <= 0 {
		cfg.CleanupTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		id:          id,
		capability:  capability,
		generator:   generator,
		blobs:       blobs,
		config:      cfg,
		logger:      logger.Named("session").With(zap.String("session_id", id)),
		now:         time.Now,
		aspectRatio: generation.AspectLandscape,
		status:      StatusIdle,
	}
}

// ID returns the session id.
func (c *Controller) ID() string {
	return c.id
}

// CheckAuth asks the capability whether a credential is already selected.
// Failures are logged and leave the session unauthenticated.
func (c *Controller) CheckAuth(ctx context.Context) {
	ok, err := c.capability.HasSelectedCredential(ctx)
	if err != nil {
		c.logger.Warn("auth check failed", zap.Error(err))
		ok = false
	}

	c.mu.Lock()
	c.authenticated = ok
	c.mu.Unlock()
}

// Connect runs the credential selector and optimistically marks the session
// authenticated. A later auth failure during generation clears the flag again.
func (c *Controller) Connect(ctx context.Context) error {
	if err := c.capability.OpenCredentialSelector(ctx); err != nil {
		c.logger.Warn("credential selection failed", zap.Error(err))
		c.mu.Lock()
		c.errMsg = MsgConnectFailed
		c.errKind = generation.KindAuth
		c.mu.Unlock()
		return err
	}

	c.mu.Lock()
	c.authenticated = true
	if c.errMsg == MsgConnectFailed || c.errMsg == MsgSessionExpired {
		c.errMsg, c.errKind = "", ""
	}
	c.mu.Unlock()
	return nil
}

// OfferCredential hands a user supplied key to the capability ahead of Connect.
func (c *Controller) OfferCredential(ctx context.Context, key string) error {
	stager, ok := c.capability.(Stager)
	if !ok {
		return ErrKeyEntryUnsupported
	}
	return stager.Stage(ctx, key)
}

// SwitchCredential drops the authenticated flag so the user picks a key again.
func (c *Controller) SwitchCredential() {
	c.mu.Lock()
	c.authenticated = false
	c.mu.Unlock()
}

// SelectImage replaces the image and clears the previous result and error.
func (c *Controller) SelectImage(ctx context.Context, image *generation.ImageAsset) {
	c.mu.Lock()
	c.image = image
	stale := c.takeResult()
	c.errMsg, c.errKind = "", ""
	c.mu.Unlock()

	c.deleteBlob(ctx, stale)
}

// SetPrompt updates the prompt.
func (c *Controller) SetPrompt(prompt string) {
	c.mu.Lock()
	c.prompt = prompt
	c.mu.Unlock()
}

// UseSamplePrompt fills in the sample prompt.
func (c *Controller) UseSamplePrompt() {
	c.SetPrompt(SamplePrompt)
}

// SetAspectRatio updates the aspect ratio. Unsupported values leave the
// state untouched and return a validation error.
func (c *Controller) SetAspectRatio(value string) error {
	ar, err := generation.ParseAspectRatio(value)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.aspectRatio = ar
	c.mu.Unlock()
	return nil
}

// StartGeneration starts a generation attempt in the background. Progress
// and outcome are observed through View.
func (c *Controller) StartGeneration(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status.IsBusy() {
		return ErrBusy
	}
	if !c.authenticated {
		return ErrUnauthenticated
	}
	if c.image == nil {
		c.errMsg = MsgSelectImage
		c.errKind = generation.KindValidation
		return generation.NewError(generation.KindValidation, MsgSelectImage, nil)
	}

	c.attempt++
	id := c.attempt
	c.status = StatusUploading
	c.errMsg, c.errKind = "", ""
	c.rotationStart = time.Time{}

	req := &generation.Request{
		Image:       c.image,
		Prompt:      c.prompt,
		AspectRatio: c.aspectRatio,
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancel = cancel

	c.wg.Add(1)
	go c.run(runCtx, cancel, id, req)

	c.logger.Info("generation started",
		zap.Uint64("attempt", id),
		zap.String("aspect_ratio", string(req.AspectRatio)),
		zap.Int("image_bytes", req.Image.Size()))
	return nil
}

func (c *Controller) run(ctx context.Context, cancel context.CancelFunc, id uint64, req *generation.Request) {
	defer c.wg.Done()
	defer cancel()

	token, err := c.capability.AccessToken(ctx)
	if err != nil {
		c.complete(id, nil, generation.NewError(generation.KindAuth, err.Error(), err))
		return
	}
	req.AccessToken = token

	result, err := c.generator.Generate(ctx, req, func(p generation.Phase) {
		c.advance(id, p)
	})
	c.complete(id, result, err)
}

// advance applies a phase of attempt id. Phases never move the status back.
func (c *Controller) advance(id uint64, p generation.Phase) {
	next := statusForPhase(p)

	c.mu.Lock()
	defer c.mu.Unlock()

	if id != c.attempt || !c.status.IsBusy() || next.rank() <= c.status.rank() {
		return
	}
	if next == StatusGenerating || (next == StatusPolling && c.rotationStart.IsZero()) {
		c.rotationStart = c.now()
	}
	c.status = next
}

// complete applies the outcome of attempt id.
func (c *Controller) complete(id uint64, result *generation.VideoResult, err error) {
	c.mu.Lock()

	if id != c.attempt {
		c.mu.Unlock()
		c.logger.Debug("discarding stale generation outcome", zap.Uint64("attempt", id))
		if result != nil {
			c.deleteBlob(context.Background(), result)
		}
		return
	}

	c.cancel = nil
	var stale *generation.VideoResult

	switch {
	case err == nil:
		stale = c.takeResult()
		c.result = result
		c.status = StatusSuccess
		c.logger.Info("generation succeeded", zap.Uint64("attempt", id), zap.Int64("bytes", result.Size))

	case errors.Is(err, generation.ErrAuth):
		c.authenticated = false
		c.status = StatusError
		c.errMsg = MsgSessionExpired
		c.errKind = generation.KindAuth
		c.logger.Warn("generation rejected credential", zap.Uint64("attempt", id), zap.Error(err))

	default:
		c.status = StatusError
		c.errMsg = err.Error()
		if c.errMsg == "" {
			c.errMsg = MsgGenericFailure
		}
		c.errKind = generation.KindOf(err)
		c.logger.Warn("generation failed", zap.Uint64("attempt", id), zap.Error(err))
	}
	c.mu.Unlock()

	c.deleteBlob(context.Background(), stale)
}

// Reset returns the session to idle, clearing inputs and output. An attempt
// in flight stops polling locally and its outcome is discarded.
func (c *Controller) Reset(ctx context.Context) {
	c.mu.Lock()
	c.attempt++
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.image = nil
	c.prompt = ""
	c.errMsg, c.errKind = "", ""
	stale := c.takeResult()
	c.status = StatusIdle
	c.rotationStart = time.Time{}
	c.mu.Unlock()

	c.deleteBlob(ctx, stale)
}

// Close resets the session and releases its credentials.
func (c *Controller) Close(ctx context.Context) {
	c.Reset(ctx)
	if r, ok := c.capability.(Releaser); ok {
		if err := r.Release(ctx); err != nil {
			c.logger.Warn("release credentials failed", zap.Error(err))
		}
	}
}

// Wait blocks until the background attempt, if any, has finished.
func (c *Controller) Wait() {
	c.wg.Wait()
}

// Busy reports whether an attempt is in flight.
func (c *Controller) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status.IsBusy()
}

// Video returns the generated video.
func (c *Controller) Video(ctx context.Context) (*generation.Blob, error) {
	c.mu.Lock()
	result := c.result
	c.mu.Unlock()

	if result == nil {
		return nil, ErrNoResult
	}
	blob, err := c.blobs.Get(ctx, result.Handle)
	if err != nil {
		if errors.Is(err, generation.ErrBlobNotFound) {
			return nil, ErrNoResult
		}
		return nil, err
	}
	if blob.MIMEType == "" {
		blob.MIMEType = result.MIMEType
	}
	return blob, nil
}

// View returns a snapshot for presentation.
func (c *Controller) View() *View {
	c.mu.Lock()
	defer c.mu.Unlock()

	busy := c.status.IsBusy()
	v := &View{
		ID:            c.id,
		Status:        c.status,
		Busy:          busy,
		CanGenerate:   c.image != nil && !busy,
		Authenticated: c.authenticated,
		Error:         c.errMsg,
		ErrorKind:     string(c.errKind),
		Prompt:        c.prompt,
		AspectRatio:   string(c.aspectRatio),
	}
	if busy {
		v.OverlayMessage = c.overlayMessage()
		v.OverlayHint = OverlayHint
	}
	if c.image != nil {
		v.Image = &ImageInfo{
			FileName: c.image.FileName,
			MIMEType: c.image.MIMEType,
			Size:     c.image.Size(),
		}
	}
	if c.result != nil {
		v.Result = &ResultInfo{
			Prompt:      c.result.Prompt,
			AspectRatio: string(c.result.AspectRatio),
			MIMEType:    c.result.MIMEType,
			Size:        c.result.Size,
			CreatedAt:   c.result.CreatedAt,
		}
	}
	return v
}

// overlayMessage rotates while the provider is working. Caller holds mu.
func (c *Controller) overlayMessage() string {
	if c.rotationStart.IsZero() {
		return OverlayMessages[0]
	}
	steps := int(c.now().Sub(c.rotationStart) / c.config.MessageInterval)
	return OverlayMessages[steps%len(OverlayMessages)]
}

// takeResult detaches the current result. Caller holds mu.
func (c *Controller) takeResult() *generation.VideoResult {
	r := c.result
	c.result = nil
	return r
}

func (c *Controller) deleteBlob(ctx context.Context, result *generation.VideoResult) {
	if result == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.config.CleanupTimeout)
	defer cancel()
	if err := c.blobs.Delete(ctx, result.Handle); err != nil {
		c.logger.Warn("delete video failed", zap.String("handle", result.Handle), zap.Error(err))
	}
}
