// Package sessionhttp exposes browser sessions over HTTP.
package sessionhttp

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/veoanimator/server/internal/module/generation"
	"github.com/veoanimator/server/internal/module/session"
	"github.com/veoanimator/server/internal/shared/logger"
	"github.com/veoanimator/server/internal/shared/response"
)

// Sessions is the session registry as seen by the handler.
type Sessions interface {
	Create(ctx context.Context) *session.Controller
	Get(id string) (*session.Controller, error)
	Remove(ctx context.Context, id string) error
}

// Handler handles session HTTP requests.
type Handler struct {
	sessions      Sessions
	maxImageBytes int64
	logger        *zap.Logger
}

// NewHandler creates a new session handler.
func NewHandler(sessions Sessions, maxImageBytes int64, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		sessions:      sessions,
		maxImageBytes: maxImageBytes,
		logger:        log.Named("sessionhttp"),
	}
}

// RegisterRoutes registers session routes. generateMiddleware runs in front
// of the generate route only.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup, generateMiddleware ...gin.HandlerFunc) {
	sessions := r.Group("/sessions")
	{
		sessions.POST("", h.CreateSession)
		sessions.GET("/:id", h.GetSession)
		sessions.DELETE("/:id", h.DeleteSession)

		// Credentials
		sessions.POST("/:id/credential", h.Connect)
		sessions.DELETE("/:id/credential", h.SwitchCredential)

		// Inputs
		sessions.PUT("/:id/image", h.SelectImage)
		sessions.PUT("/:id/prompt", h.SetPrompt)
		sessions.POST("/:id/prompt/sample", h.UseSamplePrompt)
		sessions.PUT("/:id/aspect-ratio", h.SetAspectRatio)

		// Generation
		sessions.POST("/:id/generate", append(generateMiddleware, h.Generate)...)
		sessions.POST("/:id/reset", h.Reset)
		sessions.GET("/:id/video", h.GetVideo)
	}
}

// CreateSession handles POST /sessions.
func (h *Handler) CreateSession(c *gin.Context) {
	ctrl := h.sessions.Create(c.Request.Context())
	c.JSON(http.StatusCreated, ctrl.View())
}

// GetSession handles GET /sessions/:id.
func (h *Handler) GetSession(c *gin.Context) {
	ctrl, ok := h.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, ctrl.View())
}

// DeleteSession handles DELETE /sessions/:id.
func (h *Handler) DeleteSession(c *gin.Context) {
	if err := h.sessions.Remove(c.Request.Context(), c.Param("id")); err != nil {
		h.handleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Connect handles POST /sessions/:id/credential. The body may carry a key to
// stage before the selector runs.
func (h *Handler) Connect(c *gin.Context) {
	ctrl, ok := h.lookup(c)
	if !ok {
		return
	}

	var req ConnectRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
	}

	ctx := c.Request.Context()
	if req.APIKey != nil {
		key := strings.TrimSpace(*req.APIKey)
		if key == "" {
			response.BadRequest(c, "api_key must not be empty")
			return
		}
		if err := ctrl.OfferCredential(ctx, key); err != nil {
			h.handleError(c, err)
			return
		}
	}

	if err := ctrl.Connect(ctx); err != nil {
		response.Error(c, http.StatusUnauthorized, "CONNECT_FAILED", session.MsgConnectFailed)
		return
	}
	c.JSON(http.StatusOK, ctrl.View())
}

// SwitchCredential handles DELETE /sessions/:id/credential.
func (h *Handler) SwitchCredential(c *gin.Context) {
	ctrl, ok := h.lookup(c)
	if !ok {
		return
	}
	ctrl.SwitchCredential()
	c.JSON(http.StatusOK, ctrl.View())
}

// SelectImage handles PUT /sessions/:id/image as multipart form field "image".
func (h *Handler) SelectImage(c *gin.Context) {
	ctrl, ok := h.lookup(c)
	if !ok {
		return
	}

	fh, err := c.FormFile("image")
	if err != nil {
		response.BadRequest(c, "image file is required")
		return
	}
	f, err := fh.Open()
	if err != nil {
		response.BadRequest(c, "cannot read uploaded image")
		return
	}
	defer f.Close()

	image, err := generation.NewImageAsset(f, fh.Filename, fh.Header.Get("Content-Type"), h.maxImageBytes)
	if err != nil {
		h.handleError(c, err)
		return
	}

	ctrl.SelectImage(c.Request.Context(), image)
	c.JSON(http.StatusOK, ctrl.View())
}

// SetPrompt handles PUT /sessions/:id/prompt.
func (h *Handler) SetPrompt(c *gin.Context) {
	ctrl, ok := h.lookup(c)
	if !ok {
		return
	}

	var req PromptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	ctrl.SetPrompt(req.Prompt)
	c.JSON(http.StatusOK, ctrl.View())
}

// UseSamplePrompt handles POST /sessions/:id/prompt/sample.
func (h *Handler) UseSamplePrompt(c *gin.Context) {
	ctrl, ok := h.lookup(c)
	if !ok {
		return
	}
	ctrl.UseSamplePrompt()
	c.JSON(http.StatusOK, ctrl.View())
}

// SetAspectRatio handles PUT /sessions/:id/aspect-ratio.
func (h *Handler) SetAspectRatio(c *gin.Context) {
	ctrl, ok := h.lookup(c)
	if !ok {
		return
	}

	var req AspectRatioRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if err := ctrl.SetAspectRatio(req.AspectRatio); err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, ctrl.View())
}

// Generate handles POST /sessions/:id/generate. The attempt runs in the
// background; clients poll GetSession for progress.
func (h *Handler) Generate(c *gin.Context) {
	ctrl, ok := h.lookup(c)
	if !ok {
		return
	}
	if err := ctrl.StartGeneration(c.Request.Context()); err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, ctrl.View())
}

// Reset handles POST /sessions/:id/reset.
func (h *Handler) Reset(c *gin.Context) {
	ctrl, ok := h.lookup(c)
	if !ok {
		return
	}
	ctrl.Reset(c.Request.Context())
	c.JSON(http.StatusOK, ctrl.View())
}

// GetVideo handles GET /sessions/:id/video.
func (h *Handler) GetVideo(c *gin.Context) {
	ctrl, ok := h.lookup(c)
	if !ok {
		return
	}

	blob, err := ctrl.Video(c.Request.Context())
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.Header("Content-Disposition", `inline; filename="animation.mp4"`)
	c.Data(http.StatusOK, blob.MIMEType, blob.Data)
}

func (h *Handler) lookup(c *gin.Context) (*session.Controller, bool) {
	ctrl, err := h.sessions.Get(c.Param("id"))
	if err != nil {
		h.handleError(c, err)
		return nil, false
	}
	return ctrl, true
}

func (h *Handler) handleError(c *gin.Context, err error) {
	if !response.HandleError(c, err, errorMappings) {
		logger.FromContextOr(c.Request.Context(), h.logger).Error("request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err))
		response.InternalError(c, "")
	}
}

var errorMappings = []response.ErrorMapping{
	{Err: session.ErrSessionNotFound, Status: http.StatusNotFound, Code: "SESSION_NOT_FOUND"},
	{Err: session.ErrBusy, Status: http.StatusConflict, Code: "GENERATION_IN_PROGRESS"},
	{Err: session.ErrUnauthenticated, Status: http.StatusUnauthorized, Code: "UNAUTHENTICATED"},
	{Err: session.ErrNoResult, Status: http.StatusNotFound, Code: "NO_VIDEO"},
	{Err: session.ErrKeyEntryUnsupported, Status: http.StatusBadRequest, Code: "KEY_ENTRY_UNSUPPORTED"},
	{Err: generation.ErrValidation, Status: http.StatusUnprocessableEntity, Code: "VALIDATION_ERROR"},
	{Err: generation.ErrEncoding, Status: http.StatusBadRequest, Code: "ENCODING_ERROR"},
}
