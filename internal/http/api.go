// Package http exposes the operator control surface over HTTP and websockets.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"lid-inspector/internal/domain"
	"lid-inspector/internal/imageproc"
	"lid-inspector/internal/service"
	"lid-inspector/internal/storage"
	"lid-inspector/internal/watcher"
)

// Handler wires HTTP routes to domain services.
type Handler struct {
	inspections service.InspectionService
	manager     watcher.Manager
	storage     storage.Service
	bucket      string
	users       service.UserService
	tokens      *service.TokenIssuer
	logger      *logrus.Logger
}

type Deps struct {
	Inspections service.InspectionService
	Manager     watcher.Manager
	Storage     storage.Service
	Bucket      string
	Users       service.UserService
	Tokens      *service.TokenIssuer
	Logger      *logrus.Logger
}

func NewHandler(d Deps) *Handler {
	if d.Logger == nil {
		d.Logger = logrus.New()
	}
	return &Handler{
		inspections: d.Inspections,
		manager:     d.Manager,
		storage:     d.Storage,
		bucket:      d.Bucket,
		users:       d.Users,
		tokens:      d.Tokens,
		logger:      d.Logger,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.Use(corsMiddleware())

	api := router.Group("/api")
	{
		api.GET("/health", func(ctx *gin.Context) {
			ctx.JSON(http.StatusOK, gin.H{"ok": "ok"})
		})
		api.POST("/auth/register", h.register)
		api.POST("/auth/login", h.login)

		api.GET("/status", h.status)
		api.GET("/stats", h.stats)
		api.GET("/inspections", h.listInspections)
		api.GET("/inspections/:id", h.getInspection)
		api.GET("/inspections/:id/image", h.inspectionImage)
		api.GET("/stream", h.stream)

		authed := api.Group("")
		authed.Use(h.requireOperator())
		{
			authed.PUT("/settings", h.updateSettings)
			authed.POST("/clear", h.clear)
			authed.DELETE("/inspections/:id", h.deleteInspection)
			authed.GET("/inspections/:id/archive-url", h.archiveURL)
			authed.GET("/storage/objects", h.listObjects)
			authed.GET("/operators", h.listOperators)
		}
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

func (h *Handler) status(c *gin.Context) {
	c.JSON(http.StatusOK, statusToResponse(h.manager.Status()))
}

func (h *Handler) stats(c *gin.Context) {
	var since time.Time
	switch scope := c.DefaultQuery("scope", "session"); scope {
	case "session":
		since = h.manager.Status().ClearedAt
	case "all":
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "scope must be session or all"})
		return
	}

	stats, err := h.inspections.Stats(c.Request.Context(), since)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, StatsResponse{
		Total:    stats.Total,
		Accepted: stats.Accepted,
		Rejected: stats.Rejected,
		Errored:  stats.Errored,
	})
}

func (h *Handler) listInspections(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid offset"})
		return
	}

	list, err := h.inspections.ListInspections(c.Request.Context(), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]InspectionResponse, len(list))
	for i := range list {
		resp[i] = inspectionToResponse(&list[i])
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) getInspection(c *gin.Context) {
	in, ok := h.loadInspection(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, inspectionToResponse(in))
}

// inspectionImage renders the frame thumbnail, raw or with glare removed.
func (h *Handler) inspectionImage(c *gin.Context) {
	view := c.DefaultQuery("view", "raw")
	if view != "raw" && view != "cleaned" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "view must be raw or cleaned"})
		return
	}
	in, ok := h.loadInspection(c)
	if !ok {
		return
	}

	img, err := imageproc.LoadImage(in.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			c.JSON(http.StatusNotFound, gin.H{"error": "frame no longer on disk"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if view == "cleaned" {
		img = imageproc.RemoveGlare(img)
	}
	data, err := imageproc.EncodeJPEG(imageproc.Thumbnail(img, imageproc.ThumbnailSize))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/jpeg", data)
}

type settingsRequest struct {
	Strictness int  `json:"strictness" binding:"required"`
	NoBrand    bool `json:"no_brand"`
}

func (h *Handler) updateSettings(c *gin.Context) {
	var req settingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	settings := domain.Settings{Strictness: req.Strictness, NoBrand: req.NoBrand}
	if err := h.manager.UpdateSettings(c.Request.Context(), settings); err != nil {
		if errors.Is(err, watcher.ErrInvalidSettings) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	h.logger.WithField("operator", operatorName(c)).Infof("settings updated to strictness=%d no_brand=%t", settings.Strictness, settings.NoBrand)
	c.JSON(http.StatusOK, settingsToResponse(settings))
}

func (h *Handler) clear(c *gin.Context) {
	if err := h.manager.Clear(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	h.logger.WithField("operator", operatorName(c)).Info("session cleared")
	c.JSON(http.StatusOK, statusToResponse(h.manager.Status()))
}

func (h *Handler) deleteInspection(c *gin.Context) {
	in, ok := h.loadInspection(c)
	if !ok {
		return
	}

	deleteRemote, err := strconv.ParseBool(c.DefaultQuery("delete_remote", "false"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid flag delete_remote"})
		return
	}

	var warnings []string
	if deleteRemote && in.S3Location != "" {
		if h.storage == nil || h.bucket == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "storage service not configured"})
			return
		}
		bucket, key, err := storage.ParseLocation(in.S3Location)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if bucket != h.bucket {
			c.JSON(http.StatusBadRequest, gin.H{"error": "s3 bucket mismatch"})
			return
		}
		remoteCtx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
		defer cancel()
		// the frame sits under its own per-inspection prefix next to verdict.json
		prefix := key
		if dir := path.Dir(key); dir != "." {
			prefix = dir + "/"
		}
		if err := h.storage.DeletePrefix(remoteCtx, bucket, prefix); err != nil {
			warnings = append(warnings, fmt.Sprintf("delete remote data: %v", err))
		}
	}

	if in.ResultPath != "" {
		if err := os.Remove(in.ResultPath); err != nil && !os.IsNotExist(err) {
			warnings = append(warnings, fmt.Sprintf("remove result file: %v", err))
		}
	}

	if err := h.inspections.DeleteInspection(c.Request.Context(), in.ID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := gin.H{"deleted": in.ID}
	if len(warnings) > 0 {
		resp["warnings"] = warnings
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) archiveURL(c *gin.Context) {
	in, ok := h.loadInspection(c)
	if !ok {
		return
	}
	if h.storage == nil || h.bucket == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "storage service not configured"})
		return
	}
	if in.S3Location == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "inspection not archived"})
		return
	}
	bucket, key, err := storage.ParseLocation(in.S3Location)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	url, err := h.storage.GetObjectURL(c.Request.Context(), bucket, key, 15*time.Minute)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url})
}

func (h *Handler) listObjects(c *gin.Context) {
	if h.storage == nil || h.bucket == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "storage service not configured"})
		return
	}

	objects, err := h.storage.ListObjects(c.Request.Context(), h.bucket, c.Query("prefix"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]StorageObjectResponse, len(objects))
	for i := range objects {
		resp[i] = objectToResponse(objects[i])
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) loadInspection(c *gin.Context) (*domain.Inspection, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid inspection id"})
		return nil, false
	}
	in, err := h.inspections.GetInspection(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return nil, false
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return nil, false
	}
	return in, true
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if token, ok := strings.CutPrefix(header, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}
