package controllers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"

	"climbwall/models"
	"climbwall/segment"
	"climbwall/utils"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	uuid "github.com/twinj/uuid"
)

const (
	sessionCookie  = "climbwall_session"
	maxUploadBytes = 64 << 20
)

type ButtonClickInput struct {
	ButtonID  segment.Button `json:"button_id" binding:"required"`
	ImageType string         `json:"image_type"`
}

type BoxInput struct {
	X1 *float64 `json:"x1" binding:"required"`
	Y1 *float64 `json:"y1" binding:"required"`
	X2 *float64 `json:"x2" binding:"required"`
	Y2 *float64 `json:"y2" binding:"required"`
}

type PointInput struct {
	X     *float64 `json:"x" binding:"required"`
	Y     *float64 `json:"y" binding:"required"`
	Label *int     `json:"label"`
}

type SaveInput struct {
	Path string `json:"path"`
}

// existingSession Return the session of the client, or nil when it never uploaded an image
func existingSession(c *gin.Context, cache *segment.SessionCache) *segment.Session {
	id, err := c.Cookie(sessionCookie)
	if err != nil || id == "" {
		return nil
	}
	session, err := cache.Read(id)
	if err != nil || !session.HasImage() {
		return nil
	}
	return session
}

// sessionForUpload Return the session of the client, a new one is created (and the cookie set) if needed
func sessionForUpload(c *gin.Context, cache *segment.SessionCache) *segment.Session {
	id, err := c.Cookie(sessionCookie)
	if err != nil || id == "" {
		id = uuid.NewV4().String()
		c.SetCookie(sessionCookie, id, 0, "/", "", false, true)
	}
	return cache.GetOrCreate(id)
}

func noImage(c *gin.Context) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "No image available for processing"})
}

// writeSegmentError Map an error of the segment package to a response
func writeSegmentError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, segment.ErrNoImage):
		noImage(c)
	case errors.Is(err, utils.ErrDecode), errors.Is(err, segment.ErrUnknownButton), errors.Is(err, segment.ErrInvalidBox):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, segment.ErrPredictor):
		log.Warn(fmt.Sprintf("Predictor error: %s", err.Error()))
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	default:
		log.Warn(fmt.Sprintf("Segmentation error: %s", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// Home Render the annotation page
func Home(config *utils.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.HTML(http.StatusOK, "index.tmpl", gin.H{
			"title":             "Climb wall",
			"default_save_path": config.Server.SavePath,
		})
	}
}

// UploadImage Start annotating a new image
func UploadImage(cache *segment.SessionCache) gin.HandlerFunc {
	return func(c *gin.Context) {
		header, err := c.FormFile("image")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "No image in the request"})
			return
		}
		if header.Size > maxUploadBytes {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Image is too large"})
			return
		}
		file, err := header.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		session := sessionForUpload(c, cache)
		if err := session.Upload(c.Request.Context(), data); err != nil {
			writeSegmentError(c, err)
			return
		}
		c.String(http.StatusOK, "Uploaded image, successfully initialized")
	}
}

// ButtonClick Handle a tool bar button and return the resulting image
func ButtonClick(cache *segment.SessionCache) gin.HandlerFunc {
	return func(c *gin.Context) {
		session := existingSession(c, cache)
		if session == nil {
			noImage(c)
			return
		}
		var input ButtonClickInput
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		log.Debug(fmt.Sprintf("Button %s clicked, image_type %s", input.ButtonID, input.ImageType))

		img, err := session.Click(c.Request.Context(), input.ButtonID)
		if err != nil {
			writeSegmentError(c, err)
			return
		}
		encoded, err := utils.ImageToBase64(img, input.ImageType)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"image": encoded, "image_type": input.ImageType})
	}
}

// BoxReceive Add a box prompt
func BoxReceive(cache *segment.SessionCache) gin.HandlerFunc {
	return func(c *gin.Context) {
		session := existingSession(c, cache)
		if session == nil {
			noImage(c)
			return
		}
		var input BoxInput
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		box := segment.Box{X1: *input.X1, Y1: *input.Y1, X2: *input.X2, Y2: *input.Y2}
		if err := session.AddBox(box); err != nil {
			writeSegmentError(c, err)
			return
		}
		c.String(http.StatusOK, "server received boxes")
	}
}

// PointReceive Add a positive (label 1, the default) or negative (label 0) point prompt
func PointReceive(cache *segment.SessionCache) gin.HandlerFunc {
	return func(c *gin.Context) {
		session := existingSession(c, cache)
		if session == nil {
			noImage(c)
			return
		}
		var input PointInput
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		label := segment.LabelPositive
		if input.Label != nil {
			label = segment.Label(*input.Label)
		}
		if err := session.AddPoint(segment.Point{X: *input.X, Y: *input.Y}, label); err != nil {
			writeSegmentError(c, err)
			return
		}
		c.String(http.StatusOK, "server received points")
	}
}

// SessionState Return the prompts, masks and undo history of the session
func SessionState(cache *segment.SessionCache) gin.HandlerFunc {
	return func(c *gin.Context) {
		session := existingSession(c, cache)
		if session == nil {
			noImage(c)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": session.State()})
	}
}

var ErrSavePath = errors.New("save path must stay inside the save directory")

// resolveSavePath Place requested inside root. Relative paths are joined to root,
// absolute ones are accepted only below root.
func resolveSavePath(root string, requested string) (string, error) {
	if requested == "" {
		return root, nil
	}
	rel := requested
	if filepath.IsAbs(requested) {
		var err error
		rel, err = filepath.Rel(root, requested)
		if err != nil {
			return "", ErrSavePath
		}
	}
	if !filepath.IsLocal(rel) && filepath.Clean(rel) != "." {
		return "", ErrSavePath
	}
	return filepath.Join(root, rel), nil
}

// SaveMasks Write the renderings to disk and record them in the database
func SaveMasks(cache *segment.SessionCache, config *utils.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		session := existingSession(c, cache)
		if session == nil {
			noImage(c)
			return
		}
		var input SaveInput
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&input); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
		}
		dir, err := resolveSavePath(config.Server.SavePath, input.Path)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		files, err := session.Save(dir)
		if err != nil {
			writeSegmentError(c, err)
			return
		}

		state := session.State()
		image := models.Image{
			Identifier: state.Identifier,
			SessionID:  state.ID,
			Width:      state.Width,
			Height:     state.Height,
			Path:       dir,
			Masks:      files.Masks,
			MaskAnnotations: []models.MaskAnnotation{
				{Path: files.Overlay, Identifier: "overlay"},
				{Path: files.Cutout, Identifier: "cutout"},
				{Path: files.ColorMasks, Identifier: "color_masks"},
			},
		}
		if models.DB != nil {
			if err := models.DB.Create(&image).Error; err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"data": image})
	}
}
