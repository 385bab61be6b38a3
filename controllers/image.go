package controllers

import (
	"net/http"

	"climbwall/models"

	"github.com/gin-gonic/gin"
)

// FindImages Find all saved images with annotations
func FindImages(c *gin.Context) {
	var images []models.Image
	if err := models.DB.Preload("MaskAnnotations").Find(&images).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": images})
}

type CreateImageInput struct {
	Path            string                  `json:"path" binding:"required"`
	Identifier      string                  `json:"identifier" binding:"required"`
	Width           int                     `json:"width"`
	Height          int                     `json:"height"`
	MaskAnnotations []models.MaskAnnotation `json:"mask_annotations"`
}

// CreateImage Register an image that was annotated elsewhere
func CreateImage(c *gin.Context) {
	// Validate input
	var input CreateImageInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	image := models.Image{
		Path:            input.Path,
		Identifier:      input.Identifier,
		Width:           input.Width,
		Height:          input.Height,
		Masks:           len(input.MaskAnnotations),
		MaskAnnotations: input.MaskAnnotations,
	}
	if err := models.DB.Create(&image).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": image})
}

// FindImage Find an image
func FindImage(c *gin.Context) {
	var image models.Image

	if err := models.DB.Preload("MaskAnnotations").Where("id = ?", c.Param("id")).First(&image).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Record not found!"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": image})
}

type UpdateImageInput struct {
	Path       string `json:"path"`
	Identifier string `json:"identifier"`
}

// UpdateImage Update the path or identifier of an image
func UpdateImage(c *gin.Context) {
	var image models.Image
	if err := models.DB.Where("id = ?", c.Param("id")).First(&image).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Record not found!"})
		return
	}

	var input UpdateImageInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := models.DB.Model(&image).Updates(models.Image{Path: input.Path, Identifier: input.Identifier}).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": image})
}

// DeleteImage Delete an image and its annotations
func DeleteImage(c *gin.Context) {
	var image models.Image
	if err := models.DB.Where("id = ?", c.Param("id")).First(&image).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Record not found!"})
		return
	}

	models.DB.Where("image_id = ?", image.ID).Delete(&models.MaskAnnotation{})
	models.DB.Delete(&image)

	c.JSON(http.StatusOK, gin.H{"data": true})
}
