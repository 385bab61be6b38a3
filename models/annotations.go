package models

import "gorm.io/gorm"

// MaskAnnotation One rendered output (overlay, cutout or color_masks) of an Image
type MaskAnnotation struct {
	gorm.Model
	ImageID    uint   `json:"image_id"`
	Path       string `json:"path"`
	Identifier string `json:"identifier"`
}
