package models

import "gorm.io/gorm"

// Image An annotated image whose masks were saved to disk
type Image struct {
	gorm.Model
	Identifier      string           `json:"identifier" gorm:"index"`
	SessionID       string           `json:"session_id"`
	Width           int              `json:"width"`
	Height          int              `json:"height"`
	Path            string           `json:"path"`
	Masks           int              `json:"masks"`
	MaskAnnotations []MaskAnnotation `json:"mask_annotations" gorm:"foreignKey:ImageID"`
}
