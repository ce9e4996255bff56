package domain

// CropRect is the optional crop area of an avatar upload, in source pixels.
type CropRect struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// AvatarMediaTypes lists the upload types accepted for avatars.
var AvatarMediaTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
	"image/gif":  true,
}
