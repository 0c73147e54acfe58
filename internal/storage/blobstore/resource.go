package blobstore

import "strings"

// ResourceType - класс ресурса, определяемый по MIME-типу.
type ResourceType string

const (
	ResourceImage ResourceType = "image"
	ResourceVideo ResourceType = "video"
	ResourceRaw   ResourceType = "raw"
)

// ResourceTypeFor возвращает класс ресурса для MIME-типа:
// image/* и application/* - image, video/* - video, остальное - raw.
func ResourceTypeFor(mimeType string) ResourceType {
	mt := strings.ToLower(strings.TrimSpace(mimeType))
	switch {
	case strings.HasPrefix(mt, "image/"), strings.HasPrefix(mt, "application/"):
		return ResourceImage
	case strings.HasPrefix(mt, "video/"):
		return ResourceVideo
	default:
		return ResourceRaw
	}
}
