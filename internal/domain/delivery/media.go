package delivery

import (
	"path/filepath"
	"strings"
)

// MediaKind определяет, каким методом канала отправлять файл.
type MediaKind int

const (
	MediaDocument MediaKind = iota
	MediaPhoto
	MediaVideo
)

func (k MediaKind) String() string {
	switch k {
	case MediaPhoto:
		return "photo"
	case MediaVideo:
		return "video"
	default:
		return "document"
	}
}

var mediaKinds = map[string]MediaKind{
	".jpg":  MediaPhoto,
	".jpeg": MediaPhoto,
	".png":  MediaPhoto,
	".gif":  MediaPhoto,
	".webp": MediaPhoto,
	".mp4":  MediaVideo,
	".avi":  MediaVideo,
	".mov":  MediaVideo,
	".mkv":  MediaVideo,
}

// MediaKindOf классифицирует файл по расширению; всё незнакомое: документ.
func MediaKindOf(path string) MediaKind {
	if kind, ok := mediaKinds[strings.ToLower(filepath.Ext(path))]; ok {
		return kind
	}
	return MediaDocument
}
