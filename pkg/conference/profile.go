package conference

import "github.com/arzzra/media_gateway/pkg/mcu"

// Profile — именованный профиль исходящего видео участника.
type Profile struct {
	Name         string
	VideoSize    int
	VideoFPS     int
	VideoBitrate int
	IntraPeriod  int
}

// DefaultProfile возвращает профиль видео по умолчанию.
func DefaultProfile() Profile {
	return Profile{
		Name:         "CIF",
		VideoSize:    mcu.CIF,
		VideoFPS:     15,
		VideoBitrate: 384,
		IntraPeriod:  150,
	}
}
