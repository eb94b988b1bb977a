package negotiation

import (
	"errors"

	"github.com/arzzra/media_gateway/pkg/media_sdp"
)

// ErrNoUsableMedia возвращается, когда после пересечения кодеков ни
// одно медиа оффера не может быть принято. Для вызывающего это
// фатальный провал переговоров: нога уходит в ERROR.
var ErrNoUsableMedia = errors.New("negotiation: ни одно медиа не согласовано")

// IsParseError сообщает, что переговоры сорвались на разборе
// удаленного описания сессии.
func IsParseError(err error) bool {
	return media_sdp.IsSDPError(err, media_sdp.ErrorCodeParse)
}
