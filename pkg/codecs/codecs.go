// Package codecs описывает идентичности кодеков медиа-микшера.
//
// Микшер адресует кодеки целочисленными идентификаторами, которые для
// статических RTP типов (RFC 3551) совпадают с payload type. Пакет
// хранит таблицы имя/частота для каждого типа медиа и обратное
// разрешение имени из rtpmap в идентификатор кодека.
package codecs

import "strings"

// MediaType определяет тип медиа потока внутри сессии.
type MediaType int

const (
	Audio MediaType = iota
	Video
	Text

	numMediaTypes
)

// MediaTypes перечисляет все типы медиа в порядке audio/video/text.
// Порядок фиксирован: он определяет порядок медиа линий в локальном SDP.
var MediaTypes = [...]MediaType{Audio, Video, Text}

// Value возвращает числовое значение типа для RPC вызовов микшера.
func (m MediaType) Value() int { return int(m) }

func (m MediaType) String() string {
	switch m {
	case Audio:
		return "audio"
	case Video:
		return "video"
	case Text:
		return "text"
	default:
		return "unknown"
	}
}

// MediaTypeForName разрешает имя медиа из m= строки в MediaType.
func MediaTypeForName(name string) (MediaType, bool) {
	switch strings.ToLower(name) {
	case "audio":
		return Audio, true
	case "video":
		return Video, true
	case "text":
		return Text, true
	default:
		return 0, false
	}
}

// Идентификаторы кодеков, понимаемые микшером.
const (
	// Аудио
	PCMU    = 0
	GSM     = 3
	PCMA    = 8
	G722    = 9
	OPUS    = 98
	SPEEX16 = 117
	AMR     = 118

	// Видео
	H2631996 = 34
	H264     = 99
	H2631998 = 103
	MPEG4    = 104
	VP8      = 107

	// Текст (RFC 4103)
	T140RED = 105
	T140    = 106
)

// DynamicTypeBase — первый динамический RTP payload type (RFC 3551).
// Типы ниже этой границы статические и отображаются сами в себя.
const DynamicTypeBase = 96

type codecInfo struct {
	name string
	rate int
}

var tables = [numMediaTypes]map[int]codecInfo{
	Audio: {
		PCMU:    {"PCMU", 8000},
		GSM:     {"GSM", 8000},
		PCMA:    {"PCMA", 8000},
		G722:    {"G722", 8000},
		OPUS:    {"opus", 48000},
		SPEEX16: {"speex", 16000},
		AMR:     {"AMR", 8000},
	},
	Video: {
		H2631996: {"H263", 90000},
		H264:     {"H264", 90000},
		H2631998: {"H263-1998", 90000},
		MPEG4:    {"MP4V-ES", 90000},
		VP8:      {"VP8", 90000},
	},
	Text: {
		T140:    {"t140", 1000},
		T140RED: {"red", 1000},
	},
}

// NameForCodec возвращает имя кодека для rtpmap атрибута.
func NameForCodec(media MediaType, codec int) string {
	if info, ok := tables[media][codec]; ok {
		return info.name
	}
	return ""
}

// RateForCodec возвращает тактовую частоту кодека для rtpmap атрибута.
func RateForCodec(media MediaType, codec int) int {
	if info, ok := tables[media][codec]; ok {
		return info.rate
	}
	return 0
}

// CodecForName разрешает имя из rtpmap в идентификатор кодека.
// Сравнение регистронезависимое, неизвестные имена не являются ошибкой.
func CodecForName(media MediaType, name string) (int, bool) {
	for codec, info := range tables[media] {
		if strings.EqualFold(info.name, name) {
			return codec, true
		}
	}
	return 0, false
}
