// Package media_sdp реализует модель описания сессии поверх pion/sdp.
//
// Пакет не занимается согласованием: он дает типизированный доступ к
// полям, которые нужны движку переговоров (bandwidth с конвертацией
// TIAS, rtpmap/fmtp, crypto, ICE креденшелы, кандидаты), и гарантирует
// закон обратимости Parse(Serialize(d)) для описаний, которые сам
// шлюз генерирует.
package media_sdp

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pion/sdp/v3"
)

// Parse разбирает текст описания сессии.
// Любая ошибка грамматики возвращается как SDPError с кодом
// ErrorCodeParse: для вызывающего это провал переговоров.
func Parse(text string) (*sdp.SessionDescription, error) {
	desc := &sdp.SessionDescription{}
	if err := desc.UnmarshalString(text); err != nil {
		return nil, WrapSDPError(ErrorCodeParse, err, "не удалось разобрать описание сессии")
	}
	return desc, nil
}

// Serialize сериализует описание сессии в текст.
func Serialize(desc *sdp.SessionDescription) (string, error) {
	raw, err := desc.Marshal()
	if err != nil {
		return "", WrapSDPError(ErrorCodeSerialize, err, "не удалось сериализовать описание сессии")
	}
	return string(raw), nil
}

// RTPMap описывает одну a=rtpmap запись медиа секции.
type RTPMap struct {
	PayloadType int
	Name        string
	ClockRate   int
}

// RTPMaps собирает все a=rtpmap атрибуты медиа секции в отображение
// payload type -> rtpmap. Некорректные записи пропускаются.
func RTPMaps(md *sdp.MediaDescription) map[int]RTPMap {
	maps := make(map[int]RTPMap)
	for _, attr := range md.Attributes {
		if attr.Key != "rtpmap" {
			continue
		}
		// Формат: "<fmt> <name>/<rate>[/<params>]"
		fields := strings.SplitN(attr.Value, " ", 2)
		if len(fields) != 2 {
			continue
		}
		pt, err := strconv.Atoi(fields[0])
		if err != nil {
			continue
		}
		parts := strings.Split(fields[1], "/")
		if len(parts) < 2 {
			continue
		}
		rate, err := strconv.Atoi(parts[1])
		if err != nil {
			continue
		}
		maps[pt] = RTPMap{PayloadType: pt, Name: parts[0], ClockRate: rate}
	}
	return maps
}

// FormatParameters возвращает значение a=fmtp для payload type.
func FormatParameters(md *sdp.MediaDescription, payloadType int) (string, bool) {
	prefix := strconv.Itoa(payloadType) + " "
	for _, attr := range md.Attributes {
		if attr.Key == "fmtp" && strings.HasPrefix(attr.Value, prefix) {
			return strings.TrimPrefix(attr.Value, prefix), true
		}
	}
	return "", false
}

// ParseCryptoAttribute разбирает значение a=crypto атрибута (RFC 4568):
// "<tag> <suite> inline:<key>[|...]". Параметры lifetime/MKI после
// ключа отбрасываются.
func ParseCryptoAttribute(value string) (CryptoInfo, error) {
	fields := strings.Fields(value)
	if len(fields) < 3 {
		return CryptoInfo{}, NewSDPError(ErrorCodeMalformedAttribute, "некорректный crypto атрибут: %q", value)
	}
	keyParam := fields[2]
	if !strings.HasPrefix(keyParam, "inline:") {
		return CryptoInfo{}, NewSDPError(ErrorCodeMalformedAttribute, "crypto атрибут без inline ключа: %q", value)
	}
	key := strings.TrimPrefix(keyParam, "inline:")
	// Отрезаем lifetime и MKI
	if idx := strings.IndexByte(key, '|'); idx >= 0 {
		key = key[:idx]
	}
	return CryptoInfo{Suite: fields[1], Key: key}, nil
}

// CryptoAttributeValue форматирует значение a=crypto атрибута.
func CryptoAttributeValue(tag int, info CryptoInfo) string {
	return fmt.Sprintf("%d %s inline:%s", tag, info.Suite, info.Key)
}

// MediaCrypto возвращает SDES параметры медиа секции, если она несет
// crypto атрибут.
func MediaCrypto(md *sdp.MediaDescription) (CryptoInfo, bool, error) {
	value, ok := md.Attribute("crypto")
	if !ok {
		return CryptoInfo{}, false, nil
	}
	info, err := ParseCryptoAttribute(value)
	if err != nil {
		return CryptoInfo{}, false, err
	}
	return info, true, nil
}

// ICECredentials извлекает пару ice-ufrag/ice-pwd из набора атрибутов
// сессии или медиа секции. Пара считается присутствующей только когда
// заданы оба атрибута.
func ICECredentials(attrs []sdp.Attribute) (ICEInfo, bool) {
	var info ICEInfo
	var haveUfrag, havePwd bool
	for _, attr := range attrs {
		switch attr.Key {
		case "ice-ufrag":
			info.Ufrag = attr.Value
			haveUfrag = true
		case "ice-pwd":
			info.Pwd = attr.Value
			havePwd = true
		}
	}
	return info, haveUfrag && havePwd
}

// MinBandwidthKbps возвращает минимум по строкам b= в килобитах в
// секунду. Значения TIAS заданы в битах в секунду и конвертируются
// делением на 1000. Ноль означает отсутствие ограничения.
func MinBandwidthKbps(bandwidths []sdp.Bandwidth) int {
	min := 0
	for _, band := range bandwidths {
		rate := int(band.Bandwidth)
		if strings.EqualFold(band.Type, "TIAS") {
			rate /= 1000
		}
		if min == 0 || rate < min {
			min = rate
		}
	}
	return min
}

// ConnectionAddress возвращает адрес соединения медиа секции: c= внутри
// секции перекрывает сессионный уровень.
func ConnectionAddress(desc *sdp.SessionDescription, md *sdp.MediaDescription) string {
	addr := ""
	if desc.ConnectionInformation != nil && desc.ConnectionInformation.Address != nil {
		addr = desc.ConnectionInformation.Address.Address
	}
	if md.ConnectionInformation != nil && md.ConnectionInformation.Address != nil {
		addr = md.ConnectionInformation.Address.Address
	}
	return addr
}

// HostCandidateValue форматирует значение a=candidate атрибута для
// host кандидата (RFC 8839).
func HostCandidateValue(foundation string, component int, priority uint32, addr string, port int) string {
	return fmt.Sprintf("%s %d UDP %d %s %d typ host", foundation, component, priority, addr, port)
}
