package media_sdp

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"strings"
)

// DefaultCryptoSuite — SDES suite, используемый при генерации локальных
// ключей (RFC 4568).
const DefaultCryptoSuite = "AES_CM_128_HMAC_SHA1_80"

// CryptoInfo содержит параметры SDES шифрования одного медиа потока:
// suite и ключ+соль в base64, как в атрибуте a=crypto.
type CryptoInfo struct {
	Suite string
	Key   string
}

// GenerateCryptoInfo создает локальные SDES параметры: 30 случайных
// байт ключевого материала, закодированных в base64.
func GenerateCryptoInfo() CryptoInfo {
	key := make([]byte, 30)
	// crypto/rand.Read не возвращает ошибку начиная с go1.24
	_, _ = rand.Read(key)
	return CryptoInfo{
		Suite: DefaultCryptoSuite,
		Key:   base64.StdEncoding.EncodeToString(key),
	}
}

// ICEInfo содержит ICE креденшелы одного медиа потока
// (a=ice-ufrag / a=ice-pwd, RFC 8839).
type ICEInfo struct {
	Ufrag string
	Pwd   string
}

// GenerateICEInfo создает локальные ICE креденшелы: 8 байт ufrag и
// 22 байта пароля в hex кодировке.
func GenerateICEInfo() ICEInfo {
	ufrag := make([]byte, 8)
	pwd := make([]byte, 22)
	_, _ = rand.Read(ufrag)
	_, _ = rand.Read(pwd)
	return ICEInfo{
		Ufrag: strings.ToUpper(hex.EncodeToString(ufrag)),
		Pwd:   strings.ToUpper(hex.EncodeToString(pwd)),
	}
}
