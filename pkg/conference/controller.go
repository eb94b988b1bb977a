package conference

import (
	"github.com/arzzra/media_gateway/pkg/codecs"
	"github.com/arzzra/media_gateway/pkg/mcu"
)

// MediaController — срез каталога микшера, который используют
// конференция и участники. Реализуется *mcu.Client; в тестах
// подменяется дублером.
type MediaController interface {
	CreateConference(tag string, vadMode, queueID int) (int, error)
	DeleteConference(confID int) error
	SetCompositionType(confID, mosaicID, layout, size int) error

	CreateParticipant(confID int, name string, legType, mosaicID, sidebarID int) (int, error)
	DeleteParticipant(confID, partID int) error

	AddMosaicParticipant(confID, mosaicID, partID int) error
	RemoveMosaicParticipant(confID, mosaicID, partID int) error
	AddSidebarParticipant(confID, sidebarID, partID int) error
	RemoveSidebarParticipant(confID, sidebarID, partID int) error

	SetLocalSTUNCredentials(confID, partID int, media codecs.MediaType, username, pwd string) error
	SetRemoteSTUNCredentials(confID, partID int, media codecs.MediaType, username, pwd string) error
	SetLocalCryptoSDES(confID, partID int, media codecs.MediaType, suite, key string) error
	SetRemoteCryptoSDES(confID, partID int, media codecs.MediaType, suite, key string) error

	StartReceiving(confID, partID int, media codecs.MediaType, rtpMap map[int]int) (int, error)
	StopReceiving(confID, partID int, media codecs.MediaType) error
	StartSending(confID, partID int, media codecs.MediaType, sendIP string, sendPort int, rtpMap map[int]int) error
	StopSending(confID, partID int, media codecs.MediaType) error

	SetAudioCodec(confID, partID, codec int) error
	SetVideoCodec(confID, partID, codec, size, fps, bitrate, quality, fillLevel, intraPeriod int) error
	SetTextCodec(confID, partID, codec int) error

	SetMute(confID, partID int, media codecs.MediaType, isMuted bool) error
	SendFPU(confID, partID int) error
	GetParticipantStatistics(confID, partID int) (map[string]mcu.MediaStatistics, error)
}

var _ MediaController = (*mcu.Client)(nil)
