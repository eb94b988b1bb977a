// Package mcu реализует управляющий клиент медиа-микшера.
//
// Микшер управляется фиксированным каталогом XML-RPC методов
// (конференции, мозаики, сайдбары, участники, провижининг медиа).
// Пакет разделен на два слоя: TimedClient выполняет один позиционный
// вызов с ограниченным временем ожидания, Client поверх него
// маршалирует типизированные аргументы и разбирает конверт returnVal.
// Бизнес-логики здесь нет.
package mcu

import (
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/arzzra/media_gateway/pkg/codecs"
)

// Executor выполняет один удаленный вызов. Продакшн реализация —
// TimedClient, тесты подставляют фиктивную.
type Executor interface {
	Execute(method string, args []interface{}) (Response, error)
}

// Client — типизированный каталог методов микшера.
type Client struct {
	exec Executor
}

// NewClient создает клиент каталога для URL микшера.
func NewClient(url string, timeout time.Duration, logger *slog.Logger) (*Client, error) {
	timed, err := NewTimedClient(url, timeout, logger)
	if err != nil {
		return nil, err
	}
	return &Client{exec: timed}, nil
}

// NewClientWith создает клиент каталога поверх готового исполнителя.
func NewClientWith(exec Executor) *Client {
	return &Client{exec: exec}
}

// Close освобождает ресурсы исполнителя, если тот их держит.
func (c *Client) Close() error {
	if closer, ok := c.exec.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

// call выполняет метод, от которого не нужен результат.
func (c *Client) call(method string, args ...interface{}) error {
	_, err := c.exec.Execute(method, args)
	return err
}

// callForInt выполняет метод и возвращает первый элемент returnVal.
func (c *Client) callForInt(method string, args ...interface{}) (int, error) {
	response, err := c.exec.Execute(method, args)
	if err != nil {
		return 0, err
	}
	if len(response.ReturnVal) == 0 {
		return 0, &RPCError{Method: method, Err: fmt.Errorf("пустой returnVal")}
	}
	return asInt(response.ReturnVal[0]), nil
}

// rtpMapArg конвертирует отображение payload type -> codec в struct
// со строковыми ключами, как того требует проводной формат.
func rtpMapArg(rtpMap map[int]int) map[string]int {
	arg := make(map[string]int, len(rtpMap))
	for pt, codec := range rtpMap {
		arg[strconv.Itoa(pt)] = codec
	}
	return arg
}

func asInt(v interface{}) int {
	switch value := v.(type) {
	case int:
		return value
	case int32:
		return int(value)
	case int64:
		return int(value)
	case float64:
		return int(value)
	default:
		return 0
	}
}

func asString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// GetConferences возвращает конференции, живущие на микшере.
func (c *Client) GetConferences() (map[int]ConferenceInfo, error) {
	response, err := c.exec.Execute("GetConferences", nil)
	if err != nil {
		return nil, err
	}
	conferences := make(map[int]ConferenceInfo, len(response.ReturnVal))
	for _, item := range response.ReturnVal {
		arr, ok := item.([]interface{})
		if !ok || len(arr) < 3 {
			continue
		}
		info := ConferenceInfo{
			ID:       asInt(arr[0]),
			Name:     asString(arr[1]),
			NumParts: asInt(arr[2]),
		}
		conferences[info.ID] = info
	}
	return conferences, nil
}

// CreateConference создает конференцию и возвращает ее идентификатор.
func (c *Client) CreateConference(tag string, vadMode, queueID int) (int, error) {
	return c.callForInt("CreateConference", tag, vadMode, queueID)
}

// DeleteConference удаляет конференцию.
func (c *Client) DeleteConference(confID int) error {
	return c.call("DeleteConference", confID)
}

// CreateMosaic создает мозаику в конференции.
func (c *Client) CreateMosaic(confID, layout, size int) (int, error) {
	return c.callForInt("CreateMosaic", confID, layout, size)
}

// SetMosaicOverlayImage накладывает изображение поверх мозаики.
func (c *Client) SetMosaicOverlayImage(confID, mosaicID int, path string) error {
	return c.call("SetMosaicOverlayImage", confID, mosaicID, path)
}

// ResetMosaicOverlay убирает наложенное изображение.
func (c *Client) ResetMosaicOverlay(confID, mosaicID int) error {
	return c.call("ResetMosaicOverlay", confID, mosaicID)
}

// DeleteMosaic удаляет мозаику.
func (c *Client) DeleteMosaic(confID, mosaicID int) error {
	return c.call("DeleteMosaic", confID, mosaicID)
}

// SetCompositionType меняет раскладку и размер мозаики.
func (c *Client) SetCompositionType(confID, mosaicID, layout, size int) error {
	return c.call("SetCompositionType", confID, mosaicID, layout, size)
}

// SetMosaicSlot закрепляет участника за слотом мозаики.
func (c *Client) SetMosaicSlot(confID, mosaicID, slot, partID int) error {
	return c.call("SetMosaicSlot", confID, mosaicID, slot, partID)
}

// AddMosaicParticipant добавляет участника в мозаику.
func (c *Client) AddMosaicParticipant(confID, mosaicID, partID int) error {
	return c.call("AddMosaicParticipant", confID, mosaicID, partID)
}

// RemoveMosaicParticipant убирает участника из мозаики.
func (c *Client) RemoveMosaicParticipant(confID, mosaicID, partID int) error {
	return c.call("RemoveMosaicParticipant", confID, mosaicID, partID)
}

// CreateSidebar создает сайдбар в конференции.
func (c *Client) CreateSidebar(confID int) (int, error) {
	return c.callForInt("CreateSidebar", confID)
}

// DeleteSidebar удаляет сайдбар.
func (c *Client) DeleteSidebar(confID, sidebarID int) error {
	return c.call("DeleteSidebar", confID, sidebarID)
}

// AddSidebarParticipant добавляет участника в сайдбар.
func (c *Client) AddSidebarParticipant(confID, sidebarID, partID int) error {
	return c.call("AddSidebarParticipant", confID, sidebarID, partID)
}

// RemoveSidebarParticipant убирает участника из сайдбара.
func (c *Client) RemoveSidebarParticipant(confID, sidebarID, partID int) error {
	return c.call("RemoveSidebarParticipant", confID, sidebarID, partID)
}

// CreateParticipant создает участника и возвращает идентификатор,
// назначенный микшером.
func (c *Client) CreateParticipant(confID int, name string, legType, mosaicID, sidebarID int) (int, error) {
	return c.callForInt("CreateParticipant", confID, name, legType, mosaicID, sidebarID)
}

// DeleteParticipant удаляет участника из конференции.
func (c *Client) DeleteParticipant(confID, partID int) error {
	return c.call("DeleteParticipant", confID, partID)
}

// SetParticipantMosaic переносит участника в другую мозаику.
func (c *Client) SetParticipantMosaic(confID, partID, mosaicID int) error {
	return c.call("SetParticipantMosaic", confID, partID, mosaicID)
}

// SetParticipantSidebar переносит участника в другой сайдбар.
func (c *Client) SetParticipantSidebar(confID, partID, sidebarID int) error {
	return c.call("SetParticipantSidebar", confID, partID, sidebarID)
}

// SetLocalSTUNCredentials задает локальные ICE креденшелы потока.
func (c *Client) SetLocalSTUNCredentials(confID, partID int, media codecs.MediaType, username, pwd string) error {
	return c.call("SetLocalSTUNCredentials", confID, partID, media.Value(), username, pwd)
}

// SetRemoteSTUNCredentials задает удаленные ICE креденшелы потока.
func (c *Client) SetRemoteSTUNCredentials(confID, partID int, media codecs.MediaType, username, pwd string) error {
	return c.call("SetRemoteSTUNCredentials", confID, partID, media.Value(), username, pwd)
}

// SetLocalCryptoSDES задает локальный SDES ключ потока.
func (c *Client) SetLocalCryptoSDES(confID, partID int, media codecs.MediaType, suite, key string) error {
	return c.call("SetLocalCryptoSDES", confID, partID, media.Value(), suite, key)
}

// SetRemoteCryptoSDES задает удаленный SDES ключ потока.
func (c *Client) SetRemoteCryptoSDES(confID, partID int, media codecs.MediaType, suite, key string) error {
	return c.call("SetRemoteCryptoSDES", confID, partID, media.Value(), suite, key)
}

// SetRTPProperties задает свойства RTP потока (rtcp-mux и прочие).
func (c *Client) SetRTPProperties(confID, partID int, media codecs.MediaType, properties map[string]string) error {
	return c.call("SetRTPProperties", confID, partID, media.Value(), properties)
}

// StartSending начинает отправку потока на адрес участника.
func (c *Client) StartSending(confID, partID int, media codecs.MediaType, sendIP string, sendPort int, rtpMap map[int]int) error {
	return c.call("StartSending", confID, partID, media.Value(), sendIP, sendPort, rtpMapArg(rtpMap))
}

// StopSending останавливает отправку потока.
func (c *Client) StopSending(confID, partID int, media codecs.MediaType) error {
	return c.call("StopSending", confID, partID, media.Value())
}

// StartReceiving начинает прием потока и возвращает локальный порт,
// выделенный микшером.
func (c *Client) StartReceiving(confID, partID int, media codecs.MediaType, rtpMap map[int]int) (int, error) {
	return c.callForInt("StartReceiving", confID, partID, media.Value(), rtpMapArg(rtpMap))
}

// StopReceiving останавливает прием потока.
func (c *Client) StopReceiving(confID, partID int, media codecs.MediaType) error {
	return c.call("StopReceiving", confID, partID, media.Value())
}

// SetVideoCodec настраивает видео кодек и профиль отправки.
func (c *Client) SetVideoCodec(confID, partID, codec, size, fps, bitrate, quality, fillLevel, intraPeriod int) error {
	return c.call("SetVideoCodec", confID, partID, codec, size, fps, bitrate, quality, fillLevel, intraPeriod)
}

// SetAudioCodec настраивает аудио кодек отправки.
func (c *Client) SetAudioCodec(confID, partID, codec int) error {
	return c.call("SetAudioCodec", confID, partID, codec)
}

// SetTextCodec настраивает текстовый кодек отправки.
func (c *Client) SetTextCodec(confID, partID, codec int) error {
	return c.call("SetTextCodec", confID, partID, codec)
}

// SetMute включает или выключает поток участника.
func (c *Client) SetMute(confID, partID int, media codecs.MediaType, isMuted bool) error {
	muted := 0
	if isMuted {
		muted = 1
	}
	return c.call("SetMute", confID, partID, media.Value(), muted)
}

// SendFPU запрашивает у кодера участника fast picture update.
func (c *Client) SendFPU(confID, partID int) error {
	return c.call("SendFPU", confID, partID)
}

// GetParticipantStatistics возвращает статистику потоков участника,
// ключом служит имя медиа.
func (c *Client) GetParticipantStatistics(confID, partID int) (map[string]MediaStatistics, error) {
	response, err := c.exec.Execute("GetParticipantStatistics", []interface{}{confID, partID})
	if err != nil {
		return nil, err
	}
	stats := make(map[string]MediaStatistics)
	for _, item := range response.ReturnVal {
		arr, ok := item.([]interface{})
		if !ok || len(arr) < 8 {
			continue
		}
		stats[asString(arr[0])] = MediaStatistics{
			IsReceiving:     asInt(arr[1]) == 1,
			IsSending:       asInt(arr[2]) == 1,
			LostRecvPackets: asInt(arr[3]),
			NumRecvPackets:  asInt(arr[4]),
			NumSendPackets:  asInt(arr[5]),
			TotalRecvBytes:  asInt(arr[6]),
			TotalSendBytes:  asInt(arr[7]),
		}
	}
	return stats, nil
}

// StartBroadcaster запускает трансляцию конференции.
func (c *Client) StartBroadcaster(confID int) error {
	return c.call("StartBroadcaster", confID)
}

// StopBroadcaster останавливает трансляцию конференции.
func (c *Client) StopBroadcaster(confID int) error {
	return c.call("StopBroadcaster", confID)
}

// AddConferenceToken регистрирует токен доступа к конференции.
func (c *Client) AddConferenceToken(confID int, token string) error {
	return c.call("AddConferenceToken", confID, token)
}

// AddParticipantInputToken регистрирует входной токен участника.
func (c *Client) AddParticipantInputToken(confID, partID int, token string) error {
	return c.call("AddParticipantInputToken", confID, partID, token)
}

// AddParticipantOutputToken регистрирует выходной токен участника.
func (c *Client) AddParticipantOutputToken(confID, partID int, token string) error {
	return c.call("AddParticipantOutputToken", confID, partID, token)
}

// CreatePlayer создает проигрыватель в конференции.
func (c *Client) CreatePlayer(confID, privateID int, name string) (int, error) {
	return c.callForInt("CreatePlayer", confID, privateID, name)
}

// DeletePlayer удаляет проигрыватель.
func (c *Client) DeletePlayer(confID, playerID int) error {
	return c.call("DeletePlayer", confID, playerID)
}

// StartPlaying начинает проигрывание файла.
func (c *Client) StartPlaying(confID, playerID int, filename string, loop int) error {
	return c.call("StartPlaying", confID, playerID, filename, loop)
}

// StopPlaying останавливает проигрывание.
func (c *Client) StopPlaying(confID, playerID int) error {
	return c.call("StopPlaying", confID, playerID)
}

// StartRecordingParticipant начинает запись участника в файл.
func (c *Client) StartRecordingParticipant(confID, partID int, filename string) error {
	return c.call("StartRecordingParticipant", confID, partID, filename)
}

// StopRecordingParticipant останавливает запись участника.
func (c *Client) StopRecordingParticipant(confID, partID int) error {
	return c.call("StopRecordingParticipant", confID, partID)
}

// EventQueueCreate создает очередь событий и возвращает ее id.
func (c *Client) EventQueueCreate() (int, error) {
	return c.callForInt("EventQueueCreate")
}

// EventQueueDelete удаляет очередь событий.
func (c *Client) EventQueueDelete(queueID int) error {
	return c.call("EventQueueDelete", queueID)
}
