package conference

import (
	"github.com/arzzra/media_gateway/pkg/codecs"
)

// StateChangeHandler вызывается синхронно при каждом переходе
// состояния участника, до обновления самого состояния: обработчик видит
// уходящий переход.
type StateChangeHandler func(part Participant, next State)

// Participant — сессия одного участника конференции. Единственная
// производственная реализация — RTPParticipant; интерфейс существует
// ради тестовых дублеров.
type Participant interface {
	ID() int
	SessionID() string
	Name() string
	State() State

	// Accept принимает входящую ногу в состоянии WAITING_ACCEPT.
	Accept() error
	// Reject отклоняет входящую ногу в состоянии WAITING_ACCEPT.
	Reject(code int, reason string) error
	// End корректно завершает ногу в любом состоянии.
	End()
	// Destroy — идемпотентное терминальное действие: best-effort
	// удаление сущности микшера и переход в DESTROYED.
	Destroy()
	// Restart пересоздает сущность микшера после рестарта медиа
	// сервера.
	Restart()
	// RequestFPU запрашивает у удаленной стороны обновление ключевого
	// кадра.
	RequestFPU()
	// SetVideoProfile меняет профиль исходящего видео на лету.
	SetVideoProfile(profile Profile) error

	SetMuted(media codecs.MediaType, muted bool)
	Muted(media codecs.MediaType) bool

	AddListener(handler StateChangeHandler)

	MosaicID() int
	SidebarID() int
}

// Signaling — транспорт сигнализации одной ноги. Реализация отвечает за
// доставку сообщений удаленной стороне; участник владеет порядком
// вызовов.
type Signaling interface {
	// SendRinging отправляет предварительный ответ на входящий setup.
	SendRinging() error
	// SendAccept отправляет финальный положительный ответ с локальным SDP.
	SendAccept(body string) error
	// SendReject отправляет финальный отрицательный ответ.
	SendReject(code int, reason string) error
	// SendSetup отправляет исходящий setup с локальным SDP.
	SendSetup(body string) error
	// SendAck подтверждает финальный ответ удаленной стороны.
	SendAck() error
	// SendCancel отменяет исходящий setup.
	SendCancel() error
	// SendBye завершает установленную ногу.
	SendBye() error
	// SendInfo отправляет внутридиалоговое информационное сообщение.
	SendInfo(contentType, body string) error
	// Close освобождает ресурсы сигнализации ноги.
	Close()
}
