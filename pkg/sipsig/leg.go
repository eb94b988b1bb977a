package sipsig

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"

	"github.com/arzzra/media_gateway/pkg/conference"
)

const sdpContentType = "application/sdp"

// requestTimeout ограничивает внутридиалоговые запросы (BYE, INFO).
const requestTimeout = 10 * time.Second

// leg — SIP-сторона одной ноги участника. Входящая нога отвечает на
// сохраненную INVITE-транзакцию, исходящая строит запросы в контексте
// диалога по тегам и Call-ID.
type leg struct {
	stack *Stack

	callID   string
	localTag string
	isUAC    bool

	// target — Request-URI исходящей ноги.
	target sip.Uri

	mu         sync.Mutex
	remoteTag  string
	invite     *sip.Request
	inviteTx   sip.ServerTransaction
	clientTx   sip.ClientTransaction
	inviteResp *sip.Response

	localSeq uint32
	activity atomic.Int64

	part *conference.RTPParticipant
}

// generateTag возвращает случайный tag для заголовков From/To.
func generateTag() string {
	b := make([]byte, 8)
	rand.Read(b)
	return hex.EncodeToString(b)
}

func (l *leg) touch() {
	l.activity.Store(time.Now().UnixNano())
}

func (l *leg) lastActivity() time.Time {
	return time.Unix(0, l.activity.Load())
}

// SendRinging отправляет 180 Ringing на входящий INVITE.
func (l *leg) SendRinging() error {
	return l.respondInvite(sip.StatusRinging, "Ringing", "")
}

// SendAccept отправляет 200 OK с локальным SDP.
func (l *leg) SendAccept(body string) error {
	return l.respondInvite(sip.StatusOK, "OK", body)
}

// SendReject отправляет финальный отрицательный ответ.
func (l *leg) SendReject(code int, reason string) error {
	return l.respondInvite(code, reason, "")
}

func (l *leg) respondInvite(code int, reason string, body string) error {
	l.mu.Lock()
	req, tx := l.invite, l.inviteTx
	l.mu.Unlock()
	if req == nil || tx == nil {
		return fmt.Errorf("нога не является входящей")
	}

	var content []byte
	if body != "" {
		content = []byte(body)
	}
	res := sip.NewResponseFromRequest(req, code, reason, content)

	to := res.To()
	if to.Params == nil {
		to.Params = make(sip.HeaderParams)
	}
	to.Params["tag"] = l.localTag

	if code >= 200 && code < 300 {
		res.AppendHeader(&l.stack.contact)
	}
	if content != nil {
		res.AppendHeader(sip.NewHeader("Content-Type", sdpContentType))
		res.AppendHeader(sip.NewHeader("Content-Length", fmt.Sprintf("%d", len(content))))
	}

	l.touch()
	return tx.Respond(res)
}

// SendSetup отправляет исходящий INVITE с локальным SDP и запускает
// чтение ответов транзакции.
func (l *leg) SendSetup(body string) error {
	if !l.isUAC {
		return fmt.Errorf("нога не является исходящей")
	}

	invite := sip.NewRequest(sip.INVITE, l.target)
	invite.AppendHeader(sip.NewHeader("Call-ID", l.callID))
	invite.AppendHeader(&sip.FromHeader{
		Address: l.stack.localURI,
		Params:  sip.HeaderParams{"tag": l.localTag},
	})
	invite.AppendHeader(&sip.ToHeader{
		Address: l.target,
		Params:  sip.HeaderParams{},
	})
	invite.AppendHeader(&sip.CSeqHeader{
		SeqNo:      atomic.AddUint32(&l.localSeq, 1),
		MethodName: sip.INVITE,
	})
	invite.AppendHeader(sip.NewHeader("Max-Forwards", "70"))
	invite.AppendHeader(&l.stack.contact)
	invite.AppendHeader(sip.NewHeader("User-Agent", l.stack.cfg.UserAgent))

	invite.SetBody([]byte(body))
	invite.AppendHeader(sip.NewHeader("Content-Type", sdpContentType))

	tx, err := l.stack.client.TransactionRequest(context.Background(), invite)
	if err != nil {
		return fmt.Errorf("ошибка отправки INVITE: %w", err)
	}

	l.mu.Lock()
	l.invite = invite
	l.clientTx = tx
	l.mu.Unlock()

	l.touch()
	go l.consumeResponses(tx)
	return nil
}

// consumeResponses доставляет ответы INVITE-транзакции участнику.
// После финального ответа чтение прекращается.
func (l *leg) consumeResponses(tx sip.ClientTransaction) {
	for {
		select {
		case resp, ok := <-tx.Responses():
			if !ok {
				return
			}
			l.touch()
			if l.deliverResponse(resp) {
				return
			}
		case <-tx.Done():
			// Финальный ответ мог опередить закрытие транзакции.
			select {
			case resp, ok := <-tx.Responses():
				if ok {
					l.touch()
					if l.deliverResponse(resp) {
						return
					}
				}
			default:
			}
			l.part.OnTimeout()
			return
		}
	}
}

// deliverResponse передает ответ участнику; возвращает true для
// финального ответа.
func (l *leg) deliverResponse(resp *sip.Response) bool {
	code := resp.StatusCode
	if code >= 200 && code < 300 {
		l.mu.Lock()
		l.inviteResp = resp
		if tag := resp.To().Params["tag"]; tag != "" {
			l.remoteTag = tag
		}
		l.mu.Unlock()
	}
	l.part.OnSetupResponse(code, string(resp.Body()))
	return code >= 200
}

// SendAck подтверждает финальный 2xx ответ на исходящий INVITE.
func (l *leg) SendAck() error {
	l.mu.Lock()
	invite, resp := l.invite, l.inviteResp
	l.mu.Unlock()
	if invite == nil || resp == nil {
		return fmt.Errorf("нет INVITE-транзакции для подтверждения")
	}

	ack := sip.NewRequest(sip.ACK, invite.Recipient)
	ack.AppendHeader(sip.NewHeader("Call-ID", l.callID))
	ack.AppendHeader(invite.From())
	ack.AppendHeader(resp.To())
	ack.AppendHeader(&sip.CSeqHeader{
		SeqNo:      invite.CSeq().SeqNo,
		MethodName: sip.ACK,
	})
	ack.AppendHeader(sip.NewHeader("Max-Forwards", "70"))

	l.touch()
	return l.stack.client.WriteRequest(ack, sipgo.ClientRequestAddVia)
}

// SendCancel отменяет исходящий INVITE до финального ответа: CANCEL
// в той же транзакции, затем принудительное завершение клиентской
// транзакции.
func (l *leg) SendCancel() error {
	l.mu.Lock()
	invite, tx := l.invite, l.clientTx
	l.mu.Unlock()
	if invite == nil || tx == nil {
		return fmt.Errorf("нет активной INVITE-транзакции")
	}

	l.touch()
	err := l.stack.client.WriteRequest(buildCancel(invite, l.callID))
	tx.Terminate()
	return err
}

// buildCancel строит CANCEL для неподтвержденного INVITE: тот же
// Request-URI, Via, From/To и номер CSeq, чтобы запрос попал в
// отменяемую транзакцию.
func buildCancel(invite *sip.Request, callID string) *sip.Request {
	cancel := sip.NewRequest(sip.CANCEL, invite.Recipient)
	if via := invite.Via(); via != nil {
		cancel.AppendHeader(via)
	}
	cancel.AppendHeader(sip.NewHeader("Call-ID", callID))
	cancel.AppendHeader(invite.From())
	cancel.AppendHeader(invite.To())
	cancel.AppendHeader(&sip.CSeqHeader{
		SeqNo:      invite.CSeq().SeqNo,
		MethodName: sip.CANCEL,
	})
	cancel.AppendHeader(sip.NewHeader("Max-Forwards", "70"))
	return cancel
}

// SendBye завершает установленный диалог.
func (l *leg) SendBye() error {
	req, err := l.buildRequest(sip.BYE)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	l.touch()
	res, err := l.stack.client.Do(ctx, req)
	if err != nil {
		return fmt.Errorf("ошибка отправки BYE: %w", err)
	}
	if res.StatusCode >= 300 {
		return fmt.Errorf("BYE отклонен с кодом %d", res.StatusCode)
	}
	return nil
}

// SendInfo отправляет внутридиалоговый INFO с указанным телом.
func (l *leg) SendInfo(contentType, body string) error {
	req, err := l.buildRequest(sip.INFO)
	if err != nil {
		return err
	}
	req.SetBody([]byte(body))
	req.AppendHeader(sip.NewHeader("Content-Type", contentType))

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	l.touch()
	res, err := l.stack.client.Do(ctx, req)
	if err != nil {
		return fmt.Errorf("ошибка отправки INFO: %w", err)
	}
	if res.StatusCode >= 300 {
		return fmt.Errorf("INFO отклонен с кодом %d", res.StatusCode)
	}
	return nil
}

// Close снимает ногу с маршрутизации стека.
func (l *leg) Close() {
	l.stack.removeLeg(l.callID)
}

// buildRequest создает внутридиалоговый запрос с правильными From/To
// в зависимости от роли ноги.
func (l *leg) buildRequest(method sip.RequestMethod) (*sip.Request, error) {
	l.mu.Lock()
	invite, remoteTag := l.invite, l.remoteTag
	l.mu.Unlock()
	if invite == nil {
		return nil, fmt.Errorf("диалог не установлен")
	}

	var reqURI, fromURI, toURI sip.Uri
	var fromTag, toTag string
	if l.isUAC {
		reqURI = invite.Recipient
		fromURI = invite.From().Address
		toURI = invite.To().Address
		fromTag, toTag = l.localTag, remoteTag
	} else {
		reqURI = invite.From().Address
		if c := invite.Contact(); c != nil {
			reqURI = c.Address
		}
		fromURI = invite.To().Address
		toURI = invite.From().Address
		fromTag, toTag = l.localTag, remoteTag
	}

	req := sip.NewRequest(method, reqURI)
	req.AppendHeader(sip.NewHeader("Call-ID", l.callID))
	req.AppendHeader(&sip.FromHeader{
		Address: fromURI,
		Params:  sip.HeaderParams{"tag": fromTag},
	})
	toHeader := &sip.ToHeader{
		Address: toURI,
		Params:  sip.HeaderParams{},
	}
	if toTag != "" {
		toHeader.Params["tag"] = toTag
	}
	req.AppendHeader(toHeader)
	req.AppendHeader(&sip.CSeqHeader{
		SeqNo:      atomic.AddUint32(&l.localSeq, 1),
		MethodName: method,
	})
	req.AppendHeader(sip.NewHeader("Max-Forwards", "70"))
	req.AppendHeader(&l.stack.contact)
	req.AppendHeader(sip.NewHeader("User-Agent", l.stack.cfg.UserAgent))
	return req, nil
}

var _ conference.Signaling = (*leg)(nil)
