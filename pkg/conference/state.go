package conference

import (
	"context"
	"log/slog"

	"github.com/looplab/fsm"
)

// State описывает состояние жизненного цикла участника.
type State int

const (
	StateCreated State = iota
	StateConnecting
	StateWaitingAccept
	StateConnected
	StateError
	StateTimeout
	StateBusy
	StateDeclined
	StateNotFound
	StateDisconnected
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "CREATED"
	case StateConnecting:
		return "CONNECTING"
	case StateWaitingAccept:
		return "WAITING_ACCEPT"
	case StateConnected:
		return "CONNECTED"
	case StateError:
		return "ERROR"
	case StateTimeout:
		return "TIMEOUT"
	case StateBusy:
		return "BUSY"
	case StateDeclined:
		return "DECLINED"
	case StateNotFound:
		return "NOTFOUND"
	case StateDisconnected:
		return "DISCONNECTED"
	case StateDestroyed:
		return "DESTROYED"
	default:
		return "UNKNOWN"
	}
}

// Terminal сообщает, достигло ли состояние конца жизненного цикла.
func (s State) Terminal() bool { return s == StateDestroyed }

// Failure сообщает, является ли состояние отказным.
func (s State) Failure() bool {
	switch s {
	case StateError, StateTimeout, StateBusy, StateDeclined, StateNotFound, StateDisconnected:
		return true
	default:
		return false
	}
}

func stateForName(name string) State {
	for s := StateCreated; s <= StateDestroyed; s++ {
		if s.String() == name {
			return s
		}
	}
	return StateCreated
}

// eventForState отображает целевое состояние в имя события автомата.
func eventForState(s State) string {
	switch s {
	case StateConnecting:
		return "dial"
	case StateWaitingAccept:
		return "ring"
	case StateConnected:
		return "connect"
	case StateError:
		return "fail"
	case StateTimeout:
		return "timeout"
	case StateBusy:
		return "busy"
	case StateDeclined:
		return "decline"
	case StateNotFound:
		return "notfound"
	case StateDisconnected:
		return "disconnect"
	case StateDestroyed:
		return "destroy"
	default:
		return ""
	}
}

var pendingStates = []string{
	StateCreated.String(),
	StateConnecting.String(),
	StateWaitingAccept.String(),
	StateConnected.String(),
}

var failureStates = []string{
	StateError.String(),
	StateTimeout.String(),
	StateBusy.String(),
	StateDeclined.String(),
	StateNotFound.String(),
	StateDisconnected.String(),
}

// newStateMachine строит конечный автомат участника. Колбэк notify
// вызывается синхронно до смены состояния: слушатели видят уходящий
// переход.
func newStateMachine(notify func(next State)) *fsm.FSM {
	allButDestroyed := append(append([]string{}, pendingStates...), failureStates...)

	return fsm.NewFSM(
		StateCreated.String(),
		fsm.Events{
			{Name: "ring", Src: []string{StateCreated.String()}, Dst: StateWaitingAccept.String()},
			{Name: "dial", Src: []string{StateCreated.String()}, Dst: StateConnecting.String()},
			{Name: "connect", Src: []string{StateWaitingAccept.String(), StateConnecting.String()}, Dst: StateConnected.String()},
			{Name: "fail", Src: pendingStates, Dst: StateError.String()},
			{Name: "timeout", Src: pendingStates, Dst: StateTimeout.String()},
			{Name: "busy", Src: pendingStates, Dst: StateBusy.String()},
			{Name: "decline", Src: pendingStates, Dst: StateDeclined.String()},
			{Name: "notfound", Src: pendingStates, Dst: StateNotFound.String()},
			{Name: "disconnect", Src: pendingStates, Dst: StateDisconnected.String()},
			{Name: "destroy", Src: allButDestroyed, Dst: StateDestroyed.String()},
		},
		fsm.Callbacks{
			"before_event": func(ctx context.Context, e *fsm.Event) {
				notify(stateForName(e.Dst))
			},
		},
	)
}

// transition переводит автомат в целевое состояние. Недопустимый
// переход логируется и не меняет состояние.
func transition(machine *fsm.FSM, target State, logger *slog.Logger) bool {
	if err := machine.Event(context.Background(), eventForState(target)); err != nil {
		logger.Warn("недопустимый переход состояния",
			"current", machine.Current(), "target", target.String(), "error", err)
		return false
	}
	return true
}
