package conference

import (
	"errors"
	"fmt"
)

// InvalidStateError возвращается, когда операция вызвана в состоянии,
// из которого она недопустима. Состояние сессии при этом не меняется.
type InvalidStateError struct {
	Operation string
	State     State
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("операция %q недопустима в состоянии %s", e.Operation, e.State)
}

// IsInvalidState сообщает, вызвана ли ошибка недопустимым состоянием.
func IsInvalidState(err error) bool {
	var invalid *InvalidStateError
	return errors.As(err, &invalid)
}
