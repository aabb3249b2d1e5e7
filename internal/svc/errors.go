package svc

import (
	"errors"
	"fmt"
)

// SVCError reports a failure inside an SVC handler, or a dispatch for
// an SVC number with no registered handler. Either is fatal for the
// current EmuStart call.
type SVCError struct {
	Number uint16
	Reason string
}

func (e *SVCError) Error() string {
	return fmt.Sprintf("svc #%d: %s", e.Number, e.Reason)
}

var (
	errNeedsNumber  = errors.New("svc: ShapeSimpleSVC requires a number; call AssembleSimpleSVC directly")
	errUnknownShape = errors.New("svc: unknown trampoline shape")
)
