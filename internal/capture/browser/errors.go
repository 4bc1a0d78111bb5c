package browser

import "errors"

// Session errors - returned while driving a page
var (
	ErrWaitTimeout    = errors.New("wait timeout exceeded")
	ErrNavigateFailed = errors.New("navigation failed")
	ErrCaptureFailed  = errors.New("screenshot capture failed")
	ErrBadImage       = errors.New("captured data is not a valid PNG")
)

// Engine errors - returned during lifecycle management
var (
	ErrEngineClosed  = errors.New("rendering engine is closed")
	ErrEngineDead    = errors.New("rendering engine is not responsive")
	ErrLaunchFailed  = errors.New("engine launch failed")
	ErrSessionLimit  = errors.New("session limit reached")
	ErrSessionClosed = errors.New("session is closed")
)
