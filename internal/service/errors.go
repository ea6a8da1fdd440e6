package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/immxrtalbeast/mockmeet/internal/domain"
	"github.com/immxrtalbeast/mockmeet/internal/repository"
)

var (
	ErrUnauthorized    = errors.New("identity is not a participant of this meeting")
	ErrMeetingFinished = errors.New("meeting is finished")
	ErrEndNotAllowed   = errors.New("not allowed to end this meeting")
	ErrNotInRoom       = errors.New("connection is not registered in the room")
	ErrAlreadyJoined   = errors.New("connection already joined a room")
	ErrBadMessage      = errors.New("malformed signaling message")
	ErrTimeWindow      = errors.New("outside of the meeting time window")
)

type WindowReason string

const (
	WindowNotYetStarted WindowReason = domain.ReasonNotYetStarted
	WindowExpired       WindowReason = domain.ReasonExpired
)

// TimeWindowError carries the boundary the caller missed: the earliest join
// time when the meeting has not started, or the end time once it expired.
type TimeWindowError struct {
	Reason   WindowReason
	Boundary time.Time
}

func (e *TimeWindowError) Error() string {
	if e.Reason == WindowNotYetStarted {
		return fmt.Sprintf("meeting opens at %s", e.Boundary.UTC().Format(time.RFC3339))
	}
	return fmt.Sprintf("meeting ended at %s", e.Boundary.UTC().Format(time.RFC3339))
}

func (e *TimeWindowError) Is(target error) bool {
	return target == ErrTimeWindow
}

// SignalError converts a service error into the error event sent over the
// signaling channel.
func SignalError(err error) domain.SignalMessage {
	var windowErr *TimeWindowError
	switch {
	case errors.As(err, &windowErr):
		boundary := windowErr.Boundary.UTC()
		return domain.ErrorMessage(string(windowErr.Reason), &boundary)
	case errors.Is(err, ErrUnauthorized):
		return domain.ErrorMessage(domain.ReasonUnauthorized, nil)
	case errors.Is(err, repository.ErrSessionNotFound), errors.Is(err, repository.ErrMeetingNotFound):
		return domain.ErrorMessage(domain.ReasonNotFound, nil)
	case errors.Is(err, ErrMeetingFinished):
		return domain.ErrorMessage(domain.ReasonFinished, nil)
	case errors.Is(err, ErrEndNotAllowed), errors.Is(err, ErrNotInRoom), errors.Is(err, ErrAlreadyJoined):
		return domain.ErrorMessage(domain.ReasonNotAllowed, nil)
	case errors.Is(err, ErrBadMessage):
		return domain.ErrorMessage(domain.ReasonBadRequest, nil)
	default:
		return domain.ErrorMessage(domain.ReasonInternal, nil)
	}
}
