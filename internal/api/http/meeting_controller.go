package http

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/immxrtalbeast/mockmeet/internal/api/http/converter"
	"github.com/immxrtalbeast/mockmeet/internal/repository"
	"github.com/immxrtalbeast/mockmeet/internal/service"
	"github.com/immxrtalbeast/mockmeet/lib/logger/sl"
)

type MeetingController struct {
	meetings  service.MeetingInteractor
	signaling service.SignalingInteractor
	ice       service.ICEProvider
	log       *slog.Logger
}

func NewMeetingController(
	meetings service.MeetingInteractor,
	signaling service.SignalingInteractor,
	ice service.ICEProvider,
	log *slog.Logger,
) *MeetingController {
	if log == nil {
		log = slog.Default()
	}
	return &MeetingController{
		meetings:  meetings,
		signaling: signaling,
		ice:       ice,
		log:       log,
	}
}

// Join is the HTTP preflight for a call. It runs the same checks as the
// signaling join but does not occupy a slot.
func (c *MeetingController) Join(ctx *gin.Context) {
	admission, err := c.meetings.Admit(ctx.Request.Context(), ctx.Param("id"), IdentityFrom(ctx))
	if err != nil {
		c.writeError(ctx, "api.meeting.join", err)
		return
	}
	ctx.JSON(http.StatusOK, converter.AdmissionToApi(admission))
}

func (c *MeetingController) End(ctx *gin.Context) {
	meeting, err := c.signaling.EndAsParticipant(ctx.Request.Context(), ctx.Param("id"), IdentityFrom(ctx))
	if err != nil {
		c.writeError(ctx, "api.meeting.end", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"meeting": converter.MeetingToApi(meeting, c.signaling.Snapshot(meeting.ID))})
}

// Get returns the meeting to one of its participants, finishing it first if
// its window has passed while nobody is connected.
func (c *MeetingController) Get(ctx *gin.Context) {
	id := ctx.Param("id")
	if _, err := c.meetings.RoleOf(ctx.Request.Context(), id, IdentityFrom(ctx)); err != nil {
		c.writeError(ctx, "api.meeting.get", err)
		return
	}

	meeting, err := c.meetings.Reconcile(ctx.Request.Context(), id)
	if err != nil {
		c.writeError(ctx, "api.meeting.get", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"meeting": converter.MeetingToApi(meeting, c.signaling.Snapshot(id))})
}

func (c *MeetingController) ICEServers(ctx *gin.Context) {
	servers, err := c.ice.ICEServers()
	if err != nil {
		c.writeError(ctx, "api.meeting.iceServers", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"ice_servers": servers})
}

func (c *MeetingController) writeError(ctx *gin.Context, op string, err error) {
	var windowErr *service.TimeWindowError
	switch {
	case errors.As(err, &windowErr):
		ctx.JSON(http.StatusBadRequest, gin.H{
			"error":    err.Error(),
			"reason":   windowErr.Reason,
			"boundary": windowErr.Boundary,
		})
	case errors.Is(err, service.ErrUnauthorized), errors.Is(err, service.ErrEndNotAllowed):
		ctx.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, repository.ErrSessionNotFound), errors.Is(err, repository.ErrMeetingNotFound):
		ctx.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrMeetingFinished):
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "reason": "finished"})
	default:
		c.log.Error("request failed", slog.String("op", op), sl.Err(err))
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
