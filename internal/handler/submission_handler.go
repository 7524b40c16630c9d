package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/YubinShin/creverse/internal/dto"
	"github.com/YubinShin/creverse/internal/middleware"
	"github.com/YubinShin/creverse/internal/service"
	"github.com/YubinShin/creverse/internal/utils"
)

// SubmissionHandler manages submission endpoints.
type SubmissionHandler struct {
	service service.SubmissionService
	logger  zerolog.Logger
}

// NewSubmissionHandler builds a submission handler instance.
func NewSubmissionHandler(service service.SubmissionService, logger zerolog.Logger) *SubmissionHandler {
	return &SubmissionHandler{
		service: service,
		logger:  logger.With().Str("component", "submission_handler").Logger(),
	}
}

// Register attaches the routes to the provided router group. Extra handlers
// guard the create and reevaluate routes respectively.
func (h *SubmissionHandler) Register(router fiber.Router, createGuard, reevaluateGuard fiber.Handler) {
	router.Post("", chain(createGuard, h.create)...)
	router.Get("", h.list)
	router.Get("/:id", h.get)
	router.Post("/:id/reevaluate", chain(reevaluateGuard, h.reevaluate)...)
}

func chain(guard, handler fiber.Handler) []fiber.Handler {
	if guard == nil {
		return []fiber.Handler{handler}
	}
	return []fiber.Handler{guard, handler}
}

func (h *SubmissionHandler) create(c *fiber.Ctx) error {
	studentID, err := parseFormUint(c, "studentId")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	payload := dto.SubmissionCreateRequest{
		StudentID:     studentID,
		ComponentType: c.FormValue("componentType"),
		SubmitText:    c.FormValue("submitText"),
		TraceID:       middleware.GetTraceID(c),
	}

	video, err := c.FormFile("video")
	if err != nil {
		video = nil
	}

	response, err := h.service.Create(c.UserContext(), payload, video)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusAccepted, "submission accepted", response)
}

func (h *SubmissionHandler) get(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	submission, err := h.service.Get(c.UserContext(), id)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "submission retrieved", submission)
}

func (h *SubmissionHandler) list(c *fiber.Ctx) error {
	var query dto.SubmissionListQuery
	if err := c.QueryParser(&query); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid query parameters")
	}

	page, err := h.service.List(c.UserContext(), query)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "submissions retrieved", page)
}

func (h *SubmissionHandler) reevaluate(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	response, err := h.service.Reevaluate(c.UserContext(), id, middleware.GetTraceID(c))
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusAccepted, "reevaluation queued", response)
}

func (h *SubmissionHandler) handleError(c *fiber.Ctx, err error) error {
	switch {
	case isValidationError(err):
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrVideoRequired):
		return utils.SendError(c, fiber.StatusBadRequest, "video is required")
	case errors.Is(err, service.ErrStudentNotFound):
		return utils.SendError(c, fiber.StatusBadRequest, "invalid studentId")
	case errors.Is(err, service.ErrUnsupportedVideo):
		return utils.SendError(c, fiber.StatusUnsupportedMediaType, err.Error())
	case errors.Is(err, service.ErrSubmissionNotFound):
		return utils.SendError(c, fiber.StatusNotFound, "submission not found")
	case errors.Is(err, service.ErrSubmissionNotReady):
		return utils.SendError(c, fiber.StatusConflict, "submission is still being processed")
	case errors.Is(err, service.ErrEnqueueFailed):
		requestLogger(h.logger, c).Error().Err(err).Msg("failed to enqueue job")
		return utils.SendError(c, fiber.StatusServiceUnavailable, "queue unavailable")
	default:
		requestLogger(h.logger, c).Error().Err(err).Msg("internal server error")
		return utils.SendError(c, fiber.StatusInternalServerError, "internal server error")
	}
}
