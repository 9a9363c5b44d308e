package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/rankcycle/backend/internal/goals"
	"github.com/rankcycle/backend/internal/timeline"
)

var (
	errMissingGoalsService    = errors.New("goals service dependency required")
	errMissingTimelineService = errors.New("timeline service dependency required")
)

// Dependencies wires the HTTP surface to the underlying services.
type Dependencies struct {
	GoalsService    *goals.Service
	TimelineService *timeline.Service
	Dispatcher      *RealtimeDispatcher
	Logger          *zap.Logger
}

// NewHTTPHandler builds the gin router for the goal tracking API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.GoalsService == nil {
		return nil, errMissingGoalsService
	}
	if deps.TimelineService == nil {
		return nil, errMissingTimelineService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	dispatcher := deps.Dispatcher
	if dispatcher == nil {
		dispatcher = NewRealtimeDispatcher()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		goals:      deps.GoalsService,
		timeline:   deps.TimelineService,
		dispatcher: dispatcher,
		logger:     logger,
	}

	router.POST("/goals", handler.handleLockGoal)
	router.GET("/goals/:goalID", handler.handleGoalState)
	router.POST("/goals/:goalID/snapshots", handler.handleIngestSnapshot)
	router.GET("/goals/:goalID/milestones", handler.handleMilestones)
	router.POST("/goals/:goalID/milestones/:month", handler.handleRecordMilestone)
	router.POST("/users/:userID/goals/initialize", handler.handleInitializeGoals)
	router.POST("/users/:userID/goals/refresh", handler.handleRefreshCycle)
	router.GET("/users/:userID/goals", handler.handleListGoals)
	router.GET("/users/:userID/cycle", handler.handleCycleInfo)
	router.GET("/users/:userID/timeline", handler.handleTimeline)
	router.GET("/users/:userID/timeline/stream", handler.handleTimelineStream)

	return router, nil
}

type httpHandler struct {
	goals      *goals.Service
	timeline   *timeline.Service
	dispatcher *RealtimeDispatcher
	logger     *zap.Logger
}

type lockGoalPayload struct {
	UserID     string            `json:"user_id"`
	GoalType   string            `json:"goal_type"`
	Category   string            `json:"goal_category"`
	Unit       string            `json:"unit"`
	Target     goals.Target      `json:"target"`
	Baseline   goals.MetricValue `json:"baseline"`
	CycleStart string            `json:"cycle_start"`
}

type goalStatePayload struct {
	GoalID             string            `json:"goal_id"`
	UserID             string            `json:"user_id"`
	GoalType           string            `json:"goal_type"`
	GoalCategory       string            `json:"goal_category"`
	TargetType         string            `json:"target_type"`
	Unit               string            `json:"unit"`
	Status             string            `json:"status"`
	ProgressPercentage float64           `json:"progress_percentage"`
	Baseline           goals.MetricValue `json:"baseline_value"`
	Current            goals.MetricValue `json:"current_value"`
	Target             goals.Target      `json:"target_value"`
	CycleStart         string            `json:"cycle_start"`
	CycleEnd           string            `json:"cycle_end"`
	IsLocked           bool              `json:"is_locked"`
	LastCalculatedAt   int64             `json:"last_calculated_at_s"`
}

func toGoalStatePayload(state goals.GoalState) goalStatePayload {
	return goalStatePayload{
		GoalID:             state.GoalID,
		UserID:             state.UserID,
		GoalType:           string(state.GoalType),
		GoalCategory:       string(state.Category),
		TargetType:         string(state.TargetKind),
		Unit:               state.Unit,
		Status:             string(state.Status),
		ProgressPercentage: state.ProgressPercentage,
		Baseline:           state.Baseline,
		Current:            state.Current,
		Target:             state.Target,
		CycleStart:         goals.CivilDateOf(state.CycleStart).String(),
		CycleEnd:           goals.CivilDateOf(state.CycleEnd).String(),
		IsLocked:           state.IsLocked,
		LastCalculatedAt:   state.LastCalculatedAt.Unix(),
	}
}

func (h *httpHandler) handleLockGoal(c *gin.Context) {
	var request lockGoalPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	userID, err := goals.NewUserID(request.UserID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_user_id"})
		return
	}
	goalType, err := goals.ParseGoalType(request.GoalType)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_goal_type"})
		return
	}
	cycleStart, ok := parseOptionalDate(request.CycleStart)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_cycle_start"})
		return
	}

	outcome, err := h.goals.LockGoal(c.Request.Context(), goals.Definition{
		UserID:     userID,
		GoalType:   goalType,
		Category:   goals.GoalCategory(request.Category),
		Unit:       request.Unit,
		Target:     request.Target,
		Baseline:   request.Baseline,
		CycleStart: cycleStart,
	})
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	h.publishEvents(outcome.Events)
	c.JSON(http.StatusCreated, toGoalStatePayload(outcome.State))
}

type initializeGoalsPayload struct {
	GoalNames  []string                     `json:"goal_names"`
	Readings   map[string]goals.MetricValue `json:"readings"`
	CycleStart string                       `json:"cycle_start"`
}

func (h *httpHandler) handleInitializeGoals(c *gin.Context) {
	userID, err := goals.NewUserID(c.Param("userID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_user_id"})
		return
	}

	var request initializeGoalsPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	readings, err := parseReadings(request.Readings)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_readings"})
		return
	}
	cycleStart, ok := parseOptionalDate(request.CycleStart)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_cycle_start"})
		return
	}

	outcome, err := h.goals.InitializeGoals(c.Request.Context(), userID, request.GoalNames, readings, cycleStart)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	h.publishEvents(outcome.Events)
	states := make([]goalStatePayload, 0, len(outcome.States))
	for _, state := range outcome.States {
		states = append(states, toGoalStatePayload(state))
	}
	c.JSON(http.StatusCreated, gin.H{"goals": states})
}

func (h *httpHandler) handleRefreshCycle(c *gin.Context) {
	userID, err := goals.NewUserID(c.Param("userID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_user_id"})
		return
	}

	var request initializeGoalsPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	readings, err := parseReadings(request.Readings)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_readings"})
		return
	}
	cycleStart, ok := parseOptionalDate(request.CycleStart)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_cycle_start"})
		return
	}

	outcome, err := h.goals.RefreshCycle(c.Request.Context(), userID, request.GoalNames, readings, cycleStart)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	h.publishEvents(outcome.Events)
	states := make([]goalStatePayload, 0, len(outcome.States))
	for _, state := range outcome.States {
		states = append(states, toGoalStatePayload(state))
	}
	c.JSON(http.StatusCreated, gin.H{"goals": states})
}

type snapshotPayload struct {
	Date  string            `json:"date"`
	Value goals.MetricValue `json:"value"`
}

func (h *httpHandler) handleIngestSnapshot(c *gin.Context) {
	goalID, err := goals.NewGoalID(c.Param("goalID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_goal_id"})
		return
	}

	var request snapshotPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	date, err := goals.NewCivilDate(request.Date)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_date"})
		return
	}

	outcome, err := h.goals.IngestSnapshot(c.Request.Context(), goalID, date, request.Value)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	h.publishEvents(outcome.Events)
	c.JSON(http.StatusOK, toGoalStatePayload(outcome.State))
}

type milestonePayload struct {
	Actual goals.MetricValue `json:"actual"`
}

type milestoneResponsePayload struct {
	GoalID      string             `json:"goal_id"`
	MonthNumber int                `json:"month_number"`
	Target      goals.Target       `json:"target_value"`
	Actual      *goals.MetricValue `json:"actual_value,omitempty"`
	Achieved    bool               `json:"achieved"`
	RecordedAt  int64              `json:"recorded_at_s,omitempty"`
}

func (h *httpHandler) handleRecordMilestone(c *gin.Context) {
	goalID, err := goals.NewGoalID(c.Param("goalID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_goal_id"})
		return
	}
	month, err := strconv.Atoi(c.Param("month"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_month"})
		return
	}

	var request milestonePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	outcome, err := h.goals.RecordMilestone(c.Request.Context(), goalID, month, request.Actual)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	h.publishEvents(outcome.Events)
	payload, err := toMilestonePayload(outcome.Milestone)
	if err != nil {
		h.logger.Error("milestone decode failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	c.JSON(http.StatusOK, payload)
}

func (h *httpHandler) handleGoalState(c *gin.Context) {
	goalID, err := goals.NewGoalID(c.Param("goalID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_goal_id"})
		return
	}
	state, err := h.goals.GoalState(c.Request.Context(), goalID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, toGoalStatePayload(state))
}

func (h *httpHandler) handleMilestones(c *gin.Context) {
	goalID, err := goals.NewGoalID(c.Param("goalID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_goal_id"})
		return
	}
	milestones, err := h.goals.Milestones(c.Request.Context(), goalID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	payloads := make([]milestoneResponsePayload, 0, len(milestones))
	for _, milestone := range milestones {
		payload, err := toMilestonePayload(milestone)
		if err != nil {
			h.logger.Error("milestone decode failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
			return
		}
		payloads = append(payloads, payload)
	}
	c.JSON(http.StatusOK, gin.H{"milestones": payloads})
}

func (h *httpHandler) handleListGoals(c *gin.Context) {
	userID, err := goals.NewUserID(c.Param("userID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_user_id"})
		return
	}
	states, err := h.goals.ListGoals(c.Request.Context(), userID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	payloads := make([]goalStatePayload, 0, len(states))
	for _, state := range states {
		payloads = append(payloads, toGoalStatePayload(state))
	}
	c.JSON(http.StatusOK, gin.H{"goals": payloads})
}

func (h *httpHandler) handleCycleInfo(c *gin.Context) {
	userID, err := goals.NewUserID(c.Param("userID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_user_id"})
		return
	}
	info, err := h.goals.CycleInfo(c.Request.Context(), userID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"cycle_start":      goals.CivilDateOf(info.CycleStart).String(),
		"cycle_end":        goals.CivilDateOf(info.CycleEnd).String(),
		"days_elapsed":     info.DaysElapsed,
		"days_remaining":   info.DaysRemaining,
		"total_days":       info.TotalDays,
		"elapsed_fraction": info.ElapsedFraction,
	})
}

type timelineEventPayload struct {
	EventID     string  `json:"event_id"`
	EventType   string  `json:"event_type"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	GoalID      string  `json:"goal_id,omitempty"`
	GoalType    string  `json:"goal_type,omitempty"`
	OldValue    string  `json:"old_value,omitempty"`
	NewValue    string  `json:"new_value,omitempty"`
	ChangeDelta float64 `json:"change_delta"`
	Timestamp   int64   `json:"event_timestamp_s"`
}

func (h *httpHandler) handleTimeline(c *gin.Context) {
	userID, err := goals.NewUserID(c.Param("userID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_user_id"})
		return
	}

	since := time.Time{}
	if raw := c.Query("since"); raw != "" {
		date, err := goals.NewCivilDate(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_since"})
			return
		}
		since = date.Time()
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_limit"})
			return
		}
		limit = parsed
	}

	events, err := h.timeline.ListEvents(c.Request.Context(), userID.String(), since, limit)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	payloads := make([]timelineEventPayload, 0, len(events))
	for _, event := range events {
		payloads = append(payloads, timelineEventPayload{
			EventID:     event.EventID,
			EventType:   string(event.EventType),
			Title:       event.Title,
			Description: event.Description,
			GoalID:      event.GoalID,
			GoalType:    event.GoalType,
			OldValue:    event.OldValue,
			NewValue:    event.NewValue,
			ChangeDelta: event.ChangeDelta,
			Timestamp:   event.EventTimestampSeconds,
		})
	}
	c.JSON(http.StatusOK, gin.H{"events": payloads})
}

func (h *httpHandler) publishEvents(events []timeline.Event) {
	for _, event := range events {
		h.dispatcher.Publish(RealtimeMessage{
			UserID:      event.UserID,
			EventType:   string(event.EventType),
			GoalID:      event.GoalID,
			GoalType:    event.GoalType,
			Title:       event.Title,
			ChangeDelta: event.ChangeDelta,
			Timestamp:   time.Unix(event.EventTimestampSeconds, 0).UTC(),
		})
	}
}

func (h *httpHandler) respondServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, goals.ErrUnknownGoal):
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown_goal"})
	case errors.Is(err, goals.ErrNoActiveCycle):
		c.JSON(http.StatusNotFound, gin.H{"error": "no_active_cycle"})
	case errors.Is(err, goals.ErrAlreadyLocked):
		c.JSON(http.StatusConflict, gin.H{"error": "already_locked"})
	case errors.Is(err, goals.ErrGoalNotLocked):
		c.JSON(http.StatusConflict, gin.H{"error": "cycle_ended"})
	case errors.Is(err, goals.ErrCycleNotEnded):
		c.JSON(http.StatusConflict, gin.H{"error": "cycle_active"})
	case errors.Is(err, goals.ErrConcurrencyConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "conflict_retry"})
	case errors.Is(err, goals.ErrOutOfWindow):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "out_of_window"})
	case errors.Is(err, goals.ErrInvalidTarget),
		errors.Is(err, goals.ErrInvalidValue),
		errors.Is(err, goals.ErrValueShapeMismatch),
		errors.Is(err, goals.ErrInvalidGoalType),
		errors.Is(err, goals.ErrInvalidDate),
		errors.Is(err, goals.ErrInvalidMonth),
		errors.Is(err, goals.ErrInvalidUserID),
		errors.Is(err, goals.ErrInvalidGoalID):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
	default:
		h.logger.Error("request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}

func toMilestonePayload(milestone goals.Milestone) (milestoneResponsePayload, error) {
	var target goals.Target
	if err := target.UnmarshalJSON([]byte(milestone.TargetJSON)); err != nil {
		return milestoneResponsePayload{}, err
	}
	payload := milestoneResponsePayload{
		GoalID:      milestone.GoalID,
		MonthNumber: milestone.MonthNumber,
		Target:      target,
		Achieved:    milestone.Achieved,
		RecordedAt:  milestone.RecordedAtSeconds,
	}
	if milestone.Recorded() && milestone.ActualJSON != "" {
		var actual goals.MetricValue
		if err := actual.UnmarshalJSON([]byte(milestone.ActualJSON)); err != nil {
			return milestoneResponsePayload{}, err
		}
		payload.Actual = &actual
	}
	return payload, nil
}

func parseReadings(raw map[string]goals.MetricValue) (map[goals.GoalType]goals.MetricValue, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	readings := make(map[goals.GoalType]goals.MetricValue, len(raw))
	for label, value := range raw {
		goalType, err := goals.ParseGoalType(label)
		if err != nil {
			return nil, err
		}
		readings[goalType] = value
	}
	return readings, nil
}

func parseOptionalDate(raw string) (time.Time, bool) {
	if raw == "" {
		return time.Time{}, true
	}
	date, err := goals.NewCivilDate(raw)
	if err != nil {
		return time.Time{}, false
	}
	return date.Time(), true
}
