// Package web provides the read-only HTTP surface for operator dashboards:
// executions and rules stay queryable after the engine is done with them.
package web

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/dripflow/dripflow/pkg/models"
	"github.com/dripflow/dripflow/pkg/persistence"
)

const defaultPageLimit = 50

type APIHandlers struct {
	store     persistence.Persistence
	validator *validator.Validate
}

func NewAPIHandlers(store persistence.Persistence, validate *validator.Validate) *APIHandlers {
	return &APIHandlers{
		store:     store,
		validator: validate,
	}
}

// listQuery carries the pagination and filter parameters shared by the list
// endpoints.
type listQuery struct {
	Limit  int    `validate:"gte=1,lte=200"`
	Offset int    `validate:"gte=0"`
	Status string `validate:"omitempty,oneof=running waiting completed failed cancelled"`
	RuleID string
}

func (h *APIHandlers) parseListQuery(c fiber.Ctx) (*listQuery, error) {
	query := &listQuery{Limit: defaultPageLimit}

	if limitStr := c.Query("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil {
			return nil, err
		}

		query.Limit = limit
	}

	if offsetStr := c.Query("offset"); offsetStr != "" {
		offset, err := strconv.Atoi(offsetStr)
		if err != nil {
			return nil, err
		}

		query.Offset = offset
	}

	query.Status = c.Query("status")
	query.RuleID = c.Query("rule_id")

	if err := h.validator.Struct(query); err != nil {
		return nil, err
	}

	return query, nil
}

func (h *APIHandlers) GetExecutions(c fiber.Ctx) error {
	query, err := h.parseListQuery(c)
	if err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}

	var executions []*models.Execution

	switch {
	case query.RuleID != "":
		executions, err = h.store.Executions().ListByRule(c.Context(), query.RuleID, query.Limit, query.Offset)
	case query.Status != "":
		executions, err = h.store.Executions().ListByStatus(c.Context(), models.ExecutionStatus(query.Status), query.Limit, query.Offset)
	default:
		return badRequest(c, "Either status or rule_id filter is required")
	}

	if err != nil {
		return handleRepositoryError(c, err)
	}

	return c.JSON(fiber.Map{
		"executions": executions,
		"count":      len(executions),
		"pagination": fiber.Map{
			"limit":  query.Limit,
			"offset": query.Offset,
		},
	})
}

func (h *APIHandlers) GetExecution(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Execution ID is required")
	}

	execution, err := h.store.Executions().ByID(c.Context(), id)
	if err != nil {
		return handleRepositoryError(c, err)
	}

	return c.JSON(execution)
}

func (h *APIHandlers) GetRules(c fiber.Ctx) error {
	query, err := h.parseListQuery(c)
	if err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}

	rules, err := h.store.Rules().List(c.Context(), query.Limit, query.Offset)
	if err != nil {
		return handleRepositoryError(c, err)
	}

	return c.JSON(fiber.Map{
		"rules": rules,
		"count": len(rules),
		"pagination": fiber.Map{
			"limit":  query.Limit,
			"offset": query.Offset,
		},
	})
}

func (h *APIHandlers) GetRule(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Rule ID is required")
	}

	rule, err := h.store.Rules().ByID(c.Context(), id)
	if err != nil {
		return handleRepositoryError(c, err)
	}

	return c.JSON(rule)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	status := "healthy"
	message := "Dripflow API is healthy"
	httpStatus := http.StatusOK

	var repository string
	if err := h.store.HealthCheck(c.Context()); err != nil {
		status = "unhealthy"
		message = "Dripflow API is unhealthy"
		httpStatus = http.StatusInternalServerError
		repository = err.Error()
	} else {
		repository = "ok"
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"repository": repository,
		},
		"timestamp": time.Now().UTC(),
	})
}
