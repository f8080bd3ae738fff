package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/nimburion/monjobs/pkg/health"
	"github.com/nimburion/monjobs/pkg/jobs"
	"github.com/nimburion/monjobs/pkg/observability/logger"
	"github.com/nimburion/monjobs/pkg/version"
)

// Path parameter names.
const (
	ParamQueue = "queue"
	ParamJobID = "id"
)

type handlers struct {
	service     *jobs.Service
	health      *health.Registry
	log         logger.Logger
	serviceName string
}

func queueParam(c *gin.Context) jobs.QueueID {
	return jobs.QueueID(c.Param(ParamQueue))
}

func jobIDParam(c *gin.Context) jobs.JobID {
	return jobs.JobID(c.Param(ParamJobID))
}

// bindOptionalJSON decodes the body into dst. An empty body leaves dst untouched.
func bindOptionalJSON(c *gin.Context, dst any) error {
	if err := c.ShouldBindJSON(dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (h *handlers) enqueue(c *gin.Context) {
	var req EnqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.abortWithBindError(c, err)
		return
	}

	stored, err := h.service.Enqueue(c.Request.Context(), &jobs.Job{
		ID:         jobs.JobID(req.ID),
		QueueID:    queueParam(c),
		Attributes: req.Attributes,
	})
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	c.Header("Location", c.Request.URL.Path+"/"+stored.ID.String())
	c.JSON(http.StatusCreated, stored)
}

func (h *handlers) get(c *gin.Context) {
	job, err := h.service.Get(c.Request.Context(), queueParam(c), jobIDParam(c))
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

func (h *handlers) peek(c *gin.Context) {
	var req PeekRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		h.abortWithBindError(c, err)
		return
	}

	found, err := h.service.Peek(c.Request.Context(), jobs.PeekNextQuery{
		JobQuery: req.toJobQuery(queueParam(c)),
		Limit:    req.Limit,
	})
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	if found == nil {
		found = []*jobs.Job{}
	}
	c.JSON(http.StatusOK, PeekResponse{Jobs: found})
}

func (h *handlers) take(c *gin.Context) {
	var req TakeRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		h.abortWithBindError(c, err)
		return
	}

	job, err := h.service.TakeNext(c.Request.Context(), jobs.TakeNextOptions{
		JobQuery:       req.toJobQuery(queueParam(c)),
		Acknowledgment: req.Acknowledgment,
	})
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	if job == nil {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, job)
}

func (h *handlers) acknowledge(c *gin.Context) {
	var req AcknowledgeRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		h.abortWithBindError(c, err)
		return
	}

	result, err := h.service.Acknowledge(c.Request.Context(), queueParam(c), jobIDParam(c), req.Acknowledgment)
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, AcknowledgeResponse{Success: result.Success})
}

func (h *handlers) addReport(c *gin.Context) {
	var req ReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.abortWithBindError(c, err)
		return
	}

	if err := h.service.AddReport(c.Request.Context(), queueParam(c), jobIDParam(c), req.Report); err != nil {
		h.abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handlers) complete(c *gin.Context) {
	var req CompleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.abortWithBindError(c, err)
		return
	}

	if err := h.service.Complete(c.Request.Context(), queueParam(c), jobIDParam(c), req.Result); err != nil {
		h.abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handlers) healthz(c *gin.Context) {
	result := h.health.Check(c.Request.Context())
	status := http.StatusOK
	if !result.IsHealthy() {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, result)
}

func (h *handlers) version(c *gin.Context) {
	c.JSON(http.StatusOK, version.Current(h.serviceName))
}
