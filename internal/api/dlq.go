package api

import (
	"github.com/gin-gonic/gin"

	"github.com/bulwarkhq/bulwark/internal/dlq"
	"github.com/bulwarkhq/bulwark/pkg/resources"
)

// DLQHandler exposes dead-letter queue administration. Replays run
// against a named resource from the registry supplied at construction.
type DLQHandler struct {
	queue     *dlq.Queue
	resources map[string]resources.Resource
}

// NewDLQHandler creates a dead-letter queue handler
func NewDLQHandler(queue *dlq.Queue, res map[string]resources.Resource) *DLQHandler {
	if res == nil {
		res = make(map[string]resources.Resource)
	}
	return &DLQHandler{queue: queue, resources: res}
}

// ReplayRequest names the resource to replay an entry against
type ReplayRequest struct {
	ResourceID string `json:"resource_id" binding:"required"`
}

// ListEntries returns entries in capture order. Archived entries are
// included with ?include_archived=true.
func (h *DLQHandler) ListEntries(c *gin.Context) {
	includeArchived := c.Query("include_archived") == "true"
	SuccessResponse(c, h.queue.List(includeArchived))
}

// GetEntry returns one entry
func (h *DLQHandler) GetEntry(c *gin.Context) {
	entry, ok := h.queue.Get(c.Param("id"))
	if !ok {
		NotFoundResponse(c, "Dead-letter entry not found")
		return
	}
	SuccessResponse(c, entry)
}

// ReplayEntry re-issues the entry's captured request against the named
// resource
func (h *DLQHandler) ReplayEntry(c *gin.Context) {
	entryID := c.Param("id")

	var req ReplayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequestResponse(c, "Invalid request body: "+err.Error())
		return
	}

	res, ok := h.resources[req.ResourceID]
	if !ok {
		NotFoundResponse(c, "Resource "+req.ResourceID+" is not registered")
		return
	}

	rows, err := h.queue.Replay(c.Request.Context(), entryID, res)
	if err != nil {
		ErrorResponseFromError(c, err)
		return
	}
	entry, _ := h.queue.Get(entryID)
	SuccessResponse(c, gin.H{
		"entry": entry,
		"rows":  rows,
	})
}

// ArchiveEntry soft-deletes an entry
func (h *DLQHandler) ArchiveEntry(c *gin.Context) {
	if err := h.queue.Archive(c.Param("id")); err != nil {
		ErrorResponseFromError(c, err)
		return
	}
	entry, _ := h.queue.Get(c.Param("id"))
	SuccessResponse(c, entry)
}

// DeleteEntry removes an entry outright
func (h *DLQHandler) DeleteEntry(c *gin.Context) {
	if err := h.queue.Delete(c.Param("id")); err != nil {
		ErrorResponseFromError(c, err)
		return
	}
	SuccessResponse(c, gin.H{"deleted": true})
}

// GetStats returns aggregate queue statistics
func (h *DLQHandler) GetStats(c *gin.Context) {
	SuccessResponse(c, h.queue.Stats())
}
