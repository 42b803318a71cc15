package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/aiqsync/datasync/internal/document"
	"github.com/aiqsync/datasync/internal/document/protocol"
	"github.com/aiqsync/datasync/internal/document/service"
	"github.com/aiqsync/datasync/pkg/logger"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Logouter records that a user logged out of an organization.
type Logouter interface {
	Logout(ctx context.Context, org, userID string) error
}

// Options configures the sync protocol routes.
type Options struct {
	// Protect runs before every datasync and logout route (auth, revocation).
	Protect []gin.HandlerFunc
	// Logout is optional; without it logout only acknowledges.
	Logout Logouter
	// LegacyRoutes adds the organization-only routes under /legacy, served
	// from DefaultSolution.
	LegacyRoutes    bool
	DefaultSolution string
}

type tenantFunc func(c *gin.Context) document.Tenant

type documentHandler struct {
	svc    service.Service
	tenant tenantFunc
	log    *zap.SugaredLogger
}

// RegisterDocumentRoutes mounts the sync protocol on rg (usually /aiq/integration).
func RegisterDocumentRoutes(rg *gin.RouterGroup, svc service.Service, opts Options) {
	log := logger.Named("datasync")

	rg.GET("/heartbeat", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{})
	})

	h := &documentHandler{svc: svc, log: log, tenant: func(c *gin.Context) document.Tenant {
		return document.Tenant{Organization: c.Param("orgName"), Solution: c.Param("solutionId")}
	}}
	h.mount(rg.Group("/datasync/:orgName/:solutionId", opts.Protect...))

	if opts.LegacyRoutes {
		solution := opts.DefaultSolution
		legacy := &documentHandler{svc: svc, log: log, tenant: func(c *gin.Context) document.Tenant {
			return document.Tenant{Organization: c.Param("orgName"), Solution: solution}
		}}
		legacy.mount(rg.Group("/legacy/datasync/:orgName", opts.Protect...))
	}

	logout := append(append([]gin.HandlerFunc{}, opts.Protect...), func(c *gin.Context) {
		var req protocol.LogoutRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		org := c.Param("orgName")
		if opts.Logout != nil {
			if err := opts.Logout.Logout(c.Request.Context(), org, req.UserID); err != nil {
				status := protocol.StatusFor(err)
				if status == http.StatusInternalServerError {
					log.Errorw("logout failed", "org", org, "user", req.UserID, "error", err)
					c.JSON(status, gin.H{"error": "logout failed"})
					return
				}
				c.JSON(status, gin.H{"error": err.Error()})
				return
			}
		}
		log.Infow("user logged out", "org", org, "user", req.UserID)
		c.Status(http.StatusNoContent)
	})
	rg.POST("/logout/:orgName", logout...)
}

func (h *documentHandler) mount(g *gin.RouterGroup) {
	g.GET("", h.list)
	g.GET("/:docType/:docId", h.retrieve)
	g.PUT("/:docType/:docId", h.put)
	g.DELETE("/:docType/:docId", h.delete)

	// attachments are not stored; the routes exist so clients get a clean 404
	g.GET("/:docType/:docId/:name", h.attachment(false))
	g.PUT("/:docType/:docId/:name", h.attachment(true))
	g.DELETE("/:docType/:docId/:name", h.attachment(true))
}

func (h *documentHandler) list(c *gin.Context) {
	t := h.tenant(c)
	refs, err := h.svc.List(c.Request.Context(), t, c.Query("userId"))
	if err != nil {
		h.fail(c, err)
		return
	}
	h.log.Debugw("listing documents", "tenant", t.String(), "count", len(refs))
	c.JSON(http.StatusOK, protocol.NewListResponse(refs))
}

func (h *documentHandler) retrieve(c *gin.Context) {
	if err := document.ValidateIdentifier("document type", c.Param("docType")); err != nil {
		h.fail(c, err)
		return
	}
	t := h.tenant(c)
	body, rev, err := h.svc.Retrieve(c.Request.Context(), t, c.Param("docId"))
	if err != nil {
		if errors.Is(err, document.ErrNotFound) {
			h.log.Infow("document not found", "tenant", t.String(), "doc", c.Param("docId"))
		}
		h.fail(c, err)
		return
	}
	c.Header(protocol.HeaderETag, protocol.FormatETag(rev))
	c.Data(http.StatusOK, "application/json; charset=utf-8", body)
}

// put is an insert without If-Match and an update with it.
func (h *documentHandler) put(c *gin.Context) {
	if !h.requireClient(c) {
		return
	}
	if ct := c.ContentType(); ct != "" && ct != gin.MIMEJSON {
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "content type must be application/json"})
		return
	}
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read body"})
		return
	}

	t := h.tenant(c)
	ref := document.Reference{ID: c.Param("docId"), Type: c.Param("docType")}
	ifMatch := c.GetHeader(protocol.HeaderIfMatch)
	if ifMatch == "" {
		if !h.allowInsert(c) {
			return
		}
		h.log.Infow("inserting document", h.fields(c, t, ref)...)
		rev, err := h.svc.Insert(c.Request.Context(), t, ref, body)
		if err != nil {
			h.fail(c, err)
			return
		}
		c.Header(protocol.HeaderETag, protocol.FormatETag(rev))
		c.Status(http.StatusCreated)
		return
	}

	expected, err := protocol.ParseETag(ifMatch)
	if err != nil {
		h.fail(c, err)
		return
	}
	ref.Revision = expected
	if protocol.IsReservedType(ref.Type) {
		// session pseudo-documents are acknowledged, never stored
		if !h.validRef(c, t, ref) {
			return
		}
		c.Header(protocol.HeaderETag, protocol.FormatETag(expected+1))
		c.Status(http.StatusNoContent)
		return
	}
	h.log.Infow("updating document", h.fields(c, t, ref)...)
	rev, err := h.svc.Update(c.Request.Context(), t, ref, body)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Header(protocol.HeaderETag, protocol.FormatETag(rev))
	c.Status(http.StatusNoContent)
}

func (h *documentHandler) delete(c *gin.Context) {
	if !h.requireClient(c) {
		return
	}
	ifMatch := c.GetHeader(protocol.HeaderIfMatch)
	if ifMatch == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "If-Match header is required"})
		return
	}
	expected, err := protocol.ParseETag(ifMatch)
	if err != nil {
		h.fail(c, err)
		return
	}
	t := h.tenant(c)
	ref := document.Reference{ID: c.Param("docId"), Type: c.Param("docType"), Revision: expected}
	if protocol.IsReservedType(ref.Type) {
		if h.validRef(c, t, ref) {
			c.Status(http.StatusNoContent)
		}
		return
	}
	h.log.Infow("deleting document", h.fields(c, t, ref)...)
	if err := h.svc.Delete(c.Request.Context(), t, ref); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *documentHandler) attachment(mutating bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if mutating && !h.requireClient(c) {
			return
		}
		if err := validateAll(
			[2]string{"organization", h.tenant(c).Organization},
			[2]string{"solution", h.tenant(c).Solution},
			[2]string{"document type", c.Param("docType")},
			[2]string{"document id", c.Param("docId")},
			[2]string{"attachment name", c.Param("name")},
		); err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusNotFound, gin.H{"error": "attachment not found"})
	}
}

func validateAll(pairs ...[2]string) error {
	for _, p := range pairs {
		if err := document.ValidateIdentifier(p[0], p[1]); err != nil {
			return err
		}
	}
	return nil
}

// requireClient checks the client identification headers of mutating requests.
func (h *documentHandler) requireClient(c *gin.Context) bool {
	for _, name := range []string{protocol.HeaderUserID, protocol.HeaderDeviceID} {
		if c.GetHeader(name) == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": name + " header is required"})
			return false
		}
	}
	return true
}

func (h *documentHandler) validRef(c *gin.Context, t document.Tenant, ref document.Reference) bool {
	err := t.Validate()
	if err == nil {
		err = ref.Validate()
	}
	if err != nil {
		h.fail(c, err)
		return false
	}
	return true
}

// allowInsert refuses to create documents of protocol-reserved types.
func (h *documentHandler) allowInsert(c *gin.Context) bool {
	if protocol.IsReservedType(c.Param("docType")) {
		c.JSON(http.StatusMethodNotAllowed, gin.H{"error": "document type is reserved"})
		return false
	}
	return true
}

func (h *documentHandler) fields(c *gin.Context, t document.Tenant, ref document.Reference) []interface{} {
	return []interface{}{
		"tenant", t.String(),
		"doc", ref.ID,
		"type", ref.Type,
		"user", c.GetHeader(protocol.HeaderUserID),
		"device", c.GetHeader(protocol.HeaderDeviceID),
	}
}

func (h *documentHandler) fail(c *gin.Context, err error) {
	status := protocol.StatusFor(err)
	if status == http.StatusInternalServerError {
		h.log.Errorw("request failed", "path", c.Request.URL.Path, "error", err)
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
