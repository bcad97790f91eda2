package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/SableWorks/SableBrowser/core/internal/download"
	"github.com/SableWorks/SableBrowser/core/internal/session"
)

// createSessionRequest is the optional body for session creation.
type createSessionRequest struct {
	ID string `json:"id"`
}

// sanitizeRequest carries a URL to clean or decide on.
type sanitizeRequest struct {
	URL string `json:"url" binding:"required"`
}

// promoteRequest names the promotion destination.
type promoteRequest struct {
	Destination string `json:"destination" binding:"required"`
}

// Root handles the liveness check.
func (s *Server) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "sable-privacy-core",
		"version": "0.3.0",
	})
}

// Health handles the detailed health check.
func (s *Server) Health(c *gin.Context) {
	exact, patterns := s.engine.RuleStats()
	c.JSON(http.StatusOK, gin.H{
		"status":   "healthy",
		"sessions": s.sessions.Stats(),
		"rules":    gin.H{"exact": exact, "patterns": patterns},
	})
}

// Stats returns the JSON metrics snapshot for the shell's stats page.
func (s *Server) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"core":    s.metrics.GetSnapshot(),
		"domains": s.engine.AllDomainMetrics(),
	})
}

// CreateSession allocates a new ephemeral session.
func (s *Server) CreateSession(c *gin.Context) {
	var req createSessionRequest
	// Body is optional; ignore binding errors for an empty body.
	_ = c.ShouldBindJSON(&req)

	info, err := s.createSession(c.Request.Context(), req.ID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, session.ErrDuplicateSession) || errors.Is(err, session.ErrSessionDisposed) {
			status = http.StatusConflict
		} else if errors.Is(err, session.ErrInvalidSessionID) {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, info)
}

// ListSessions returns all live sessions.
func (s *Server) ListSessions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sessions": s.sessions.ListActive()})
}

// GetSession returns one session's info.
func (s *Server) GetSession(c *gin.Context) {
	info, ok := s.sessions.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.JSON(http.StatusOK, info)
}

// GetEnvironment returns the environment handle id for a session.
func (s *Server) GetEnvironment(c *gin.Context) {
	env, ok := s.sessions.Environment(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no environment for session"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"environment_id": env.ID(),
		"storage_path":   env.StoragePath(),
	})
}

// DisposeSession tears a session down. Unknown ids are a success.
func (s *Server) DisposeSession(c *gin.Context) {
	sid := c.Param("id")
	if err := s.disposeSession(c.Request.Context(), sid); err != nil {
		// The session is gone either way; report the wipe failure.
		c.JSON(http.StatusInternalServerError, gin.H{
			"disposed": true,
			"error":    err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"disposed": true, "session_id": sid})
}

// SweepOrphans triggers an orphan sweep; skipped if one is in flight.
func (s *Server) SweepOrphans(c *gin.Context) {
	reaped := s.sessions.CleanupOrphans(c.Request.Context())
	s.metrics.RecordOrphansReaped(reaped)
	c.JSON(http.StatusOK, gin.H{"reaped": reaped})
}

// Sanitize strips tracking parameters from a URL.
func (s *Server) Sanitize(c *gin.Context) {
	var req sanitizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "url required"})
		return
	}

	result := s.engine.Sanitize(req.URL)
	s.metrics.RecordSanitize(result.Modified(), len(result.Removed), result.Elapsed)
	c.JSON(http.StatusOK, result)
}

// Decide answers a navigation-starting event.
func (s *Server) Decide(c *gin.Context) {
	var req sanitizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "url required"})
		return
	}
	c.JSON(http.StatusOK, s.engine.Decide(req.URL))
}

// DomainMetrics returns sanitization counters for one domain.
func (s *Server) DomainMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.DomainMetrics(c.Param("domain")))
}

// LoadRules installs a new sanitization rule document. Malformed documents
// are swallowed; the previous rules stay active either way.
func (s *Server) LoadRules(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, 1<<20))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}
	s.engine.LoadRules(body)
	exact, patterns := s.engine.RuleStats()
	c.JSON(http.StatusOK, gin.H{"exact": exact, "patterns": patterns})
}

// StartDownload streams an inbound transfer through the session's gate.
// Disallowed transfers are rejected before any bytes land on disk.
func (s *Server) StartDownload(c *gin.Context) {
	gate, ok := s.gate(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}

	req := download.Request{
		FileName:     c.GetHeader("X-File-Name"),
		SourceURL:    c.GetHeader("X-Source-Url"),
		DeclaredType: c.ContentType(),
		TotalBytes:   c.Request.ContentLength,
	}

	did, w, err := gate.TransferStarting(req)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, download.ErrBlockedType) || errors.Is(err, download.ErrBlockedExtension) {
			status = http.StatusForbidden
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	if _, err := io.Copy(w, c.Request.Body); err != nil {
		w.Close()
		gate.TransferFailed(did, err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "transfer interrupted"})
		return
	}
	if err := w.Close(); err != nil {
		gate.TransferFailed(did, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	gate.TransferCompleted(did)

	rec, _ := gate.Get(did)
	if rec.Status != download.StatusQuarantined {
		s.metrics.RecordDownload("failed")
		s.metrics.SetDownloadsActive(s.activeDownloads())
		c.JSON(http.StatusInternalServerError, rec)
		return
	}
	s.metrics.RecordDownload("quarantined")
	s.metrics.AddQuarantinedBytes(rec.Size)
	s.metrics.SetDownloadsActive(s.activeDownloads())
	c.JSON(http.StatusCreated, rec)
}

// ListDownloads returns the session's undecided download records.
func (s *Server) ListDownloads(c *gin.Context) {
	gate, ok := s.gate(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"downloads": gate.Active()})
}

// DownloadMetrics returns the session gate's aggregate counters.
func (s *Server) DownloadMetrics(c *gin.Context) {
	gate, ok := s.gate(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.JSON(http.StatusOK, gate.Metrics())
}

// PromoteDownload moves a quarantined file to its final destination.
func (s *Server) PromoteDownload(c *gin.Context) {
	gate, ok := s.gate(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}

	var req promoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "destination required"})
		return
	}

	rec, err := gate.Promote(c.Request.Context(), c.Param("did"), req.Destination)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, download.ErrUnknownDownload) {
			status = http.StatusNotFound
		} else if errors.Is(err, download.ErrNotQuarantined) {
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	s.metrics.RecordDownload("promoted")
	s.metrics.SetDownloadsActive(s.activeDownloads())
	c.JSON(http.StatusOK, rec)
}

// DeleteDownload securely erases a quarantined download.
func (s *Server) DeleteDownload(c *gin.Context) {
	gate, ok := s.gate(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}

	deleted := gate.Delete(c.Request.Context(), c.Param("did"))
	if deleted {
		s.metrics.RecordDownload("deleted")
		s.metrics.SetDownloadsActive(s.activeDownloads())
	}
	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}
