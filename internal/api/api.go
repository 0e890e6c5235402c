// Package api serves the vault operations over HTTP with gin.
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/celerix-dev/chronovault/internal/inheritance"
	"github.com/celerix-dev/chronovault/internal/logging"
	"github.com/celerix-dev/chronovault/internal/metrics"
	"github.com/celerix-dev/chronovault/pkg/schema"
	"github.com/celerix-dev/chronovault/pkg/sdk"
)

type Handler struct {
	Vault   *inheritance.Controller
	Store   sdk.OwnerEnumeration
	Metrics *metrics.Metrics
}

// NewEngine builds a gin engine with request logging, metrics and every
// route registered.
func NewEngine(h *Handler) *gin.Engine {
	registerValidators()

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(), h.instrument())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if h.Metrics != nil {
		r.GET("/metrics", gin.WrapH(h.Metrics.Handler()))
	}

	h.Register(r.Group("/api"))
	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
	})
	return r
}

// Register mounts the API routes on g.
func (h *Handler) Register(g *gin.RouterGroup) {
	o := g.Group("/owners/:address")
	{
		o.GET("/activity", h.GetActivity)
		o.POST("/activity", h.RecordActivity)

		o.GET("/heirs", h.GetHeirs)
		o.POST("/heirs", h.AddHeir)
		o.POST("/heirs/:heir/approve", h.ApproveHeir)

		o.GET("/riddle", h.GetRiddle)
		o.POST("/riddle", h.CreateRiddle)
		o.POST("/riddle/issue", h.IssueRiddle)
		o.POST("/riddle/verify", h.VerifyRiddle)

		o.GET("/liveness", h.GetLiveness)
		o.POST("/liveness/reference", h.SetReference)
		o.DELETE("/liveness/reference", h.RemoveReference)
		o.POST("/liveness/verify", h.VerifyLiveness)

		o.GET("/state", h.GetState)
		o.GET("/policy", h.GetPolicy)
		o.PUT("/policy", h.SetPolicy)
	}

	g.POST("/webhook/voice", h.VoiceWebhook)

	if h.Store != nil {
		g.GET("/store/owners", h.ListOwners)
		g.GET("/store/owners/:address/fields", h.ListFields)
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logging.L.Debug("http",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
		)
	}
}

func (h *Handler) instrument() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		h.Metrics.HTTPRequest(route, c.Writer.Status())
	}
}

func owner(c *gin.Context) (string, bool) {
	var uri ownerURI
	if err := c.ShouldBindUri(&uri); err != nil {
		bindError(c, err)
		return "", false
	}
	return uri.Address, true
}

// --- Activity ---

func (h *Handler) GetActivity(c *gin.Context) {
	addr, ok := owner(c)
	if !ok {
		return
	}
	events, err := h.Vault.Activities(addr)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, events)
}

func (h *Handler) RecordActivity(c *gin.Context) {
	addr, ok := owner(c)
	if !ok {
		return
	}
	var req activityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	ev, v, err := h.Vault.RecordActivity(addr, schema.ActivityEvent{
		Kind:      schema.ActivityKind(req.Type),
		Completed: req.Completed,
		Timestamp: req.Timestamp,
		Detail:    req.Description,
	})
	reply(c, gin.H{"activity": ev, "verdict": v}, err)
}

// VoiceWebhook receives the voice provider's callback. A failed voice check
// is kept as an audit entry.
func (h *Handler) VoiceWebhook(c *gin.Context) {
	var req voiceWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	_, v, err := h.Vault.RecordActivity(req.OwnerAddress, schema.ActivityEvent{
		Kind:      schema.KindVoiceVerification,
		Completed: *req.Verified,
		Detail:    "Voice verification callback",
	})
	reply(c, gin.H{"success": *req.Verified, "verdict": v}, err)
}

// --- Heirs ---

func (h *Handler) GetHeirs(c *gin.Context) {
	addr, ok := owner(c)
	if !ok {
		return
	}
	list, err := h.Vault.Heirs(addr)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *Handler) AddHeir(c *gin.Context) {
	addr, ok := owner(c)
	if !ok {
		return
	}
	var req addHeirRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	rec, v, err := h.Vault.AddHeir(addr, req.HeirAddress, req.Share)
	reply(c, gin.H{"heir": rec, "verdict": v}, err)
}

func (h *Handler) ApproveHeir(c *gin.Context) {
	var uri heirURI
	if err := c.ShouldBindUri(&uri); err != nil {
		bindError(c, err)
		return
	}
	rec, v, err := h.Vault.ApproveHeir(uri.Address, uri.Heir)
	reply(c, gin.H{"heir": rec, "verdict": v}, err)
}

// --- Riddle ---

func (h *Handler) GetRiddle(c *gin.Context) {
	addr, ok := owner(c)
	if !ok {
		return
	}
	r, found, err := h.Vault.ActiveRiddle(addr)
	if err != nil {
		fail(c, err)
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "no active riddle"})
		return
	}
	c.JSON(http.StatusOK, r)
}

func (h *Handler) CreateRiddle(c *gin.Context) {
	addr, ok := owner(c)
	if !ok {
		return
	}
	var req createRiddleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	r, err := h.Vault.CreateRiddle(addr, req.Question, req.Answer)
	reply(c, gin.H{"riddle": r}, err)
}

// IssueRiddle returns the generated recovery phrase. It is shown only here.
func (h *Handler) IssueRiddle(c *gin.Context) {
	addr, ok := owner(c)
	if !ok {
		return
	}
	r, phrase, err := h.Vault.IssueRiddle(addr)
	reply(c, gin.H{"riddle": r, "answer": phrase}, err)
}

func (h *Handler) VerifyRiddle(c *gin.Context) {
	addr, ok := owner(c)
	if !ok {
		return
	}
	var req verifyRiddleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	verified, v, err := h.Vault.VerifyRiddle(addr, req.RiddleID, req.Answer, req.Claimant)
	reply(c, gin.H{"verified": verified, "verdict": v}, err)
}

// --- Liveness ---

func (h *Handler) GetLiveness(c *gin.Context) {
	addr, ok := owner(c)
	if !ok {
		return
	}
	view, err := h.Vault.Liveness(addr)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *Handler) SetReference(c *gin.Context) {
	addr, ok := owner(c)
	if !ok {
		return
	}
	var req referenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	view, err := h.Vault.SetReference(addr, req.FaceTag)
	reply(c, gin.H{"liveness": view}, err)
}

func (h *Handler) RemoveReference(c *gin.Context) {
	addr, ok := owner(c)
	if !ok {
		return
	}
	var req removeReferenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	removed, err := h.Vault.RemoveReference(addr, req.RiddleID, req.Answer)
	reply(c, gin.H{"removed": removed}, err)
}

func (h *Handler) VerifyLiveness(c *gin.Context) {
	addr, ok := owner(c)
	if !ok {
		return
	}
	var req referenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	verified, v, err := h.Vault.VerifyLiveness(addr, req.FaceTag)
	reply(c, gin.H{"verified": verified, "verdict": v}, err)
}

// --- State and policy ---

func (h *Handler) GetState(c *gin.Context) {
	addr, ok := owner(c)
	if !ok {
		return
	}
	v, err := h.Vault.Verdict(addr)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (h *Handler) GetPolicy(c *gin.Context) {
	addr, ok := owner(c)
	if !ok {
		return
	}
	p, err := h.Vault.Policy(addr)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// SetPolicy replaces the owner's policy override. A shorter
// inactivity_threshold brings a quorum release forward, so this route
// assumes an authenticated owner session is enforced upstream; the handler
// does no authentication of its own.
func (h *Handler) SetPolicy(c *gin.Context) {
	addr, ok := owner(c)
	if !ok {
		return
	}
	var req schema.PolicyOverride
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	p, err := h.Vault.SetPolicy(addr, req)
	reply(c, gin.H{"policy": p}, err)
}

// --- Store inspection ---

func (h *Handler) ListOwners(c *gin.Context) {
	owners, err := h.Store.Owners()
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, owners)
}

func (h *Handler) ListFields(c *gin.Context) {
	addr, ok := owner(c)
	if !ok {
		return
	}
	addr, _ = schema.CanonicalAddress(addr)
	fields, err := h.Store.Fields(addr)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, fields)
}
