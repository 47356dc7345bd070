// Package handler serves the device and admin HTTP API.
package handler

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"fingerattend/internal/attendance"
	"fingerattend/internal/auth"
	"fingerattend/internal/ledger"
	"fingerattend/internal/matchclient"
	"fingerattend/internal/mirror"
	"fingerattend/internal/notify"
	"fingerattend/internal/roster"
)

// Reconciler processes scans.
type Reconciler interface {
	Reconcile(ctx context.Context, evt attendance.ScanEvent) attendance.Result
}

// Sensor manages templates on the match service.
type Sensor interface {
	Enroll(ctx context.Context, identityID int) error
	Delete(ctx context.Context, identityID int) error
}

// ScanControl pauses and resumes continuous scanning.
type ScanControl interface {
	Pause()
	Resume()
	Active() bool
}

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) bool

// Deps are the collaborators a Handler serves. Sensor, Scanner, Mirror and
// Notifier may be nil.
type Deps struct {
	Engine   Reconciler
	Ledger   *ledger.Store
	Roster   *roster.Directory
	Mirror   mirror.Mirror
	Sensor   Sensor
	Scanner  ScanControl
	Notifier notify.Notifier
	Issuer   *auth.Issuer
	Location *time.Location
	Health   map[string]HealthCheck
	Logger   *log.Logger
}

type Handler struct {
	Deps
	now func() time.Time

	// enrollMu keeps the id handed to the sensor equal to the id the
	// roster assigns.
	enrollMu sync.Mutex
}

func New(d Deps) *Handler {
	if d.Mirror == nil {
		d.Mirror = mirror.Noop{}
	}
	if d.Location == nil {
		d.Location = time.Local
	}
	if d.Logger == nil {
		d.Logger = log.Default()
	}
	return &Handler{Deps: d, now: time.Now}
}

// Routes mounts the API on r. adminToken, when set, is accepted as an admin
// bearer token in addition to issued JWTs.
func (h *Handler) Routes(r gin.IRouter, adminToken string) {
	r.GET("/healthz", h.Healthz)

	v1 := r.Group("/v1")
	v1.POST("/devices/refresh", h.RefreshDevice)

	authed := v1.Group("", auth.Authenticate(h.Issuer, adminToken))
	device := authed.Group("", auth.RequireRole(auth.RoleDevice, auth.RoleAdmin))
	{
		device.POST("/scans", h.Scan)
		device.GET("/attendance", h.ListDays)
		device.GET("/attendance/:date", h.DayRecords)
		device.GET("/attendance/:date/count", h.DayCount)
		device.GET("/identities", h.ListIdentities)
	}

	admin := authed.Group("", auth.RequireRole(auth.RoleAdmin))
	{
		admin.POST("/devices/register", h.RegisterDevice)
		admin.DELETE("/attendance/:date", h.DeleteDay)
		admin.POST("/identities", h.Enroll)
		admin.DELETE("/identities/:id", h.RemoveIdentity)
		admin.POST("/identities/reload", h.ReloadIdentities)
		admin.POST("/sync", h.Sync)
		admin.GET("/scanner", h.ScannerState)
		admin.PUT("/scanner", h.SetScanner)
	}
}

// ---------- Health ----------

func (h *Handler) Healthz(c *gin.Context) {
	body := gin.H{"status": "ok", "identities": h.Roster.Len()}
	status := http.StatusOK
	for name, check := range h.Health {
		ok := check(c.Request.Context())
		body[name] = ok
		if !ok {
			body["status"] = "degraded"
			status = http.StatusServiceUnavailable
		}
	}
	c.JSON(status, body)
}

// ---------- Devices ----------

func (h *Handler) RegisterDevice(c *gin.Context) {
	var req struct {
		DeviceID string `json:"device_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	tokens, err := h.Issuer.Issue(req.DeviceID, auth.RoleDevice)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
		return
	}
	c.JSON(http.StatusCreated, tokenBody(tokens))
}

func (h *Handler) RefreshDevice(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	tokens, err := h.Issuer.Refresh(req.RefreshToken)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
		return
	}
	c.JSON(http.StatusOK, tokenBody(tokens))
}

func tokenBody(t auth.TokenPair) gin.H {
	return gin.H{
		"access_token":  t.AccessToken,
		"refresh_token": t.RefreshToken,
		"expires_at":    t.AccessExp.Unix(),
	}
}

// ---------- Scans ----------

type scanRequest struct {
	IdentityID int        `json:"identity_id" binding:"required,min=1"`
	Timestamp  *time.Time `json:"timestamp"`
}

// Scan feeds one match from a remote sensor to the engine. The HTTP status
// follows the outcome; the body always names it.
func (h *Handler) Scan(c *gin.Context) {
	var req scanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ts := h.now()
	if req.Timestamp != nil {
		ts = *req.Timestamp
	}

	res := h.Engine.Reconcile(c.Request.Context(), attendance.NewScanEvent(req.IdentityID, ts, h.Location))
	if h.Notifier != nil {
		h.Notifier.Notify(c.Request.Context(), res)
	}
	body := gin.H{
		"event_id": res.Event.ID,
		"outcome":  res.Outcome,
		"date":     res.Event.Day.String(),
	}
	if res.Record.IdentityID != 0 {
		body["record"] = recordJSON(res.Record)
	}

	status := http.StatusOK
	switch res.Outcome {
	case attendance.DuplicateRejected:
		status = http.StatusConflict
	case attendance.UnknownIdentity:
		status = http.StatusNotFound
	case attendance.StorageError:
		status = http.StatusInternalServerError
		body["error"] = "ledger write failed"
	}
	c.JSON(status, body)
}

// ---------- Attendance ----------

type recordView struct {
	IdentityID int    `json:"identity_id"`
	RollNumber string `json:"roll_number"`
	Name       string `json:"name"`
	InTime     string `json:"in_time"`
	OutTime    string `json:"out_time"`
	State      string `json:"state"`
}

func recordJSON(r ledger.Record) recordView {
	state := "checked_in"
	if r.State() == ledger.CheckedOut {
		state = "checked_out"
	}
	return recordView{
		IdentityID: r.IdentityID,
		RollNumber: r.RollNumber,
		Name:       r.Name,
		InTime:     r.CheckIn,
		OutTime:    r.CheckOut,
		State:      state,
	}
}

func (h *Handler) dayParam(c *gin.Context) (ledger.Day, bool) {
	day, err := ledger.ParseDay(c.Param("date"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "date must be DD-MM-YYYY"})
		return ledger.Day{}, false
	}
	return day, true
}

func (h *Handler) ListDays(c *gin.Context) {
	days, err := h.Ledger.Days()
	if err != nil {
		h.Logger.Printf("list ledger days: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list days"})
		return
	}
	out := make([]string, 0, len(days))
	for _, d := range days {
		out = append(out, d.String())
	}
	c.JSON(http.StatusOK, gin.H{"days": out})
}

func (h *Handler) DayRecords(c *gin.Context) {
	day, ok := h.dayParam(c)
	if !ok {
		return
	}
	recs, err := h.Ledger.LoadAll(day)
	if err != nil {
		h.Logger.Printf("load ledger %s: %v", day, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read ledger"})
		return
	}
	out := make([]recordView, 0, len(recs))
	for _, r := range recs {
		out = append(out, recordJSON(r))
	}
	c.JSON(http.StatusOK, gin.H{"date": day.String(), "records": out})
}

func (h *Handler) DayCount(c *gin.Context) {
	day, ok := h.dayParam(c)
	if !ok {
		return
	}
	n, err := h.Ledger.Count(day)
	if err != nil {
		h.Logger.Printf("count ledger %s: %v", day, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read ledger"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"date": day.String(), "count": n})
}

func (h *Handler) DeleteDay(c *gin.Context) {
	day, ok := h.dayParam(c)
	if !ok {
		return
	}
	if err := h.Ledger.Delete(day); err != nil {
		h.Logger.Printf("delete ledger %s: %v", day, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete ledger"})
		return
	}
	h.Logger.Printf("ledger %s deleted", day)
	c.Status(http.StatusNoContent)
}

// ---------- Identities ----------

func (h *Handler) ListIdentities(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"identities": h.Roster.List(), "next_id": h.Roster.NextID()})
}

type enrollRequest struct {
	RollNumber string `json:"roll_number" binding:"required"`
	Name       string `json:"name" binding:"required"`
}

// Enroll stores a template on the sensor under the next free id, then adds
// the identity to the roster and mirrors it.
func (h *Handler) Enroll(c *gin.Context) {
	var req enrollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if strings.TrimSpace(req.RollNumber) == "" || strings.TrimSpace(req.Name) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "roll_number and name are required"})
		return
	}
	ctx := c.Request.Context()

	h.enrollMu.Lock()
	defer h.enrollMu.Unlock()

	if h.Sensor != nil {
		if err := h.Sensor.Enroll(ctx, h.Roster.NextID()); err != nil {
			if errors.Is(err, matchclient.ErrDuplicate) {
				c.JSON(http.StatusConflict, gin.H{"error": "fingerprint already enrolled"})
				return
			}
			h.Logger.Printf("sensor enroll failed: %v", err)
			c.JSON(http.StatusBadGateway, gin.H{"error": "fingerprint enrollment failed"})
			return
		}
	}

	ident, err := h.Roster.Enroll(req.RollNumber, req.Name)
	if err != nil {
		h.Logger.Printf("roster enroll failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save identity"})
		return
	}
	if err := h.Mirror.Push(ctx, mirror.StudentPath(ident.ID), mirror.StudentFields(ident)); err != nil {
		h.Logger.Printf("mirror identity %d failed: %v", ident.ID, err)
	}
	c.JSON(http.StatusCreated, ident)
}

func (h *Handler) RemoveIdentity(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	h.enrollMu.Lock()
	defer h.enrollMu.Unlock()

	if err := h.Roster.Remove(id); err != nil {
		if errors.Is(err, roster.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "identity not found"})
			return
		}
		h.Logger.Printf("roster remove %d failed: %v", id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to remove identity"})
		return
	}
	if h.Sensor != nil {
		if err := h.Sensor.Delete(c.Request.Context(), id); err != nil {
			h.Logger.Printf("sensor delete %d failed: %v", id, err)
		}
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) ReloadIdentities(c *gin.Context) {
	if err := h.Roster.Reload(); err != nil {
		h.Logger.Printf("roster reload failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to reload roster"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"identities": h.Roster.Len(), "next_id": h.Roster.NextID()})
}

// ---------- Sync & scanner ----------

func (h *Handler) Sync(c *gin.Context) {
	rep, err := attendance.Resync(c.Request.Context(), h.Ledger, h.Roster, h.Mirror, h.Logger)
	if err != nil {
		h.Logger.Printf("resync failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "resync failed", "report": rep})
		return
	}
	c.JSON(http.StatusOK, rep)
}

func (h *Handler) ScannerState(c *gin.Context) {
	if h.Scanner == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no local scanner"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"active": h.Scanner.Active()})
}

func (h *Handler) SetScanner(c *gin.Context) {
	if h.Scanner == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no local scanner"})
		return
	}
	var req struct {
		Active *bool `json:"active" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if *req.Active {
		h.Scanner.Resume()
	} else {
		h.Scanner.Pause()
	}
	c.JSON(http.StatusOK, gin.H{"active": h.Scanner.Active()})
}
