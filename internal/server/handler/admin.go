package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/perpledger/internal/domain"
	"github.com/alanyoungcy/perpledger/internal/snapshot"
)

// AdminService is the admin side of the ledger.
type AdminService interface {
	WithdrawBalance(ctx context.Context, caller string, amount int64) error
	Pause(ctx context.Context, caller string) error
	Resume(ctx context.Context, caller string) error
	GetStats(ctx context.Context) (domain.Stats, error)
}

// AdminAuthorizer checks that caller is the ledger admin. Exports use it
// since they do not mutate the ledger themselves.
type AdminAuthorizer interface {
	RequireAdmin(ctx context.Context, caller string) error
}

// Exporter writes snapshots to object storage.
type Exporter interface {
	Export(ctx context.Context) (snapshot.Result, error)
	ExportAudit(ctx context.Context) (snapshot.Result, error)
}

// AdminHandler serves the admin endpoints. Snapshot and audit routes are
// optional and answer 501 when their collaborator is missing.
type AdminHandler struct {
	admin    AdminService
	authz    AdminAuthorizer
	exporter Exporter
	blobs    domain.BlobReader
	audit    domain.AuditStore
	logger   *slog.Logger
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(admin AdminService, authz AdminAuthorizer, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{admin: admin, authz: authz, logger: logger}
}

// WithExporter enables snapshot export and listing.
func (h *AdminHandler) WithExporter(e Exporter, blobs domain.BlobReader) *AdminHandler {
	h.exporter = e
	h.blobs = blobs
	return h
}

// WithAudit enables the audit log endpoint.
func (h *AdminHandler) WithAudit(audit domain.AuditStore) *AdminHandler {
	h.audit = audit
	return h
}

type adminRequest struct {
	Admin  string `json:"admin"`
	Amount int64  `json:"amount,omitempty"`
}

// decodeAdmin reads the body and checks the signed identity against it.
func (h *AdminHandler) decodeAdmin(w http.ResponseWriter, r *http.Request, op string) (adminRequest, bool) {
	var req adminRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeLedgerError(w, r, h.logger, op, err)
		return req, false
	}
	if err := checkCaller(r, req.Admin); err != nil {
		writeLedgerError(w, r, h.logger, op, err)
		return req, false
	}
	return req, true
}

// Withdraw moves amount out of custody to the admin.
// POST /api/admin/withdraw
func (h *AdminHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeAdmin(w, r, "withdraw")
	if !ok {
		return
	}
	if err := h.admin.WithdrawBalance(r.Context(), req.Admin, req.Amount); err != nil {
		writeLedgerError(w, r, h.logger, "withdraw", err)
		return
	}
	h.writeStats(w, r, "withdraw")
}

// Pause stops new opens and closes.
// POST /api/admin/pause
func (h *AdminHandler) Pause(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeAdmin(w, r, "pause")
	if !ok {
		return
	}
	if err := h.admin.Pause(r.Context(), req.Admin); err != nil {
		writeLedgerError(w, r, h.logger, "pause", err)
		return
	}
	h.writeStats(w, r, "pause")
}

// Resume re-enables trading.
// POST /api/admin/resume
func (h *AdminHandler) Resume(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeAdmin(w, r, "resume")
	if !ok {
		return
	}
	if err := h.admin.Resume(r.Context(), req.Admin); err != nil {
		writeLedgerError(w, r, h.logger, "resume", err)
		return
	}
	h.writeStats(w, r, "resume")
}

func (h *AdminHandler) writeStats(w http.ResponseWriter, r *http.Request, op string) {
	stats, err := h.admin.GetStats(r.Context())
	if err != nil {
		writeLedgerError(w, r, h.logger, op, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// Snapshot exports stats and every position to object storage.
// POST /api/admin/snapshot
func (h *AdminHandler) Snapshot(w http.ResponseWriter, r *http.Request) {
	h.export(w, r, "snapshot", func(ctx context.Context) (snapshot.Result, error) {
		return h.exporter.Export(ctx)
	})
}

// ExportAudit dumps the audit log to object storage.
// POST /api/admin/audit/export
func (h *AdminHandler) ExportAudit(w http.ResponseWriter, r *http.Request) {
	h.export(w, r, "audit export", func(ctx context.Context) (snapshot.Result, error) {
		return h.exporter.ExportAudit(ctx)
	})
}

func (h *AdminHandler) export(w http.ResponseWriter, r *http.Request, op string, run func(context.Context) (snapshot.Result, error)) {
	if h.exporter == nil {
		writeError(w, http.StatusNotImplemented, "object storage is not configured")
		return
	}
	req, ok := h.decodeAdmin(w, r, op)
	if !ok {
		return
	}
	if err := h.authz.RequireAdmin(r.Context(), req.Admin); err != nil {
		writeLedgerError(w, r, h.logger, op, err)
		return
	}
	res, err := run(r.Context())
	if err != nil {
		writeLedgerError(w, r, h.logger, op, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// ListSnapshots lists stored snapshot objects.
// GET /api/admin/snapshots
func (h *AdminHandler) ListSnapshots(w http.ResponseWriter, r *http.Request) {
	if h.blobs == nil {
		writeError(w, http.StatusNotImplemented, "object storage is not configured")
		return
	}
	infos, err := h.blobs.List(r.Context(), snapshot.SnapshotPrefix)
	if err != nil {
		writeLedgerError(w, r, h.logger, "list snapshots", err)
		return
	}
	if infos == nil {
		infos = []domain.BlobInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"snapshots": infos})
}

// AuditLog pages through the audit log, newest first.
// GET /api/admin/audit?limit=&offset=
func (h *AdminHandler) AuditLog(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		writeError(w, http.StatusNotImplemented, "audit log is not configured")
		return
	}
	entries, err := h.audit.List(r.Context(), parseListOpts(r))
	if err != nil {
		writeLedgerError(w, r, h.logger, "audit log", err)
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
