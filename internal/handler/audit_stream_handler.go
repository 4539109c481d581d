package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"school-admin/internal/model"
	"school-admin/internal/stream"
	"school-admin/pkg/apierror"
)

const streamHeartbeat = 15 * time.Second

type streamHub interface {
	Join(ctx context.Context) (*stream.Client, error)
	Leave(client *stream.Client)
}

type streamAuthorizer interface {
	Reauthorize(ctx context.Context, p model.Principal, allowed ...model.Role) error
}

// AuditStreamHandler pushes audit events to admins as server-sent events.
// The subscriber's stored role is checked again on every heartbeat; a
// demoted or deleted admin gets a final "revoked" event and the stream ends.
type AuditStreamHandler struct {
	hub       streamHub
	auth      streamAuthorizer
	heartbeat time.Duration
}

func NewAuditStreamHandler(hub streamHub, auth streamAuthorizer) *AuditStreamHandler {
	return &AuditStreamHandler{hub: hub, auth: auth, heartbeat: streamHeartbeat}
}

func (h *AuditStreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	client, err := h.hub.Join(r.Context())
	if err != nil {
		writeError(w, apierror.New(apierror.CodeInternal, "event stream unavailable", "", http.StatusServiceUnavailable))
		return
	}
	defer h.hub.Leave(client)

	rc := http.NewResponseController(w)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		slog.Warn("event stream not flushable", "error", err)
		return
	}

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case frame, ok := <-client.Frames():
			if !ok {
				return
			}
			if _, err := w.Write(frame); err != nil {
				return
			}
		case <-ticker.C:
			if err := h.auth.Reauthorize(r.Context(), principal, model.RoleAdmin); err != nil {
				var apiErr *apierror.APIError
				if !errors.As(err, &apiErr) {
					slog.Warn("event stream reauthorization failed", "entity_id", principal.EntityID(), "error", err)
				}
				_, _ = io.WriteString(w, "event: revoked\ndata: {}\n\n")
				_ = rc.Flush()
				return
			}
			if _, err := io.WriteString(w, ": ping\n\n"); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}
