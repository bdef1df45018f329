package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"agentbox/internal/model"

	"github.com/go-chi/chi/v5"
)

const MaxPayloadBytes = 1_000_000 // 1 MB

type pushPayload struct {
	Ref        string `json:"ref"`
	After      string `json:"after"`
	HeadCommit *struct {
		Message string `json:"message"`
	} `json:"head_commit"`
	Pusher struct {
		Name string `json:"name"`
	} `json:"pusher"`
}

// HandleWebhook records a GitHub push to the deployment's branch as a
// push_received event. Starting a rollout is left to the orchestrator,
// which watches the event log.
func (s *Server) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	// ContentLength can be -1 if not set
	if r.ContentLength > MaxPayloadBytes {
		s.respondError(w, http.StatusRequestEntityTooLarge, "Payload too large")
		return
	}
	if r.Header.Get("Content-Type") != "application/json" {
		s.respondError(w, http.StatusUnsupportedMediaType, "Invalid content type")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, MaxPayloadBytes))
	if err != nil {
		s.Logger.Error("Failed to read request body", "error", err, "deployment_id", id)
		s.respondError(w, http.StatusInternalServerError, "Failed to read payload")
		return
	}

	if !VerifySignature(body, r.Header.Get("X-Hub-Signature-256"), s.WebhookSecret) {
		s.Logger.Warn("Invalid webhook signature", "deployment_id", id)
		s.respondError(w, http.StatusForbidden, "Invalid signature")
		return
	}

	if event := r.Header.Get("X-GitHub-Event"); event != "push" {
		s.respondJSON(w, http.StatusOK, map[string]string{"message": "Ignoring non-push event"})
		return
	}

	rec, ok := s.lookup(w, r)
	if !ok {
		return
	}

	var push pushPayload
	if err := json.Unmarshal(body, &push); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}

	if push.Ref != "refs/heads/"+rec.Config.Branch {
		s.respondJSON(w, http.StatusOK, map[string]string{"message": "Not target branch, skipping"})
		return
	}

	data := map[string]any{"ref": push.Ref, "sha": push.After}
	if push.Pusher.Name != "" {
		data["pusher"] = push.Pusher.Name
	}
	if push.HeadCommit != nil {
		data["commit_message"] = truncateMessage(push.HeadCommit.Message, 200)
	}
	err = s.Store.UpdateErr(id, model.Patch{Event: &model.EventInput{
		Type:    model.EventPushReceived,
		Message: fmt.Sprintf("push to %s at %s", rec.Config.Branch, shortSHA(push.After)),
		Data:    data,
	}})
	if err != nil {
		s.storeError(w, err)
		return
	}

	s.Logger.Info("Push recorded", "deployment_id", id, "ref", push.Ref, "sha", push.After,
		"locked", s.Store.IsLocked(id))
	s.respondJSON(w, http.StatusAccepted, map[string]string{
		"message":       "Push recorded",
		"deployment_id": id,
		"sha":           push.After,
	})
}

func shortSHA(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}

func truncateMessage(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
