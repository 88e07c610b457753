package httpadapter

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"
)

const (
	signatureHeader = "X-Hub-Signature-256"
	signaturePrefix = "sha256="
	webhookTrigger  = "webhook"
)

// reindexWebhook accepts a signed request from the documentation build and
// queues a re-index. The signature is an HMAC-SHA256 of the raw body.
func (rt *Router) reindexWebhook(w http.ResponseWriter, r *http.Request) {
	if rt.cfg.WebhookSecret == "" || rt.trigger == nil {
		writeError(w, http.StatusNotFound, "reindex webhook is not configured")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unable to read request body")
		return
	}
	if !validSignature(rt.cfg.WebhookSecret, body, r.Header.Get(signatureHeader)) {
		writeError(w, http.StatusUnauthorized, "invalid webhook signature")
		return
	}

	trigger := webhookTrigger
	if len(strings.TrimSpace(string(body))) > 0 {
		var payload struct {
			Trigger string `json:"trigger"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json")
			return
		}
		if t := strings.TrimSpace(payload.Trigger); t != "" {
			trigger = webhookTrigger + ":" + t
		}
	}

	req, err := rt.trigger.RequestReindex(r.Context(), trigger)
	if err != nil {
		rt.handleError(w, r, err)
		return
	}
	if rt.metrics != nil {
		rt.metrics.RecordReindexRequest(serviceName, webhookTrigger)
	}
	writeJSON(w, http.StatusAccepted, req)
}

// SignPayload returns the signature header value for body.
func SignPayload(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

func validSignature(secret string, body []byte, header string) bool {
	header = strings.TrimPrefix(strings.TrimSpace(header), signaturePrefix)
	got, err := hex.DecodeString(header)
	if err != nil || len(got) != sha256.Size {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}
