// SPDX-License-Identifier: MIT

package api

import (
	"io"
	"net/http"

	"github.com/voxmill/settled/internal/dispatch"
	"github.com/voxmill/settled/internal/log"
	"github.com/voxmill/settled/internal/signature"
)

// HeaderSignature carries the hex HMAC-SHA256 of the raw request body.
const HeaderSignature = "x-signature"

// handleCallback is the worker callback ingress. The signature is
// verified over the exact raw bytes before any parsing happens; a bad
// signature produces a 401 with zero side effects.
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
	if err != nil {
		writeErrorMsg(w, http.StatusBadRequest, "body too large or unreadable")
		return
	}

	if !signature.Verify(s.cfg.CallbackSecret, body, r.Header.Get(HeaderSignature)) {
		logger := log.WithComponentFromContext(r.Context(), "api")
		logger.Warn().
			Str("event", "callback.bad_signature").
			Str("remote_addr", r.RemoteAddr).
			Msg("callback signature rejected")
		writeUnauthorized(w)
		return
	}

	p, err := dispatch.ParsePayload(body)
	if err != nil {
		writeErrorMsg(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := log.ContextWithJobID(r.Context(), p.JobID)
	err = s.router.Dispatch(ctx, p)
	code := callbackStatus(err)
	switch code {
	case http.StatusOK:
		writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
	case http.StatusInternalServerError:
		// The worker retries on 5xx; the handler is replay-safe.
		logger := log.WithComponentFromContext(ctx, "api")
		logger.Error().Err(err).
			Str("event", "callback.internal_error").
			Msg("callback processing failed")
		writeErrorMsg(w, code, "internal error")
	default:
		writeErrorMsg(w, code, err.Error())
	}
}
