package server

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/Jmendoza-user/drivesync/internal/auth"
)

const successPage = `<html><body>
<h1>Authorization successful</h1>
<p>The account is now connected. You can close this window.</p>
</body></html>`

const errorPage = `<html><body>
<h1>Authorization failed</h1>
<p>%s</p>
<p>Close this window and retry the connection.</p>
</body></html>`

// handleOAuthCallback finishes an authorization flow: the state token
// names the pending credential, the code is exchanged for tokens, and
// a human-readable page reports the result.
func (s *Server) handleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	credID, err := auth.CredentialIDFromState(q.Get("state"))
	if err != nil {
		s.renderError(w, http.StatusBadRequest, "Invalid state parameter.")
		return
	}

	if errParam := q.Get("error"); errParam != "" {
		s.logger.Warn("authorization denied",
			slog.Int64("credential", credID),
			slog.String("error", errParam))
		s.renderError(w, http.StatusBadRequest, "The provider refused authorization: "+errParam)

		return
	}

	code := q.Get("code")
	if code == "" {
		s.renderError(w, http.StatusBadRequest, "Missing authorization code.")
		return
	}

	mgr, err := s.managerFor(r.Context(), credID)
	if err != nil {
		s.logger.Error("resolving pending credential",
			slog.Int64("credential", credID),
			slog.String("error", err.Error()))
		s.renderError(w, http.StatusNotFound, "No matching connection attempt was found.")

		return
	}

	if err := mgr.ExchangeCode(r.Context(), code); err != nil {
		s.logger.Error("code exchange failed",
			slog.Int64("credential", credID),
			slog.String("error", err.Error()))
		s.renderError(w, http.StatusBadGateway, "Exchanging the authorization code failed.")

		return
	}

	s.logger.Info("credential authorized", slog.Int64("credential", credID))

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, successPage)
}

func (s *Server) renderError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	fmt.Fprintf(w, errorPage, msg)
}
