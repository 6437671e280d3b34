package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/julienschmidt/httprouter"

	"github.com/timgluz/rivretrieve/response"
	"github.com/timgluz/rivretrieve/secret"
)

var (
	ErrUnauthorized      = errors.New("unauthorized")
	ErrUnsupportedScheme = errors.New("unsupported authorization type")
)

// BearerAuth accepts requests whose bearer token is a key of secretStore.
func BearerAuth(h httprouter.Handle, secretStore secret.Store) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" || len(authHeader) < 7 {
			unauthorized(w, ErrUnauthorized)
			return
		}

		authType := strings.ToLower(strings.TrimSpace(authHeader[:7]))
		if authType != "bearer" {
			w.Header().Set("WWW-Authenticate", "Bearer")
			response.RenderError(w, ErrUnsupportedScheme, http.StatusBadRequest)
			return
		}

		token := strings.TrimSpace(authHeader[7:])
		if token == "" {
			unauthorized(w, ErrUnauthorized)
			return
		}

		if secretStore == nil || !secretStore.IsReady() {
			response.RenderError(w, errors.New("service is not ready"), http.StatusInternalServerError)
			return
		}

		if _, err := secretStore.Get(token); err != nil {
			if errors.Is(err, secret.ErrSecretNotFound) {
				unauthorized(w, ErrUnauthorized)
				return
			}

			response.RenderError(w, fmt.Errorf("invalid token: %w", err), http.StatusInternalServerError)
			return
		}

		h(w, r, ps)
	}
}

func unauthorized(w http.ResponseWriter, err error) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	response.RenderError(w, err, http.StatusUnauthorized)
}
