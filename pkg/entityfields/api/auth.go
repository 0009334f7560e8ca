package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/jwtauth"
	"github.com/tendant/merged-fields/pkg/entityfields"
)

// Claim names read from viewer tokens
const (
	ClaimSubject     = "sub"
	ClaimPermissions = "permissions"
)

// PermissionAdminister allows the admin routes
const PermissionAdminister = "administer entity display"

// ViewerMiddleware turns the verified JWT of the request into the viewer
// account of the context. It must run after jwtauth.Verifier. Requests
// without a token proceed as the anonymous account; an invalid token is
// rejected.
func ViewerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, claims, err := jwtauth.FromContext(r.Context())
		if errors.Is(err, jwtauth.ErrNoTokenFound) || (err == nil && token == nil) {
			next.ServeHTTP(w, r)
			return
		}
		if err != nil {
			slog.Debug("Rejected viewer token", "error", err)
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}

		account := AccountFromClaims(claims)
		next.ServeHTTP(w, r.WithContext(entityfields.WithAccount(r.Context(), account)))
	})
}

// AccountFromClaims builds the viewer account from token claims
func AccountFromClaims(claims map[string]interface{}) entityfields.Account {
	account := entityfields.Account{}
	if sub, ok := claims[ClaimSubject].(string); ok {
		account.ID = sub
	}
	switch perms := claims[ClaimPermissions].(type) {
	case []string:
		account.Permissions = append(account.Permissions, perms...)
	case []interface{}:
		for _, p := range perms {
			if s, ok := p.(string); ok {
				account.Permissions = append(account.Permissions, s)
			}
		}
	}
	return account
}

// RequirePermission rejects viewers lacking permission
func RequirePermission(permission string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			account := entityfields.AccountFromContext(r.Context())
			if account.IsAnonymous() {
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}
			if !account.HasPermission(permission) {
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
