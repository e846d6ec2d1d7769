// Package gateway fronts the accounts and premium services under /api/v1.
package gateway

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/go-chi/chi/v5"

	"vowmarket/internal/http/response"
	"vowmarket/internal/lib/sl"
)

const prefix = "/api/v1"

// Upstreams are the base URLs of the proxied services.
type Upstreams struct {
	Accounts string
	Premium  string
}

// Mount registers the proxy routes on r.
func Mount(r chi.Router, up Upstreams, log *slog.Logger) error {
	accounts, err := proxy(up.Accounts, log)
	if err != nil {
		return fmt.Errorf("gateway: accounts upstream: %w", err)
	}
	premium, err := proxy(up.Premium, log)
	if err != nil {
		return fmt.Errorf("gateway: premium upstream: %w", err)
	}

	r.Route(prefix, func(r chi.Router) {
		// Account lookups by id stay internal to the services.
		for _, p := range []string{"/accounts", "/login", "/pin/*", "/password/*"} {
			r.Handle(p, accounts)
		}
		for _, p := range []string{"/pricing/*", "/positions/*", "/premium/*"} {
			r.Handle(p, premium)
		}
	})
	return nil
}

func proxy(raw string, log *slog.Logger) (http.Handler, error) {
	target, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("%q is not an absolute URL", raw)
	}

	rp := httputil.NewSingleHostReverseProxy(target)
	rp.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		log.Error("upstream unavailable", slog.String("upstream", target.Host), sl.Err(err))
		response.Write(w, r, http.StatusBadGateway, response.Error("upstream unavailable"))
	}
	return http.StripPrefix(prefix, rp), nil
}
