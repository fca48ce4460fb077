package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/louisbranch/actionsync/internal/platform/timeouts"
	"github.com/louisbranch/actionsync/internal/services/sync/crm"
	"github.com/louisbranch/actionsync/internal/services/sync/domain"
)

// PrintLookup writes the CRM identities holding email to w as JSON.
func PrintLookup(ctx context.Context, client crm.Client, email string, w io.Writer) error {
	lookup, err := crm.LookupEmail(ctx, client, email)
	if err != nil {
		return fmt.Errorf("lookup %s: %w", email, err)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(lookup)
}

// NewLookupHandler serves GET /lookup?email= and GET /healthz.
func NewLookupHandler(client crm.Client) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, "ok\n")
	})
	mux.HandleFunc("GET /lookup", func(w http.ResponseWriter, r *http.Request) {
		email := r.URL.Query().Get("email")
		if email == "" {
			writeJSONError(w, http.StatusBadRequest, "email is required")
			return
		}
		lookup, err := crm.LookupEmail(r.Context(), client, email)
		if err != nil {
			status := http.StatusBadGateway
			if domain.KindOf(err) == domain.KindValidation {
				status = http.StatusBadRequest
			}
			log.Printf("lookup %s: %v", email, err)
			writeJSONError(w, status, "lookup failed")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(lookup)
	})
	return mux
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// ServeLookup runs the lookup HTTP server on addr until ctx ends.
func ServeLookup(ctx context.Context, addr string, handler http.Handler) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: timeouts.ReadHeader,
	}

	serveErr := make(chan error, 1)
	log.Printf("lookup server listening on %s", addr)
	go func() {
		serveErr <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeouts.Shutdown)
		err := server.Shutdown(shutdownCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	}
}
