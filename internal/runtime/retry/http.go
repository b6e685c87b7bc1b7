package retry

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	errspkg "github.com/drblury/interflow/internal/runtime/errors"
	"github.com/drblury/interflow/internal/runtime/jsoncodec"
	"github.com/drblury/interflow/internal/runtime/logging"
)

// Manager is the administrative surface of a retry queue.
type Manager interface {
	FailAllMessages(failFuture bool)
	WaitingForRetry() []string
	FailMessage(id string) error
	Failed() []Entry
	ResetGate()
	Stats() Stats
}

// Routes exposes m over HTTP:
//
//	POST /fail-all?failFutureMessages=true|false
//	GET  /waiting
//	POST /{id}/fail
//	GET  /failed
//	GET  /stats
//	POST /reset-gate
func Routes(m Manager, logger logging.ServiceLogger) http.Handler {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	api := &managementAPI{manager: m, logger: logger}

	r := chi.NewRouter()
	r.Post("/fail-all", api.failAll)
	r.Get("/waiting", api.waiting)
	r.Post("/{id}/fail", api.failOne)
	r.Get("/failed", api.failed)
	r.Get("/stats", api.stats)
	r.Post("/reset-gate", api.resetGate)
	return r
}

type managementAPI struct {
	manager Manager
	logger  logging.ServiceLogger
}

func (a *managementAPI) failAll(w http.ResponseWriter, r *http.Request) {
	failFuture := false
	if raw := r.URL.Query().Get("failFutureMessages"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			http.Error(w, "failFutureMessages must be true or false", http.StatusBadRequest)
			return
		}
		failFuture = parsed
	}
	a.manager.FailAllMessages(failFuture)
	render.NoContent(w, r)
}

func (a *managementAPI) waiting(w http.ResponseWriter, _ *http.Request) {
	a.write(w, a.manager.WaitingForRetry())
}

// failOne treats an unknown id as already failed.
func (a *managementAPI) failOne(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := a.manager.FailMessage(id); err != nil && !errors.Is(err, errspkg.ErrEntryNotFound) {
		a.logger.Error("Failed to fail message", err, logging.LogFields{"message_id": id})
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	render.NoContent(w, r)
}

func (a *managementAPI) failed(w http.ResponseWriter, _ *http.Request) {
	a.write(w, a.manager.Failed())
}

func (a *managementAPI) stats(w http.ResponseWriter, _ *http.Request) {
	a.write(w, a.manager.Stats())
}

func (a *managementAPI) resetGate(w http.ResponseWriter, r *http.Request) {
	a.manager.ResetGate()
	render.NoContent(w, r)
}

func (a *managementAPI) write(w http.ResponseWriter, v any) {
	if err := jsoncodec.WriteJSON(w, http.StatusOK, v); err != nil {
		a.logger.Error("Failed to encode response", err, nil)
	}
}
