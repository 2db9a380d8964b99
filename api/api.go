// Package api exposes the publishing gateway over HTTP.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/schema"
	"github.com/sirupsen/logrus"

	"github.com/biodiversity-data/publishing-gateway/auth"
	"github.com/biodiversity-data/publishing-gateway/gateway"
	gErrors "github.com/biodiversity-data/publishing-gateway/gateway/errors"
	"github.com/biodiversity-data/publishing-gateway/licence"
)

// Gateway is the publication pipeline served by the API.
type Gateway interface {
	Validate(ctx context.Context, up *gateway.Upload) (*gateway.ValidationResponse, error)
	Process(ctx context.Context, up *gateway.Upload, dataResourceUID string) (*gateway.ProcessResult, error)
	Publish(ctx context.Context, req *gateway.PublishRequest) (*gateway.Result, error)
	Unpublish(ctx context.Context, uid string, id *auth.Identity) (*gateway.Result, error)
	Status(ctx context.Context, runID string) (*gateway.RunStatus, error)
	Events(ctx context.Context, limit int) ([]gateway.Event, error)
	Licences() *licence.Catalogue
}

var _ Gateway = (*gateway.Gateway)(nil)

// Config of the HTTP surface.
type Config struct {
	// MaxUploadSize is the largest archive accepted, in bytes.
	MaxUploadSize int64

	// AllowedOrigins of cross-origin requests, any origin when empty.
	AllowedOrigins []string
}

const defaultMaxUploadSize = 100 << 20

type handler struct {
	gateway       Gateway
	logger        logrus.FieldLogger
	maxUploadSize int64
	decoder       *schema.Decoder
}

// New returns the router of the API.
func New(logger logrus.FieldLogger, gw Gateway, config Config) http.Handler {
	h := &handler{
		gateway:       gw,
		logger:        logger,
		maxUploadSize: config.MaxUploadSize,
		decoder:       schema.NewDecoder(),
	}
	if h.maxUploadSize <= 0 {
		h.maxUploadSize = defaultMaxUploadSize
	}
	h.decoder.IgnoreUnknownKeys(true)

	origins := config.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.logRequests)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Post("/validate", h.validate)
	r.Post("/process", h.process)
	r.Post("/process/{dataResourceUid}", h.process)
	r.Post("/publish", h.publish)
	r.Post("/publish/{dataResourceUid}", h.publish)
	r.Delete("/publish/{dataResourceUid}", h.unpublish)
	r.Get("/status/{requestID}", h.status)
	r.Get("/events", h.events)
	r.Get("/licences", h.licences)
	r.Get("/error_codes", h.errorCodes)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return r
}

func (h *handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		started := time.Now()
		next.ServeHTTP(ww, r)
		h.logger.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   ww.Status(),
			"duration": time.Since(started),
			"reqID":    middleware.GetReqID(r.Context()),
		}).Debug("Request served")
	})
}

// ErrorResponse is the body of failed requests.
type ErrorResponse struct {
	Valid   bool   `json:"valid"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

var statuses = map[gErrors.Kind]int{
	gErrors.Unauthenticated:           http.StatusUnauthorized,
	gErrors.NotAuthorized:             http.StatusForbidden,
	gErrors.NotAuthorizedForResource:  http.StatusForbidden,
	gErrors.MissingRequiredField:      http.StatusBadRequest,
	gErrors.UnsupportedCoreType:       http.StatusBadRequest,
	gErrors.UnrecognisedLicence:       http.StatusBadRequest,
	gErrors.InvalidArchive:            http.StatusBadRequest,
	gErrors.BadlyFormedMetaXML:        http.StatusBadRequest,
	gErrors.UploadError:               http.StatusBadRequest,
	gErrors.MissingFile:               http.StatusBadRequest,
	gErrors.StorageError:              http.StatusBadGateway,
	gErrors.StorageCredentialsExpired: http.StatusServiceUnavailable,
	gErrors.StorageUnavailable:        http.StatusServiceUnavailable,
	gErrors.RegistryError:             http.StatusBadGateway,
	gErrors.WorkflowTriggerError:      http.StatusBadGateway,
	gErrors.NotFound:                  http.StatusNotFound,
	gErrors.InvalidDataResourceUID:    http.StatusBadRequest,
	gErrors.BadlyFormedCoordinates:    http.StatusBadRequest,
	gErrors.SystemError:               http.StatusInternalServerError,
}

// StatusOf returns the HTTP status reported for failures of the given kind.
func StatusOf(kind gErrors.Kind) int {
	if status, ok := statuses[kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}

func (h *handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	e := gErrors.From(err)
	status := StatusOf(e.Kind)

	logger := h.logger.WithError(err).WithFields(logrus.Fields{
		"code":  e.Kind.String(),
		"path":  r.URL.Path,
		"reqID": middleware.GetReqID(r.Context()),
	})
	if e.DataResourceUID != "" {
		logger = logger.WithField("uid", e.DataResourceUID)
	}
	if status >= http.StatusInternalServerError {
		logger.Error("Request failed")
	} else {
		logger.Info("Request rejected")
	}

	writeJSON(w, status, ErrorResponse{Error: e.Kind.String(), Message: e.Error()})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
