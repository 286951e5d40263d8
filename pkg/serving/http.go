package serving

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sentilab-ai/platform/pkg/classify"
	"github.com/sentilab-ai/platform/pkg/common/logger"
	"github.com/sentilab-ai/platform/pkg/registry"
)

const maxBatchSize = 100

// HTTPHandler exposes inference and model management over REST.
type HTTPHandler struct {
	service  *Service
	registry *registry.Registry
	maxBody  int64
}

func NewHTTPHandler(service *Service, reg *registry.Registry, maxBody int64) *HTTPHandler {
	return &HTTPHandler{service: service, registry: reg, maxBody: maxBody}
}

func (h *HTTPHandler) Register(router *mux.Router) {
	router.HandleFunc("/analyze", h.handleAnalyze).Methods(http.MethodPost)
	router.HandleFunc("/analyze/batch", h.handleAnalyzeBatch).Methods(http.MethodPost)
	router.HandleFunc("/models", h.handleModels).Methods(http.MethodGet)
	router.HandleFunc("/models/trained", h.handleTrained).Methods(http.MethodGet)
	router.HandleFunc("/models/load", h.handleLoad).Methods(http.MethodPost)
	router.HandleFunc("/models/current", h.handleCurrent).Methods(http.MethodGet)
	router.HandleFunc("/models/{id}", h.handleDelete).Methods(http.MethodDelete)
	router.HandleFunc("/health", h.handleHealth).Methods(http.MethodGet)
}

type analyzeRequest struct {
	Text string `json:"text"`
}

func (h *HTTPHandler) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if h.maxBody > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	}

	var payload analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	p, err := h.service.Analyze(r.Context(), payload.Text)
	if err != nil {
		h.writeInferError(w, err)
		return
	}
	writeData(w, http.StatusOK, p)
}

type analyzeBatchRequest struct {
	Texts []string `json:"texts"`
}

func (h *HTTPHandler) handleAnalyzeBatch(w http.ResponseWriter, r *http.Request) {
	if h.maxBody > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	}

	var payload analyzeBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(payload.Texts) == 0 {
		writeError(w, http.StatusBadRequest, "texts must not be empty")
		return
	}
	if len(payload.Texts) > maxBatchSize {
		writeError(w, http.StatusBadRequest, "batch size exceeds 100")
		return
	}

	predictions, err := h.service.AnalyzeBatch(r.Context(), payload.Texts)
	if err != nil {
		h.writeInferError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]interface{}{
		"count":   len(predictions),
		"results": predictions,
	})
}

func (h *HTTPHandler) writeInferError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, classify.ErrBadInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, registry.ErrNoModelLoaded):
		writeError(w, http.StatusServiceUnavailable, "no model loaded")
	default:
		logger.Log.WithError(err).Error("inference failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

type modelAvailability struct {
	Architecture classify.Architecture `json:"architecture"`
	Language     classify.Language     `json:"language"`
	Trained      bool                  `json:"trained"`
	Active       bool                  `json:"active"`
}

func (h *HTTPHandler) handleModels(w http.ResponseWriter, r *http.Request) {
	infos, err := h.registry.ListArtifacts()
	if err != nil {
		logger.Log.WithError(err).Error("failed to list artifacts")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	trained := make(map[string]bool, len(infos))
	for _, info := range infos {
		trained[info.ID] = true
	}
	current := h.registry.Current()

	out := make([]modelAvailability, 0, len(classify.Architectures())*len(classify.Languages()))
	for _, arch := range classify.Architectures() {
		for _, lang := range classify.Languages() {
			out = append(out, modelAvailability{
				Architecture: arch,
				Language:     lang,
				Trained:      trained[string(arch)+"_"+string(lang)],
				Active:       current != nil && current.Architecture == arch && current.Language == lang,
			})
		}
	}
	writeData(w, http.StatusOK, out)
}

func (h *HTTPHandler) handleTrained(w http.ResponseWriter, r *http.Request) {
	infos, err := h.registry.ListArtifacts()
	if err != nil {
		logger.Log.WithError(err).Error("failed to list artifacts")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeData(w, http.StatusOK, infos)
}

type loadRequest struct {
	Architecture string `json:"architecture"`
	Language     string `json:"language"`
}

func (h *HTTPHandler) handleLoad(w http.ResponseWriter, r *http.Request) {
	if h.maxBody > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	}

	var payload loadRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	arch, err := classify.ParseArchitecture(payload.Architecture)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	lang, err := classify.ParseLanguage(payload.Language)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.registry.Load(arch, lang, ""); err != nil {
		var le *registry.LoadError
		if errors.As(err, &le) && le.Kind == registry.LoadFileMissing {
			writeError(w, http.StatusNotFound, "no trained artifact for this model")
			return
		}
		logger.Log.WithError(err).Error("model load failed")
		writeError(w, http.StatusInternalServerError, "model load failed")
		return
	}
	writeData(w, http.StatusOK, h.registry.Current())
}

func (h *HTTPHandler) handleCurrent(w http.ResponseWriter, r *http.Request) {
	desc := h.registry.Current()
	if desc == nil {
		writeError(w, http.StatusNotFound, "no model loaded")
		return
	}
	writeData(w, http.StatusOK, desc)
}

func (h *HTTPHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if err := h.registry.DeleteArtifact(id); err != nil {
		var le *registry.LoadError
		if errors.As(err, &le) && le.Kind == registry.LoadFileMissing {
			writeError(w, http.StatusNotFound, "artifact not found")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeData(w, http.StatusOK, map[string]interface{}{"deleted": id})
}

func (h *HTTPHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, map[string]interface{}{
		"service":      "sentiment-server",
		"model_loaded": h.registry.Current() != nil,
	})
}

type envelope struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func writeData(w http.ResponseWriter, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(envelope{Status: "success", Data: data})
}

func writeError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(envelope{Status: "error", Message: message})
}
