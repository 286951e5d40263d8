package training

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sentilab-ai/platform/pkg/classify"
	"github.com/sentilab-ai/platform/pkg/common/logger"
	"github.com/sentilab-ai/platform/pkg/dataset"
)

// HTTPHandler exposes training and dataset acquisition over REST.
type HTTPHandler struct {
	manager  *Manager
	pipeline *dataset.Pipeline
	maxBody  int64
}

func NewHTTPHandler(manager *Manager, pipeline *dataset.Pipeline, maxBody int64) *HTTPHandler {
	return &HTTPHandler{manager: manager, pipeline: pipeline, maxBody: maxBody}
}

func (h *HTTPHandler) Register(router *mux.Router) {
	router.HandleFunc("/training/models/train", h.handleTrain).Methods(http.MethodPost)
	router.HandleFunc("/training/models/status", h.handleTrainingStatus).Methods(http.MethodGet)
	router.HandleFunc("/training/models/history", h.handleHistory).Methods(http.MethodGet)
	router.HandleFunc("/training/datasets/download", h.handleDownload).Methods(http.MethodPost)
	router.HandleFunc("/training/datasets/status", h.handleDownloadStatus).Methods(http.MethodGet)
	router.HandleFunc("/training/datasets/info", h.handleDatasetsInfo).Methods(http.MethodGet)
}

type trainRequest struct {
	Architecture string  `json:"architecture"`
	Language     string  `json:"language"`
	Epochs       int     `json:"epochs"`
	BatchSize    int     `json:"batch_size"`
	LearningRate float64 `json:"learning_rate"`
	MaxSamples   int     `json:"max_samples"`
}

func (h *HTTPHandler) handleTrain(w http.ResponseWriter, r *http.Request) {
	if h.maxBody > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	}

	var payload trainRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req, err := ParseRequest(payload.Architecture, payload.Language, classify.Hyperparams{
		Epochs:       payload.Epochs,
		BatchSize:    payload.BatchSize,
		LearningRate: payload.LearningRate,
	}, payload.MaxSamples)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	jobID, err := h.manager.Submit(req)
	if err != nil {
		if errors.Is(err, ErrJobInProgress) {
			writeError(w, http.StatusConflict, "a training job is already running")
			return
		}
		logger.Log.WithError(err).Error("failed to submit training job")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeData(w, http.StatusAccepted, map[string]interface{}{
		"job_id":       jobID,
		"architecture": payload.Architecture,
		"language":     payload.Language,
	})
}

func (h *HTTPHandler) handleTrainingStatus(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, h.manager.Status())
}

func (h *HTTPHandler) handleHistory(w http.ResponseWriter, r *http.Request) {
	records, err := h.manager.History(r.Context(), 50)
	if err != nil {
		logger.Log.WithError(err).Error("failed to list job history")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if records == nil {
		records = []JobRecord{}
	}
	writeData(w, http.StatusOK, records)
}

type downloadRequest struct {
	Language string `json:"language"`
}

func (h *HTTPHandler) handleDownload(w http.ResponseWriter, r *http.Request) {
	if h.maxBody > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	}

	var payload downloadRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	lang, err := classify.ParseLanguage(payload.Language)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.manager.DownloadDataset(lang); err != nil {
		if errors.Is(err, dataset.ErrAcquisitionInProgress) {
			writeError(w, http.StatusConflict, "a download for this dataset is already in progress")
			return
		}
		logger.Log.WithError(err).Error("failed to start dataset download")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeData(w, http.StatusAccepted, map[string]interface{}{
		"dataset": dataset.DefaultIdentity(lang).String(),
	})
}

func (h *HTTPHandler) handleDownloadStatus(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, h.manager.store.Download())
}

func (h *HTTPHandler) handleDatasetsInfo(w http.ResponseWriter, r *http.Request) {
	info := make(map[string]dataset.CacheInfo, len(classify.Languages()))
	for _, lang := range classify.Languages() {
		id := dataset.DefaultIdentity(lang)
		info[id.String()] = h.pipeline.Inspect(id)
	}
	writeData(w, http.StatusOK, info)
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
