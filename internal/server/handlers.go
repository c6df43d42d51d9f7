package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/mbfetch/mbfetch/internal/catalog"
	"github.com/mbfetch/mbfetch/internal/filter"
	"github.com/mbfetch/mbfetch/internal/progress"
	"github.com/mbfetch/mbfetch/internal/transfer"
)

// writeJSON encodes v as the JSON response body.
func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

// writeJSONError encodes a JSON error body with the given status code.
func (s *Server) writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// handleHealthz reports liveness.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]string{"status": "ok", "version": s.version})
}

// StatusResponse is the body of GET /api/status.
type StatusResponse struct {
	Active   bool           `json:"active"`
	Transfer progress.Event `json:"transfer"`
	History  HistorySummary `json:"history"`
}

// HistorySummary aggregates the transfer history table.
type HistorySummary struct {
	Total      int   `json:"total"`
	Done       int   `json:"done"`
	Failed     int   `json:"failed"`
	TotalBytes int64 `json:"total_bytes"`
}

// handleAPIStatus returns the live transfer snapshot plus history totals.
func (s *Server) handleAPIStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Active:   s.orchestrator.Active(),
		Transfer: s.orchestrator.Status(),
	}

	if s.store != nil {
		var err error
		if resp.History.Total, err = s.store.CountTransfers(""); err != nil {
			s.logger.Warn("failed to count transfers", "error", err)
		}
		if resp.History.Done, err = s.store.CountTransfers("done"); err != nil {
			s.logger.Warn("failed to count done transfers", "error", err)
		}
		if resp.History.Failed, err = s.store.CountTransfers("failed"); err != nil {
			s.logger.Warn("failed to count failed transfers", "error", err)
		}
		if resp.History.TotalBytes, err = s.store.SumBytesWritten(); err != nil {
			s.logger.Warn("failed to sum transferred bytes", "error", err)
		}
	}

	s.writeJSON(w, resp)
}

// ReleaseJSON is one release in the GET /api/releases response.
type ReleaseJSON struct {
	TagName     string          `json:"tag_name"`
	PublishedAt time.Time       `json:"published_at"`
	Label       string          `json:"label"`
	Assets      []catalog.Asset `json:"assets"`
}

// handleAPIReleases returns the release catalog, optionally filtered by the
// classification axes given as query parameters.
func (s *Server) handleAPIReleases(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	criteria, err := filter.Parse(
		q.Get("arch"), q.Get("threads"), q.Get("exceptions"), q.Get("crt"), q.Get("runtime"),
	)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	releases, err := s.catalog.Releases(r.Context())
	if err != nil {
		s.logger.Error("failed to fetch releases", "error", err)
		s.writeJSONError(w, http.StatusBadGateway, err.Error())
		return
	}

	if tag := q.Get("release"); tag != "" {
		var found []catalog.Release
		for _, rel := range releases {
			if rel.TagName == tag {
				found = append(found, rel)
				break
			}
		}
		if len(found) == 0 {
			s.writeJSONError(w, http.StatusNotFound, "release not found: "+tag)
			return
		}
		releases = found
	} else if q.Get("latest") == "true" && len(releases) > 1 {
		releases = releases[:1]
	}

	response := make([]ReleaseJSON, 0, len(releases))
	for _, rel := range releases {
		matches := filter.Apply(criteria, rel.Assets)
		assets := make([]catalog.Asset, 0, len(matches))
		for _, m := range matches {
			assets = append(assets, m.Value)
		}
		response = append(response, ReleaseJSON{
			TagName:     rel.TagName,
			PublishedAt: rel.PublishedAt,
			Label:       rel.Label(),
			Assets:      assets,
		})
	}

	s.writeJSON(w, response)
}

// HistoryEntryJSON is one row in the GET /api/history response.
type HistoryEntryJSON struct {
	TransferID       string    `json:"transfer_id"`
	AssetName        string    `json:"asset_name"`
	URL              string    `json:"url"`
	DestPath         string    `json:"dest_path"`
	ExtractDir       string    `json:"extract_dir,omitempty"`
	Status           string    `json:"status"`
	Reason           string    `json:"reason,omitempty"`
	BytesWritten     int64     `json:"bytes_written"`
	EntriesExtracted int64     `json:"entries_extracted"`
	ErrorMessage     string    `json:"error_message,omitempty"`
	StartedAt        time.Time `json:"started_at"`
	FinishedAt       time.Time `json:"finished_at,omitempty"`
}

// handleAPIHistory returns recorded transfers, newest first.
func (s *Server) handleAPIHistory(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.writeJSON(w, []HistoryEntryJSON{})
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.writeJSONError(w, http.StatusBadRequest, "invalid limit: "+raw)
			return
		}
		limit = n
	}

	records, err := s.store.ListTransfers(r.URL.Query().Get("status"), limit)
	if err != nil {
		s.logger.Error("failed to list transfer history", "error", err)
		s.writeJSONError(w, http.StatusInternalServerError, "failed to list transfer history")
		return
	}

	response := make([]HistoryEntryJSON, 0, len(records))
	for _, rec := range records {
		response = append(response, HistoryEntryJSON{
			TransferID:       rec.TransferID,
			AssetName:        rec.AssetName,
			URL:              rec.URL,
			DestPath:         rec.DestPath,
			ExtractDir:       rec.ExtractDir,
			Status:           rec.Status,
			Reason:           rec.Reason,
			BytesWritten:     rec.BytesWritten,
			EntriesExtracted: rec.EntriesExtracted,
			ErrorMessage:     rec.ErrorMessage,
			StartedAt:        rec.StartedAt,
			FinishedAt:       rec.FinishedAt,
		})
	}

	s.writeJSON(w, response)
}

// TransferRequestBody is the expected request body for POST /api/transfers.
// Either URL is given explicitly, or the asset is resolved from the catalog
// by release tag (latest when empty) and asset name.
type TransferRequestBody struct {
	ReleaseTag string `json:"release_tag,omitempty"`
	AssetName  string `json:"asset_name"`
	URL        string `json:"url,omitempty"`
	OutputDir  string `json:"output_dir,omitempty"`
	Extract    bool   `json:"extract"`
}

// TransferResponseBody is the response from POST /api/transfers.
type TransferResponseBody struct {
	TransferID string `json:"transfer_id"`
	AssetName  string `json:"asset_name"`
	URL        string `json:"url"`
	OutputDir  string `json:"output_dir"`
	Extract    bool   `json:"extract"`
}

// handleAPITransferStart launches a transfer and returns 202 immediately.
// A live transfer yields 409; transfers are never queued.
func (s *Server) handleAPITransferStart(w http.ResponseWriter, r *http.Request) {
	var req TransferRequestBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.AssetName == "" {
		s.writeJSONError(w, http.StatusBadRequest, "asset_name required")
		return
	}

	url := req.URL
	var size int64
	if url == "" {
		asset, err := s.resolveAsset(r, req.ReleaseTag, req.AssetName)
		if err != nil {
			var fetchErr *catalog.FetchError
			if errors.As(err, &fetchErr) {
				s.writeJSONError(w, http.StatusBadGateway, err.Error())
				return
			}
			s.writeJSONError(w, http.StatusNotFound, err.Error())
			return
		}
		url = asset.BrowserDownloadURL
		size = asset.Size
	}

	outputDir := req.OutputDir
	if outputDir == "" {
		outputDir = s.config.Download.OutputDir
	}

	h, err := s.orchestrator.Start(r.Context(), transfer.Request{
		URL:       url,
		AssetName: req.AssetName,
		Size:      size,
		OutputDir: outputDir,
		Extract:   req.Extract,
	})
	if err != nil {
		if errors.Is(err, transfer.ErrTransferInProgress) {
			s.writeJSONError(w, http.StatusConflict, err.Error())
			return
		}
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	go s.observeTransfer(h)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(TransferResponseBody{
		TransferID: h.ID,
		AssetName:  req.AssetName,
		URL:        url,
		OutputDir:  outputDir,
		Extract:    req.Extract,
	})
}

// resolveAsset finds an asset by name in the given release (or the latest).
func (s *Server) resolveAsset(r *http.Request, releaseTag, assetName string) (catalog.Asset, error) {
	var (
		rel catalog.Release
		err error
	)
	if releaseTag == "" {
		rel, err = s.catalog.Latest(r.Context())
	} else {
		rel, err = s.catalog.Release(r.Context(), releaseTag)
	}
	if err != nil {
		return catalog.Asset{}, err
	}

	for _, asset := range rel.Assets {
		if asset.Name == assetName {
			return asset, nil
		}
	}
	return catalog.Asset{}, errors.New("asset not found in release " + rel.TagName + ": " + assetName)
}

// handleAPITransferCancel cancels the live transfer, if any.
func (s *Server) handleAPITransferCancel(w http.ResponseWriter, r *http.Request) {
	cancelled := s.orchestrator.Cancel()
	if !cancelled {
		s.writeJSONError(w, http.StatusConflict, "no transfer in progress")
		return
	}
	s.writeJSON(w, map[string]bool{"cancelled": true})
}
