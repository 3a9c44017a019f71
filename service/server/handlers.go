package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/brojonat/nftactivity/service/activity"
	"github.com/brojonat/nftactivity/service/config"
	"github.com/brojonat/nftactivity/service/db"
	"github.com/brojonat/nftactivity/service/metadata"
	natspkg "github.com/brojonat/nftactivity/service/nats"
	"github.com/brojonat/nftactivity/service/temporal"
)

const (
	maxRequestBodySize  = 1 << 20 // 1MB
	defaultMinInterval  = time.Minute
	maxPollInterval     = natspkg.DuplicateWindow
	maxActivityPageSize = 10000
)

var (
	// Valid Solana address characters: base58 (no 0, O, I, l)
	validAddressRegex = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]+$`)
)

// handleGetActivity returns a handler that computes the activity history of a mint.
// GET /api/v1/mints/{mint}/activity?kind=sale,listing&limit=N
func handleGetActivity(history HistoryService, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mint := r.PathValue("mint")
		query := r.URL.Query()

		if err := validateAddress(mint); err != nil {
			logger.DebugContext(r.Context(), "invalid mint", "mint", mint, "error", err)
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		kinds, err := parseKinds(query.Get("kind"))
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		limit := 0
		if limitStr := query.Get("limit"); limitStr != "" {
			limit, err = strconv.Atoi(limitStr)
			if err != nil {
				writeError(w, "invalid limit parameter: must be an integer", http.StatusBadRequest)
				return
			}
			if limit < 1 {
				writeError(w, "limit must be at least 1", http.StatusBadRequest)
				return
			}
			if limit > maxActivityPageSize {
				writeError(w, fmt.Sprintf("limit cannot exceed %d", maxActivityPageSize), http.StatusBadRequest)
				return
			}
		}

		events, err := history.GetActivityHistory(r.Context(), mint)
		if err != nil {
			status, msg := historyErrorStatus(err)
			if status >= http.StatusInternalServerError {
				logger.ErrorContext(r.Context(), "failed to get activity history", "mint", mint, "error", err)
			} else {
				logger.DebugContext(r.Context(), "rejected activity query", "mint", mint, "error", err)
			}
			writeError(w, msg, status)
			return
		}

		resp := make([]eventResponse, 0, len(events))
		for _, e := range events {
			if len(kinds) > 0 && !kinds[e.Kind] {
				continue
			}
			resp = append(resp, eventToResponse(e))
			if limit > 0 && len(resp) == limit {
				break
			}
		}

		logger.DebugContext(r.Context(), "activity history served",
			"mint", mint,
			"total", len(events),
			"count", len(resp),
		)

		writeJSON(w, map[string]interface{}{
			"mint":   mint,
			"events": resp,
			"count":  len(resp),
		}, http.StatusOK)
	})
}

// historyErrorStatus maps a history failure to an HTTP status and client message.
func historyErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, activity.ErrInvalidAddress):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, activity.ErrUpstreamUnavailable):
		return http.StatusBadGateway, "upstream ledger unavailable, try again later"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

func parseKinds(raw string) (map[activity.Kind]bool, error) {
	if raw == "" {
		return nil, nil
	}
	kinds := make(map[activity.Kind]bool)
	for _, part := range strings.Split(raw, ",") {
		k := activity.Kind(strings.TrimSpace(part))
		switch k {
		case activity.KindMint, activity.KindTransfer, activity.KindSale, activity.KindListing, activity.KindCancelListing:
			kinds[k] = true
		default:
			return nil, errorf("invalid kind %q: must be one of mint, transfer, sale, listing, cancel_listing", k)
		}
	}
	return kinds, nil
}

// handleWatchMint returns a handler that starts watching a mint and creates
// a Temporal schedule that refreshes its history.
// POST /api/v1/watched-mints
func handleWatchMint(store WatchedMintStore, scheduler temporal.Scheduler, validator activity.MintValidator, cfg *config.Config, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Limit request body size to prevent memory exhaustion
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var req struct {
			Mint         string `json:"mint"`
			PollInterval string `json:"poll_interval"`
		}

		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logger.DebugContext(r.Context(), "failed to decode watch request", "error", err)
			if strings.Contains(err.Error(), "http: request body too large") {
				writeError(w, "request body too large: maximum size is 1MB", http.StatusBadRequest)
				return
			}
			writeError(w, "invalid request body: must be valid JSON", http.StatusBadRequest)
			return
		}

		if err := validateAddress(req.Mint); err != nil {
			logger.DebugContext(r.Context(), "invalid mint", "mint", req.Mint, "error", err)
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		pollInterval := defaultPollInterval(cfg)
		if req.PollInterval != "" {
			var err error
			pollInterval, err = time.ParseDuration(req.PollInterval)
			if err != nil {
				logger.DebugContext(r.Context(), "invalid poll interval", "interval", req.PollInterval, "error", err)
				writeError(w, "invalid poll_interval: must be a valid duration (e.g. '5m', '1h')", http.StatusBadRequest)
				return
			}
		}
		if err := validatePollInterval(pollInterval, minPollInterval(cfg)); err != nil {
			logger.DebugContext(r.Context(), "invalid poll interval value", "interval", pollInterval, "error", err)
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		// Only NFT mints have a history worth watching.
		if validator != nil {
			if _, err := validator.FetchMintValidity(r.Context(), req.Mint); err != nil {
				if errors.Is(err, metadata.ErrNotFound) {
					writeError(w, fmt.Sprintf("%s is not an NFT mint", req.Mint), http.StatusBadRequest)
					return
				}
				logger.ErrorContext(r.Context(), "failed to validate mint", "mint", req.Mint, "error", err)
				writeError(w, "upstream ledger unavailable, try again later", http.StatusBadGateway)
				return
			}
		}

		existed, err := store.WatchedMintExists(r.Context(), req.Mint)
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to check watched mint existence", "mint", req.Mint, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		mint, err := store.UpsertWatchedMint(r.Context(), db.UpsertWatchedMintParams{
			Mint:         req.Mint,
			PollInterval: pollInterval,
			Status:       db.StatusActive,
		})
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to upsert watched mint", "mint", req.Mint, "error", err)
			writeError(w, "failed to watch mint", http.StatusInternalServerError)
			return
		}

		if err := scheduler.UpsertMintSchedule(r.Context(), req.Mint, pollInterval); err != nil {
			logger.ErrorContext(r.Context(), "failed to upsert schedule", "mint", req.Mint, "error", err)

			// Rollback: delete the watched mint we just created
			if !existed {
				if delErr := store.DeleteWatchedMint(r.Context(), req.Mint); delErr != nil {
					logger.ErrorContext(r.Context(), "failed to rollback watched mint creation", "mint", req.Mint, "error", delErr)
				}
			}

			writeError(w, "failed to create schedule for mint", http.StatusInternalServerError)
			return
		}

		statusCode := http.StatusCreated
		if existed {
			statusCode = http.StatusOK
		}

		logger.InfoContext(r.Context(), "mint watched with schedule",
			"mint", mint.Mint,
			"poll_interval", mint.PollInterval,
			"updated", existed,
		)

		writeJSON(w, watchedMintToResponse(mint), statusCode)
	})
}

// handleListWatchedMints returns a handler that lists all watched mints.
// GET /api/v1/watched-mints
func handleListWatchedMints(store WatchedMintStore, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mints, err := store.ListWatchedMints(r.Context())
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to list watched mints", "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		resp := make([]watchedMintResponse, len(mints))
		for i, m := range mints {
			resp[i] = watchedMintToResponse(m)
		}

		writeJSON(w, map[string]interface{}{
			"mints": resp,
			"count": len(resp),
		}, http.StatusOK)
	})
}

// handleGetWatchedMint returns a handler that retrieves one watched mint.
// GET /api/v1/watched-mints/{mint}
func handleGetWatchedMint(store WatchedMintStore, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mintAddr := r.PathValue("mint")

		if err := validateAddress(mintAddr); err != nil {
			logger.DebugContext(r.Context(), "invalid mint", "mint", mintAddr, "error", err)
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		mint, err := store.GetWatchedMint(r.Context(), mintAddr)
		if errors.Is(err, db.ErrNotFound) {
			writeError(w, "watched mint not found", http.StatusNotFound)
			return
		}
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to get watched mint", "mint", mintAddr, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, watchedMintToResponse(mint), http.StatusOK)
	})
}

// handleUnwatchMint returns a handler that stops watching a mint and deletes
// its Temporal schedule.
// DELETE /api/v1/watched-mints/{mint}
func handleUnwatchMint(store WatchedMintStore, scheduler temporal.Scheduler, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mint := r.PathValue("mint")

		if err := validateAddress(mint); err != nil {
			logger.DebugContext(r.Context(), "invalid mint", "mint", mint, "error", err)
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		exists, err := store.WatchedMintExists(r.Context(), mint)
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to check watched mint existence", "mint", mint, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}
		if !exists {
			writeError(w, "watched mint not found", http.StatusNotFound)
			return
		}

		// Delete Temporal schedule first (before DB)
		// If this fails, we don't want to delete the watched mint from DB
		if err := scheduler.DeleteMintSchedule(r.Context(), mint); err != nil {
			logger.ErrorContext(r.Context(), "failed to delete schedule", "mint", mint, "error", err)
			writeError(w, "failed to delete schedule for mint", http.StatusInternalServerError)
			return
		}

		if err := store.DeleteWatchedMint(r.Context(), mint); err != nil {
			logger.ErrorContext(r.Context(), "failed to delete watched mint", "mint", mint, "error", err)
			writeError(w, "failed to unwatch mint", http.StatusInternalServerError)
			return
		}

		logger.InfoContext(r.Context(), "mint unwatched", "mint", mint)
		w.WriteHeader(http.StatusNoContent)
	})
}

// eventResponse is the JSON response format for an activity event.
type eventResponse struct {
	Kind                    string     `json:"kind"`
	Signature               string     `json:"signature"`
	Signatures              []string   `json:"signatures"`
	Slot                    uint64     `json:"slot"`
	BlockTime               *time.Time `json:"block_time,omitempty"`
	Summary                 string     `json:"summary"`
	Minter                  string     `json:"minter,omitempty"`
	Source                  string     `json:"source,omitempty"`
	NewOwner                *string    `json:"new_owner,omitempty"`
	DestinationTokenAccount string     `json:"destination_token_account,omitempty"`
	Buyer                   string     `json:"buyer,omitempty"`
	Seller                  string     `json:"seller,omitempty"`
	Lamports                string     `json:"lamports,omitempty"` // decimal string, may exceed 2^53
	PriceSOL                string     `json:"price_sol,omitempty"`
}

// eventToResponse converts an activity event to a response format.
func eventToResponse(e activity.Event) eventResponse {
	resp := eventResponse{
		Kind:       string(e.Kind),
		Signature:  e.Signature(),
		Signatures: e.Signatures,
		Slot:       e.Slot,
		BlockTime:  e.BlockTime,
		Summary:    e.Summary(),
	}

	switch {
	case e.Mint != nil:
		resp.Minter = e.Mint.Minter
		resp.DestinationTokenAccount = e.Mint.DestinationTokenAccount
	case e.Transfer != nil:
		resp.Source = e.Transfer.Source
		resp.NewOwner = e.Transfer.NewOwner
		resp.DestinationTokenAccount = e.Transfer.DestinationTokenAccount
	case e.Sale != nil:
		resp.Buyer = e.Sale.Buyer
		if e.Sale.Lamports != nil {
			resp.Lamports = e.Sale.Lamports.String()
		}
		resp.PriceSOL = e.PriceSOL().String()
	case e.Listing != nil:
		resp.Seller = e.Listing.Seller
	case e.CancelListing != nil:
		resp.Seller = e.CancelListing.Seller
	}

	return resp
}

// watchedMintResponse is the JSON response format for a watched mint.
type watchedMintResponse struct {
	Mint           string     `json:"mint"`
	PollInterval   string     `json:"poll_interval"`
	Status         string     `json:"status"`
	LastPollTime   *time.Time `json:"last_poll_time,omitempty"`
	LastEventCount *int       `json:"last_event_count,omitempty"`
	LastSlot       *uint64    `json:"last_slot,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// watchedMintToResponse converts a WatchedMint to a response format.
func watchedMintToResponse(m *db.WatchedMint) watchedMintResponse {
	return watchedMintResponse{
		Mint:           m.Mint,
		PollInterval:   m.PollInterval.String(),
		Status:         m.Status,
		LastPollTime:   m.LastPollTime,
		LastEventCount: m.LastEventCount,
		LastSlot:       m.LastSlot,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

// validateAddress rejects hostile input before handing the address to
// activity.ValidateAddress for the length and public key checks.
func validateAddress(address string) error {
	if address == "" {
		return errorf("address is required")
	}

	// Check for null bytes and control characters
	for _, r := range address {
		if r == 0 || unicode.IsControl(r) {
			return errorf("invalid characters in address: control characters not allowed")
		}
	}

	// Check for common SQL injection patterns
	lowerAddr := strings.ToLower(address)
	sqlPatterns := []string{"drop ", "delete ", "insert ", "update ", "select ", "--", "/*", "*/", ";"}
	for _, pattern := range sqlPatterns {
		if strings.Contains(lowerAddr, pattern) {
			return errorf("invalid characters in address: suspicious pattern detected")
		}
	}

	if !validAddressRegex.MatchString(address) {
		return errorf("invalid address format: must contain only valid base58 characters")
	}

	if err := activity.ValidateAddress(address); err != nil {
		return errorf("%v", err)
	}

	return nil
}

// validatePollInterval validates a poll interval for reasonable bounds.
func validatePollInterval(interval, min time.Duration) error {
	if interval <= 0 {
		return errorf("poll_interval must be positive")
	}

	if interval < min {
		return errorf("poll_interval must be at least %v", min)
	}

	if interval > maxPollInterval {
		return errorf("poll_interval cannot exceed %v", maxPollInterval)
	}

	return nil
}

func defaultPollInterval(cfg *config.Config) time.Duration {
	if cfg != nil && cfg.DefaultPollInterval > 0 {
		return cfg.DefaultPollInterval
	}
	return 10 * time.Minute
}

func minPollInterval(cfg *config.Config) time.Duration {
	if cfg != nil && cfg.MinPollInterval > 0 {
		return cfg.MinPollInterval
	}
	return defaultMinInterval
}

// errorf is a helper to format error strings.
func errorf(format string, args ...interface{}) error {
	return &validationError{msg: strings.TrimSpace(fmt.Sprintf(format, args...))}
}

type validationError struct {
	msg string
}

func (e *validationError) Error() string {
	return e.msg
}
