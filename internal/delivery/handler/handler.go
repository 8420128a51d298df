package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"market-feed/internal/domain"
	"market-feed/internal/infrastructure/metrics"
	"market-feed/internal/service"
	"market-feed/internal/validation"
	"market-feed/pkg/logger"
	"market-feed/pkg/utils"
)

const unexpectedErrorMessage = "Unexpected server error"

type createListingResponse struct {
	Listing *domain.Listing `json:"listing"`
}

type listingsResponse struct {
	Items []*domain.Listing `json:"items"`
}

type ListingHandler struct {
	service service.ListingService
	feed    *service.FeedReader
	hub     Subscriber
	logger  *logger.Loggers
	metrics *metrics.HandlerMetrics
	tracer  trace.Tracer

	heartbeat time.Duration
}

func NewListingHandler(
	service service.ListingService,
	feed *service.FeedReader,
	hub Subscriber,
	logger *logger.Loggers,
	metrics *metrics.HandlerMetrics,
	heartbeat time.Duration,
) *ListingHandler {
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeatInterval
	}

	return &ListingHandler{
		service:   service,
		feed:      feed,
		hub:       hub,
		logger:    logger,
		metrics:   metrics,
		tracer:    otel.Tracer("market-feed/handler"),
		heartbeat: heartbeat,
	}
}

func (h *ListingHandler) CreateListing(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "CreateListing")
	defer span.End()

	startTime := time.Now()
	status := "success"

	defer func() {
		h.metrics.ObserveRequest("POST", "/api/listings", status, startTime)
	}()

	raw, err := decodeListing(w, r)
	if err != nil {
		status = "error"
		span.RecordError(err)
		var maxBytesErr *http.MaxBytesError
		switch {
		case errors.Is(err, errUnsupportedMediaType):
			utils.RespondWithErrorJSON(w, http.StatusUnsupportedMediaType, "Unsupported content type")
		case errors.As(err, &maxBytesErr):
			utils.RespondWithErrorJSON(w, http.StatusRequestEntityTooLarge, "Request body too large")
		default:
			utils.RespondWithErrorJSON(w, http.StatusBadRequest, "Invalid request payload")
		}
		return
	}

	listing, err := h.service.CreateListing(ctx, raw)
	if err != nil {
		span.RecordError(err)

		var rejection *validation.RejectionError
		if errors.As(err, &rejection) {
			status = "rejected"
			utils.RespondWithErrorJSON(w, http.StatusBadRequest, rejection.Reason)
			return
		}

		status = "error"
		h.logger.ErrorLogger.Error("Could not create listing", utils.Err(err))
		utils.RespondWithErrorJSON(w, http.StatusInternalServerError, unexpectedErrorMessage)
		return
	}

	span.SetAttributes(attribute.String("listing.id", listing.ID))
	utils.RespondWithJSON(w, http.StatusCreated, createListingResponse{Listing: listing})
}

func (h *ListingHandler) ListListings(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "ListListings")
	defer span.End()

	startTime := time.Now()
	status := "success"

	defer func() {
		h.metrics.ObserveRequest("GET", "/api/listings", status, startTime)
	}()

	// Unparsable limits fall back to the feed default.
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil {
		limit = 0
	}

	listings, err := h.feed.Snapshot(ctx, limit)
	if err != nil {
		status = "error"
		span.RecordError(err)
		h.logger.ErrorLogger.Error("Could not retrieve listings", utils.Err(err))
		utils.RespondWithErrorJSON(w, http.StatusInternalServerError, unexpectedErrorMessage)
		return
	}

	span.SetAttributes(attribute.Int("listings.count", len(listings)))
	utils.RespondWithJSON(w, http.StatusOK, listingsResponse{Items: listings})
}

func (h *ListingHandler) Health(w http.ResponseWriter, r *http.Request) {
	h.logger.InfoLogger.Debug("Health check", slog.String("remote_addr", r.RemoteAddr))
	utils.RespondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
