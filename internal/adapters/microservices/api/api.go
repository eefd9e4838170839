package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"sceneflow/internal/adapters/db/repository"
	"sceneflow/internal/adapters/microservices/production"
	"sceneflow/internal/core/domain"
	"sceneflow/internal/core/ports"
	"sceneflow/internal/core/services"
	"sceneflow/pkg/logger"
)

// APIService serves the production endpoints the compute fleet drives.
// Error details never leave the process; callers get a generic message
// and the detail goes to the log under the request id.
type APIService struct {
	port   int
	prod   ports.ProductionInterface
	repo   *repository.Repository
	logger *logger.Logger
}

func NewAPIHandler(prod ports.ProductionInterface, repo *repository.Repository, port int, logger *logger.Logger) *APIService {
	return &APIService{port: port, prod: prod, repo: repo, logger: logger}
}

// writeJSON sends the response body; an encoding failure mid-stream can no
// longer change the status line, so it is only logged.
func (a *APIService) writeJSON(w http.ResponseWriter, reqID string, v interface{}, status int) {
	if err := services.WriteJSON(w, v, status); err != nil {
		a.logger.Warn(reqID, "response_write_failed", "Could not write response body", err, nil)
	}
}

// POST /production/handle-orders
func (a *APIService) HandleOrders(w http.ResponseWriter, r *http.Request) {
	reqID := uuid.NewString()
	submitter := r.URL.Query().Get("submitter")
	a.logger.Info(reqID, "request_received", "Receiving API request", map[string]interface{}{"endpoint": r.URL.Path})

	handled, err := a.prod.HandleOrders(r.Context(), submitter)
	if err != nil {
		a.logger.Error(reqID, "handle_orders_failed", "Production pass failed", err, map[string]interface{}{"endpoint": r.URL.Path})
		http.Error(w, "production pass failed, see server log "+reqID, http.StatusInternalServerError)
		return
	}
	a.writeJSON(w, reqID, map[string]bool{"handled": handled}, http.StatusOK)
}

// GET /production/products
func (a *APIService) GetProducts(w http.ResponseWriter, r *http.Request) {
	reqID := uuid.NewString()
	q := r.URL.Query()

	limit := 500
	if raw := q.Get("record_limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "record_limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}
	var categories []string
	if raw := q.Get("product_types"); raw != "" {
		categories = strings.Split(raw, ",")
	}

	products, err := a.prod.GetProductsToProcess(r.Context(), limit, q.Get("for_user"), q.Get("priority"), categories)
	if err != nil {
		a.logger.Error(reqID, "get_products_failed", "Work selection failed", err, map[string]interface{}{"endpoint": r.URL.Path})
		http.Error(w, "work selection failed, see server log "+reqID, http.StatusInternalServerError)
		return
	}
	a.writeJSON(w, reqID, products, http.StatusOK)
}

// POST /production/products/update
func (a *APIService) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	reqID := uuid.NewString()
	defer r.Body.Close()

	var req ports.UpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "cannot decode the update request", http.StatusBadRequest)
		return
	}

	err := a.prod.UpdateProduct(r.Context(), req)
	if errors.Is(err, pgx.ErrNoRows) {
		http.Error(w, "scene or order was not found", http.StatusNotFound)
		return
	} else if errors.Is(err, production.ErrCompletedScene) {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	} else if err != nil {
		a.logger.Error(reqID, "update_product_failed", "Product update failed", err, map[string]interface{}{
			"endpoint": r.URL.Path, "action": req.Action, "scene": req.Name, "orderid": req.OrderID,
		})
		http.Error(w, "product update failed, see server log "+reqID, http.StatusInternalServerError)
		return
	}
	a.writeJSON(w, reqID, map[string]bool{"updated": true}, http.StatusOK)
}

type queueRequest struct {
	Items              []domain.QueueItem `json:"products"`
	ProcessingLocation string             `json:"processing_location"`
	JobName            string             `json:"job_name"`
}

// POST /production/products/queue
func (a *APIService) QueueProducts(w http.ResponseWriter, r *http.Request) {
	reqID := uuid.NewString()
	defer r.Body.Close()

	var req queueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "cannot decode the queue request", http.StatusBadRequest)
		return
	}
	if len(req.Items) == 0 {
		http.Error(w, "products list is empty", http.StatusBadRequest)
		return
	}
	if req.JobName == "" {
		req.JobName = "job-" + uuid.NewString()
	}

	if err := a.prod.QueueProducts(r.Context(), req.Items, req.ProcessingLocation, req.JobName); err != nil {
		a.logger.Error(reqID, "queue_products_failed", "Bulk queue failed", err, map[string]interface{}{
			"endpoint": r.URL.Path, "count": len(req.Items), "job_name": req.JobName,
		})
		http.Error(w, "bulk queue failed, see server log "+reqID, http.StatusInternalServerError)
		return
	}
	a.writeJSON(w, reqID, map[string]int{"queued": len(req.Items)}, http.StatusOK)
}

// POST /production/reset-status
func (a *APIService) ResetProcessingStatus(w http.ResponseWriter, r *http.Request) {
	reqID := uuid.NewString()
	a.logger.Warn(reqID, "reset_requested", "Operator requested in-flight status reset", nil,
		map[string]interface{}{"endpoint": r.URL.Path})

	reset, err := a.prod.ResetProcessingStatus(r.Context())
	if err != nil {
		a.logger.Error(reqID, "reset_failed", "Status reset failed", err, map[string]interface{}{"endpoint": r.URL.Path})
		http.Error(w, "status reset failed, see server log "+reqID, http.StatusInternalServerError)
		return
	}
	a.writeJSON(w, reqID, map[string]bool{"reset": reset}, http.StatusOK)
}

// GET /orders/{order_id}
func (a *APIService) GetOrderDetails(w http.ResponseWriter, r *http.Request) {
	reqID := uuid.NewString()
	orderID := r.PathValue("order_id")

	order, err := a.repo.FindOrder(r.Context(), orderID)
	if errors.Is(err, pgx.ErrNoRows) {
		http.Error(w, "order was not found", http.StatusNotFound)
		return
	} else if err != nil {
		a.logger.Error(reqID, "db_query_failed", "Database query failed", err, map[string]interface{}{"endpoint": r.URL.Path})
		http.Error(w, "could not get order details, see server log "+reqID, http.StatusInternalServerError)
		return
	}

	counts, err := a.repo.SceneStatusCounts(r.Context(), order.ID)
	if err != nil {
		a.logger.Error(reqID, "db_query_failed", "Database query failed", err, map[string]interface{}{"endpoint": r.URL.Path})
		http.Error(w, "could not get order details, see server log "+reqID, http.StatusInternalServerError)
		return
	}

	a.writeJSON(w, reqID, map[string]interface{}{
		"order":        order,
		"scene_counts": counts,
	}, http.StatusOK)
}

func (a *APIService) Stop(ctx context.Context, server *http.Server) {
	<-ctx.Done()
	a.repo.Conn.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("server shutdown failed: %+v", err)
	}
	log.Println("shutting down gracefully...")
}
