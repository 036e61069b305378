package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/perennial-labs/giftsync/internal/platform/errors"
	"github.com/perennial-labs/giftsync/internal/platform/timeouts"
	"github.com/perennial-labs/giftsync/internal/services/registry/domain/gift"
	"github.com/perennial-labs/giftsync/internal/services/registry/engine"
	"github.com/perennial-labs/giftsync/internal/services/registry/storage"
)

// actorHeader carries the opaque, already-verified caller identity supplied
// by the auth layer in front of this service.
const actorHeader = "X-Registry-Actor"

type itemView struct {
	ItemID            string      `json:"item_id"`
	Title             string      `json:"title"`
	TargetCost        *int64      `json:"target_cost,omitempty"`
	Status            gift.Status `json:"status"`
	FundedTotal       int64       `json:"funded_total"`
	ContributionCount int         `json:"contribution_count"`
	Claimant          string      `json:"claimant,omitempty"`
}

func newItemView(state storage.ItemState) itemView {
	view := itemView{
		ItemID:            state.Item.ID,
		Title:             state.Item.Title,
		TargetCost:        state.Item.TargetCost,
		Status:            state.Status(),
		FundedTotal:       state.FundedTotal,
		ContributionCount: state.ContributionCount,
	}
	if state.Reservation != nil {
		view.Claimant = state.Reservation.Claimant
	}
	return view
}

type wishlistView struct {
	WishlistID string `json:"wishlist_id"`
	ShareSlug  string `json:"share_slug"`
	Title      string `json:"title"`
}

type listItemsResponse struct {
	Wishlist wishlistView `json:"wishlist"`
	Items    []itemView   `json:"items"`
}

type reserveRequest struct {
	Claimant string `json:"claimant"`
}

type reserveResponse struct {
	ItemID   string      `json:"item_id"`
	Status   gift.Status `json:"status"`
	Claimant string      `json:"claimant"`
}

type releaseRequest struct {
	Claimant string `json:"claimant"`
}

type releaseResponse struct {
	ItemID string      `json:"item_id"`
	Status gift.Status `json:"status"`
}

type contributeRequest struct {
	Contributor string `json:"contributor"`
	Amount      int64  `json:"amount"`
}

type contributeResponse struct {
	ItemID   string      `json:"item_id"`
	NewTotal int64       `json:"new_total"`
	Status   gift.Status `json:"status"`
}

type contributionView struct {
	Contributor string `json:"contributor"`
	Amount      int64  `json:"amount"`
	CreatedAt   string `json:"created_at"`
}

type listContributionsResponse struct {
	ItemID        string             `json:"item_id"`
	FundedTotal   int64              `json:"funded_total"`
	Contributions []contributionView `json:"contributions"`
}

type httpErrorEnvelope struct {
	Error httpError `json:"error"`
}

type httpError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

func handleListItems(w http.ResponseWriter, r *http.Request, registryEngine *engine.Engine) {
	wishlist, err := registryEngine.WishlistBySlug(r.Context(), r.PathValue("slug"))
	if err != nil {
		writeHTTPError(w, err)
		return
	}
	states, err := registryEngine.Snapshot(r.Context(), wishlist.ID)
	if err != nil {
		writeHTTPError(w, err)
		return
	}

	items := make([]itemView, 0, len(states))
	for _, state := range states {
		items = append(items, newItemView(state))
	}
	writeJSON(w, http.StatusOK, listItemsResponse{
		Wishlist: wishlistView{
			WishlistID: wishlist.ID,
			ShareSlug:  wishlist.ShareSlug,
			Title:      wishlist.Title,
		},
		Items: items,
	})
}

func handleListContributions(w http.ResponseWriter, r *http.Request, registryEngine *engine.Engine) {
	state, err := resolveWishlistItem(r, registryEngine)
	if err != nil {
		writeHTTPError(w, err)
		return
	}
	contributions, err := registryEngine.Contributions(r.Context(), state.Item.ID)
	if err != nil {
		writeHTTPError(w, err)
		return
	}

	views := make([]contributionView, 0, len(contributions))
	for _, contribution := range contributions {
		views = append(views, contributionView{
			Contributor: contribution.Contributor,
			Amount:      contribution.Amount,
			CreatedAt:   contribution.CreatedAt.Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, listContributionsResponse{
		ItemID:        state.Item.ID,
		FundedTotal:   state.FundedTotal,
		Contributions: views,
	})
}

func handleReserve(w http.ResponseWriter, r *http.Request, registryEngine *engine.Engine) {
	state, err := resolveWishlistItem(r, registryEngine)
	if err != nil {
		writeHTTPError(w, err)
		return
	}

	var payload reserveRequest
	if err := decodeRequestBody(r, &payload); err != nil {
		writeHTTPError(w, err)
		return
	}
	claimant := resolveActor(r, payload.Claimant)

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.MutationRequest)
	defer cancel()

	record, err := registryEngine.Reserve(ctx, state.Item.ID, claimant)
	if err != nil {
		writeHTTPError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reserveResponse{
		ItemID:   state.Item.ID,
		Status:   gift.StatusReserved,
		Claimant: record.Claimant,
	})
}

func handleRelease(w http.ResponseWriter, r *http.Request, registryEngine *engine.Engine) {
	wishlist, err := registryEngine.WishlistBySlug(r.Context(), r.PathValue("slug"))
	if err != nil {
		writeHTTPError(w, err)
		return
	}
	state, err := itemInWishlist(r.Context(), registryEngine, wishlist.ID, r.PathValue("id"))
	if err != nil {
		writeHTTPError(w, err)
		return
	}

	var payload releaseRequest
	if err := decodeRequestBody(r, &payload); err != nil {
		writeHTTPError(w, err)
		return
	}
	caller := resolveActor(r, payload.Claimant)
	ownerOverride := caller != "" && caller == wishlist.OwnerID

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.MutationRequest)
	defer cancel()

	if err := registryEngine.Release(ctx, state.Item.ID, caller, ownerOverride); err != nil {
		writeHTTPError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, releaseResponse{
		ItemID: state.Item.ID,
		Status: gift.DeriveStatus(state.Item.TargetCost, false, state.FundedTotal),
	})
}

func handleContribute(w http.ResponseWriter, r *http.Request, registryEngine *engine.Engine) {
	state, err := resolveWishlistItem(r, registryEngine)
	if err != nil {
		writeHTTPError(w, err)
		return
	}

	var payload contributeRequest
	if err := decodeRequestBody(r, &payload); err != nil {
		writeHTTPError(w, err)
		return
	}
	contributor := resolveActor(r, payload.Contributor)

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.MutationRequest)
	defer cancel()

	result, err := registryEngine.Contribute(ctx, state.Item.ID, contributor, payload.Amount)
	if err != nil {
		writeHTTPError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, contributeResponse{
		ItemID:   state.Item.ID,
		NewTotal: result.NewTotal,
		Status:   result.Status,
	})
}

// resolveWishlistItem resolves the slug and item path values and verifies
// the item belongs to the wishlist. An item id from another wishlist reads
// as missing, not forbidden.
func resolveWishlistItem(r *http.Request, registryEngine *engine.Engine) (storage.ItemState, error) {
	wishlist, err := registryEngine.WishlistBySlug(r.Context(), r.PathValue("slug"))
	if err != nil {
		return storage.ItemState{}, err
	}
	return itemInWishlist(r.Context(), registryEngine, wishlist.ID, r.PathValue("id"))
}

func itemInWishlist(ctx context.Context, registryEngine *engine.Engine, wishlistID, itemID string) (storage.ItemState, error) {
	state, err := registryEngine.ItemState(ctx, itemID)
	if err != nil {
		return storage.ItemState{}, err
	}
	if state.Item.WishlistID != wishlistID {
		return storage.ItemState{}, storage.ErrNotFound
	}
	return state, nil
}

func resolveActor(r *http.Request, bodyActor string) string {
	actor := strings.TrimSpace(bodyActor)
	if actor != "" {
		return actor
	}
	return strings.TrimSpace(r.Header.Get(actorHeader))
}

func decodeRequestBody(r *http.Request, v any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxRequestBodyBytes))
	if err := decoder.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return apperrors.Wrap(apperrors.CodeInvalidRequest, "invalid request body", err)
	}
	return nil
}

func writeHTTPError(w http.ResponseWriter, err error) {
	code := apperrors.CodeOf(err)
	message := "registry operation failed"
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		message = appErr.Message
	}
	writeJSON(w, code.HTTPStatus(), httpErrorEnvelope{
		Error: httpError{
			Code:      string(code),
			Message:   message,
			Retryable: code.Retryable(),
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to encode response body: %v", err)
	}
}
