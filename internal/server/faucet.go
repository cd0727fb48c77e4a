package server

import (
	"FXSwapLedger/internal/auth"
	"FXSwapLedger/internal/ledger"
	"net/http"

	"github.com/google/uuid"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/rs/zerolog"
)

// Minter credits test tokens. *custody.MemoryBank implements it.
type Minter interface {
	Mint(holder uuid.UUID, asset ledger.AssetID, amount int64) error
}

type MintRequest struct {
	Asset  string `json:"asset"`
	Amount int64  `json:"amount"`
}

type MintResponse struct {
	Holder uuid.UUID `json:"holder"`
	Asset  string    `json:"asset"`
	Amount int64     `json:"amount"`
}

// faucetHandler mints to the bearer identity. Development deployments only.
func faucetHandler(minter Minter, logger zerolog.Logger) http.Handler {
	marshaler := &runtime.JSONBuiltin{}
	reply := func(w http.ResponseWriter, status int, v any) {
		buf, _ := marshaler.Marshal(v)
		w.Header().Set("Content-Type", marshaler.ContentType(v))
		w.WriteHeader(status)
		w.Write(buf)
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			reply(w, http.StatusMethodNotAllowed, ErrorResponse{Error: "method not allowed", Status: "Unimplemented"})
			return
		}
		holder, ok := auth.IdentityFrom(r.Context())
		if !ok {
			reply(w, http.StatusUnauthorized, ErrorResponse{Code: 12, Error: "Unauthorized", Status: "Unauthenticated"})
			return
		}
		var req MintRequest
		if err := marshaler.NewDecoder(r.Body).Decode(&req); err != nil || req.Asset == "" || req.Amount <= 0 {
			reply(w, http.StatusBadRequest, ErrorResponse{Error: "asset and a positive amount are required", Status: "InvalidArgument"})
			return
		}
		if err := minter.Mint(holder, ledger.AssetID(req.Asset), req.Amount); err != nil {
			logger.Error().Err(err).Str("holder", holder.String()).Msg("faucet mint failed")
			reply(w, http.StatusInternalServerError, ErrorResponse{Error: "internal error", Status: "Internal"})
			return
		}
		logger.Info().Str("holder", holder.String()).Str("asset", req.Asset).Int64("amount", req.Amount).Msg("faucet mint")
		reply(w, http.StatusOK, MintResponse{Holder: holder, Asset: req.Asset, Amount: req.Amount})
	})
}
