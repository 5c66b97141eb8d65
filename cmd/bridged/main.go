package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gemini-wallet/bridge"
	"github.com/gemini-wallet/bridge/pkg/log"
	"github.com/gemini-wallet/bridge/pkg/storage"
)

func main() {
	logger := log.NewIPFSLogger("root")

	config, err := bridge.LoadConfig(logger)
	if err != nil {
		logger.Fatal("failed to load configuration", "error", err)
	}

	db, err := storage.ConnectToDB(config.DB)
	if err != nil {
		logger.Fatal("failed to setup database", "error", err)
	}
	store, err := storage.NewGormStore(db)
	if err != nil {
		logger.Fatal("failed to setup store", "error", err)
	}

	metrics := bridge.NewMetrics()

	provider := bridge.NewProvider(bridge.ProviderConfig{
		WalletURL:      config.WalletURL,
		AppOrigin:      config.AppOrigin,
		AppName:        config.AppName,
		AppLogoURL:     config.AppLogoURL,
		Store:          storage.NewScoped(store, config.AppOrigin),
		Chains:         config.Chains,
		DefaultChainID: config.DefaultChainID,
		Logger:         logger,
		Metrics:        metrics,
	})

	provider.On(bridge.EventAccountsChanged, func(payload any) {
		logger.Info("accounts changed", "accounts", payload)
	})
	provider.On(bridge.EventChainChanged, func(payload any) {
		logger.Info("chain changed", "chainId", payload)
	})
	provider.On(bridge.EventDisconnected, func(any) {
		logger.Info("provider disconnected")
	})

	rpcListenAddr := ":8000"
	rpcMux := http.NewServeMux()
	rpcMux.HandleFunc("/rpc", handleRPC(provider, logger))

	rpcServer := &http.Server{
		Addr:    rpcListenAddr,
		Handler: rpcMux,
	}

	metricsListenAddr := ":4242"
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())

	metricsServer := &http.Server{
		Addr:    metricsListenAddr,
		Handler: metricsMux,
	}

	go func() {
		logger.Info("Prometheus metrics available", "listenAddr", metricsListenAddr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failure", "error", err)
		}
	}()

	go func() {
		logger.Info("provider RPC available", "listenAddr", rpcListenAddr, "endpoint", "/rpc")
		if err := rpcServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("RPC server failure", "error", err)
		}
	}()

	// Wait for shutdown signal.
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	provider.Disconnect(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(ctx); err != nil {
		logger.Error("failed to shut down metrics server", "error", err)
	}

	ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rpcServer.Shutdown(ctx); err != nil {
		logger.Error("failed to shut down RPC server", "error", err)
	}

	logger.Info("shutdown complete")
}

// handleRPC exposes the provider as a plain HTTP JSON endpoint accepting
// {method, params} request objects.
func handleRPC(provider *bridge.Provider, logger log.Logger) http.HandlerFunc {
	type rpcError struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	type rpcResponse struct {
		Result any       `json:"result,omitempty"`
		Error  *rpcError `json:"error,omitempty"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		var req bridge.RPCRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}

		var resp rpcResponse
		result, err := provider.Request(r.Context(), req)
		if err != nil {
			var pe *bridge.ProviderError
			if !errors.As(err, &pe) {
				pe = bridge.NewProviderError(bridge.CodeInternal, err.Error())
			}
			resp.Error = &rpcError{Code: pe.Code, Message: pe.Message}
			logger.Debug("request failed", "method", req.Method, "code", pe.Code)
		} else {
			resp.Result = result
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			logger.Error("failed to encode response", "error", err)
		}
	}
}
