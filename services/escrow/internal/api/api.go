// Package api exposes the escrow service over HTTP.
package api

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"escrowlane/pkg/apierr"
	"escrowlane/pkg/authn"
	"escrowlane/pkg/canonhash"
	"escrowlane/pkg/domain"
	"escrowlane/pkg/httpx"
	"escrowlane/pkg/identity"
	"escrowlane/pkg/logger"
	"escrowlane/services/escrow/internal/access"
	"escrowlane/services/escrow/internal/idempotency"
	"escrowlane/services/escrow/internal/ledger"
	"escrowlane/services/escrow/internal/lifecycle"
	"escrowlane/services/escrow/internal/metrics"
	"escrowlane/services/escrow/internal/users"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const maxBodyBytes = 1 << 20

type Deps struct {
	Lifecycle   *lifecycle.Service
	Users       *users.Directory
	Gate        *access.Gate
	Ledger      ledger.Ledger
	Idempotency idempotency.Store
	Metrics     *metrics.Metrics
	Log         *logger.Logger
}

type contractRequest struct {
	Payload string `json:"payload"`
	Buyer   string `json:"buyer"`
	Seller  string `json:"seller"`
}

type userRequest struct {
	Principal string      `json:"principal"`
	Role      domain.Role `json:"role"`
}

type paymentRequest struct {
	Seller      string `json:"seller"`
	Destination string `json:"destination"`
	Amount      uint64 `json:"amount"`
}

func NewRouter(d Deps) http.Handler {
	log := d.Log
	if log == nil {
		log = logger.Nop()
	}
	log = log.With("component", "api")
	guard := idempotency.NewGuard()

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(log))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })
	if d.Metrics != nil {
		r.Handle("/metrics", d.Metrics.Handler())
	}

	r.Route("/escrow", func(api chi.Router) {
		api.Use(authn.Middleware(httpx.WriteAPIError))

		api.Get("/whoami", func(w http.ResponseWriter, r *http.Request) {
			httpx.WriteJSON(w, 200, map[string]any{
				"request_id": httpx.NewRequestID(),
				"principal":  authn.Caller(r.Context()).String(),
			})
		})

		api.Route("/users", func(ur chi.Router) {
			ur.Use(requireAdmin(d.Gate))

			ur.Get("/", func(w http.ResponseWriter, r *http.Request) {
				list, err := d.Users.List(r.Context())
				if err != nil {
					httpx.WriteAPIError(w, err)
					return
				}
				httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "users": list})
			})

			ur.Post("/", func(w http.ResponseWriter, r *http.Request) {
				var req userRequest
				if err := httpx.ReadJSON(r, &req); err != nil {
					httpx.WriteAPIError(w, apierr.Wrap(apierr.InvalidArgument, "invalid json", err))
					return
				}
				id := identity.Parse(req.Principal)
				if err := d.Users.Create(r.Context(), id, req.Role); err != nil {
					httpx.WriteAPIError(w, err)
					return
				}
				httpx.WriteJSON(w, 201, map[string]any{
					"request_id": httpx.NewRequestID(),
					"user":       users.Entry{Principal: id, Role: req.Role},
				})
			})

			ur.Put("/{principal}", func(w http.ResponseWriter, r *http.Request) {
				var req struct {
					Role domain.Role `json:"role"`
				}
				if err := httpx.ReadJSON(r, &req); err != nil {
					httpx.WriteAPIError(w, apierr.Wrap(apierr.InvalidArgument, "invalid json", err))
					return
				}
				id := identity.Parse(chi.URLParam(r, "principal"))
				if err := d.Users.Update(r.Context(), id, req.Role); err != nil {
					httpx.WriteAPIError(w, err)
					return
				}
				httpx.WriteJSON(w, 200, map[string]any{
					"request_id": httpx.NewRequestID(),
					"user":       users.Entry{Principal: id, Role: req.Role},
				})
			})

			ur.Delete("/{principal}", func(w http.ResponseWriter, r *http.Request) {
				id := identity.Parse(chi.URLParam(r, "principal"))
				if err := d.Users.Remove(r.Context(), id); err != nil {
					httpx.WriteAPIError(w, err)
					return
				}
				httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "removed": id.String()})
			})
		})

		api.Route("/contracts", func(cr chi.Router) {
			cr.Post("/", func(w http.ResponseWriter, r *http.Request) {
				caller := authn.Caller(r.Context())
				if err := d.Gate.AssertNotAnonymous(caller); err != nil {
					httpx.WriteAPIError(w, err)
					return
				}
				raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
				if err != nil {
					httpx.WriteAPIError(w, apierr.Wrap(apierr.InvalidArgument, "read body", err))
					return
				}
				requestHash, err := canonhash.SumJSON(raw)
				if err != nil {
					httpx.WriteAPIError(w, apierr.Wrap(apierr.InvalidArgument, "invalid json", err))
					return
				}
				r.Body = io.NopCloser(bytes.NewReader(raw))
				var req contractRequest
				if err := httpx.ReadJSON(r, &req); err != nil {
					httpx.WriteAPIError(w, apierr.Wrap(apierr.InvalidArgument, "invalid json", err))
					return
				}
				buyer, seller := identity.Parse(req.Buyer), identity.Parse(req.Seller)
				if buyer.IsAnonymous() || seller.IsAnonymous() {
					httpx.WriteAPIError(w, apierr.InvalidArgumentf("buyer and seller are required"))
					return
				}

				actor := idempotency.ActorContext{
					Principal:      caller,
					IdempotencyKey: strings.TrimSpace(r.Header.Get("Idempotency-Key")),
				}
				const endpoint = "POST /escrow/contracts"
				handleIdempotentMutation(w, r, d.Idempotency, guard, actor, endpoint, requestHash, log, func(ctx context.Context) (int, map[string]any, error) {
					id, err := d.Lifecycle.Create(ctx, req.Payload, buyer, seller)
					if err != nil {
						return 0, nil, err
					}
					return 201, map[string]any{
						"request_id":  httpx.NewRequestID(),
						"contract_id": id.String(),
					}, nil
				})
			})

			cr.Get("/{contract_id}", func(w http.ResponseWriter, r *http.Request) {
				c, ok, err := d.Lifecycle.Get(r.Context(), chi.URLParam(r, "contract_id"))
				if err != nil {
					httpx.WriteAPIError(w, err)
					return
				}
				if !ok {
					httpx.WriteAPIError(w, apierr.NotFoundf("contract not found"))
					return
				}
				httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "contract": c})
			})

			cr.Post("/{contract_id}/sign", func(w http.ResponseWriter, r *http.Request) {
				caller := authn.Caller(r.Context())
				if err := d.Gate.AssertNotAnonymous(caller); err != nil {
					httpx.WriteAPIError(w, err)
					return
				}
				id := chi.URLParam(r, "contract_id")
				if err := d.Lifecycle.Sign(r.Context(), id, caller); err != nil {
					httpx.WriteAPIError(w, err)
					return
				}
				signed, err := d.Lifecycle.IsSigned(r.Context(), id)
				if err != nil {
					httpx.WriteAPIError(w, err)
					return
				}
				httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "contract_id": id, "signed": signed})
			})

			cr.Get("/{contract_id}/signed", func(w http.ResponseWriter, r *http.Request) {
				id := chi.URLParam(r, "contract_id")
				signed, err := d.Lifecycle.IsSigned(r.Context(), id)
				if err != nil {
					httpx.WriteAPIError(w, err)
					return
				}
				httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "contract_id": id, "signed": signed})
			})

			cr.Post("/{contract_id}/payments", func(w http.ResponseWriter, r *http.Request) {
				caller := authn.Caller(r.Context())
				if err := d.Gate.AssertNotAnonymous(caller); err != nil {
					httpx.WriteAPIError(w, err)
					return
				}
				if err := d.Gate.AssertIsFrontendService(r.Context(), caller); err != nil {
					httpx.WriteAPIError(w, err)
					return
				}
				var req paymentRequest
				if err := httpx.ReadJSON(r, &req); err != nil {
					httpx.WriteAPIError(w, apierr.Wrap(apierr.InvalidArgument, "invalid json", err))
					return
				}
				to, err := ledger.ParseAddress(req.Destination)
				if err != nil {
					httpx.WriteAPIError(w, apierr.Wrap(apierr.InvalidArgument, "invalid destination", err))
					return
				}
				p, err := d.Lifecycle.IssuePayment(r.Context(), lifecycle.PaymentRequest{
					ContractID:  chi.URLParam(r, "contract_id"),
					Seller:      identity.Parse(req.Seller),
					Destination: to,
					Amount:      req.Amount,
				})
				if err != nil {
					httpx.WriteAPIError(w, err)
					return
				}
				httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "payout": p})
			})

			cr.With(requireAdmin(d.Gate)).Get("/{contract_id}/payments", func(w http.ResponseWriter, r *http.Request) {
				list, err := d.Lifecycle.Payouts(r.Context(), chi.URLParam(r, "contract_id"))
				if err != nil {
					httpx.WriteAPIError(w, err)
					return
				}
				httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "payouts": list})
			})
		})

		api.Route("/ledger", func(lr chi.Router) {
			lr.Get("/address", func(w http.ResponseWriter, r *http.Request) {
				addr, err := d.Ledger.Address(r.Context())
				if err != nil {
					httpx.WriteAPIError(w, apierr.Wrap(apierr.Internal, "ledger address", err))
					return
				}
				httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "address": addr})
			})

			lr.Get("/balances/{address}", func(w http.ResponseWriter, r *http.Request) {
				addr, err := ledger.ParseAddress(chi.URLParam(r, "address"))
				if err != nil {
					httpx.WriteAPIError(w, apierr.Wrap(apierr.InvalidArgument, "invalid address", err))
					return
				}
				bal, err := d.Ledger.Balance(r.Context(), addr)
				if err != nil {
					httpx.WriteAPIError(w, apierr.Wrap(apierr.Internal, "ledger balance", err))
					return
				}
				httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "address": addr.String(), "balance": bal})
			})

			lr.Get("/token-balance", func(w http.ResponseWriter, r *http.Request) {
				var target *ledger.Address
				if raw := strings.TrimSpace(r.URL.Query().Get("address")); raw != "" {
					addr, err := ledger.ParseAddress(raw)
					if err != nil {
						httpx.WriteAPIError(w, apierr.Wrap(apierr.InvalidArgument, "invalid address", err))
						return
					}
					target = &addr
				}
				bal, err := d.Ledger.TokenBalance(r.Context(), target)
				if err != nil {
					httpx.WriteAPIError(w, apierr.Wrap(apierr.Internal, "ledger token balance", err))
					return
				}
				resp := map[string]any{"request_id": httpx.NewRequestID(), "balance": bal}
				if target != nil {
					resp["address"] = target.String()
				}
				httpx.WriteJSON(w, 200, resp)
			})
		})
	})
	return r
}

func requireAdmin(g *access.Gate) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller := authn.Caller(r.Context())
			if err := g.AssertNotAnonymous(caller); err != nil {
				httpx.WriteAPIError(w, err)
				return
			}
			if err := g.AssertIsAdmin(r.Context(), caller); err != nil {
				httpx.WriteAPIError(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// handleIdempotentMutation replays a stored response when the caller reuses
// an Idempotency-Key, otherwise runs the mutation and records its response.
// Concurrent requests with the same key wait for the first to finish.
func handleIdempotentMutation(w http.ResponseWriter, r *http.Request, st idempotency.Store, guard *idempotency.Guard, actor idempotency.ActorContext, endpoint, requestHash string, log *logger.Logger, run func(ctx context.Context) (int, map[string]any, error)) {
	if st != nil {
		release := guard.Lock(actor, endpoint)
		defer release()

		status, body, replayed, err := idempotency.Replay(r.Context(), st, actor, endpoint, requestHash)
		if err != nil {
			httpx.WriteAPIError(w, err)
			return
		}
		if replayed {
			w.Header().Set("Idempotent-Replayed", "true")
			httpx.WriteJSON(w, status, body)
			return
		}
	}

	status, body, err := run(r.Context())
	if err != nil {
		httpx.WriteAPIError(w, err)
		return
	}
	if st != nil {
		if err := idempotency.Save(r.Context(), st, actor, endpoint, requestHash, status, body); err != nil {
			log.Warn("idempotency record not saved", "endpoint", endpoint, "principal", actor.Principal.String(), "error", err)
		}
	}
	httpx.WriteJSON(w, status, body)
}

func requestLogger(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Debug("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}
