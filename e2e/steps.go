// Package e2e drives the bond HTTP API through Gherkin scenarios.
package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/cucumber/godog"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"bondledger/internal/access"
	accessstore "bondledger/internal/access/store"
	bondhandler "bondledger/internal/bond/handler"
	"bondledger/internal/bond/service"
	"bondledger/internal/escrow"
	investmentstore "bondledger/internal/investment/store"
	jwttoken "bondledger/internal/jwt_token"
	ledgerstore "bondledger/internal/ledger/store"
	"bondledger/internal/notify"
	notifystore "bondledger/internal/notify/store"
	"bondledger/internal/platform/lock"
	"bondledger/internal/platform/metrics"
	seriesstore "bondledger/internal/series/store"
	"bondledger/pkg/domain"
)

const vault domain.CallerID = "vault"

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// TestContext is the per-scenario state: a fresh in-memory ledger behind the
// real router, and the last response seen.
type TestContext struct {
	router     http.Handler
	jwt        *jwttoken.JWTService
	clock      *clock
	collateral *escrow.Collateral
	authority  *access.Authority

	status int
	body   []byte
}

func newTestContext() *TestContext {
	return &TestContext{
		clock:      &clock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)},
		collateral: escrow.NewCollateral(vault),
		jwt:        jwttoken.NewJWTService("e2e-key", "bondledger", "bondledger-api"),
		authority:  access.NewAuthority(accessstore.NewInMemory()),
	}
}

func (tc *TestContext) ledgerOwnedBy(owner string) error {
	if _, err := tc.authority.Bootstrap(context.Background(), domain.CallerID(owner), tc.clock.Now()); err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := service.New(
		service.Stores{
			Series:      seriesstore.NewInMemory(),
			Ledger:      ledgerstore.NewInMemory(),
			Investments: investmentstore.NewInMemory(),
		},
		tc.authority,
		tc.collateral,
		service.NewLockingTx(lock.NewMemory(), time.Second),
		service.WithClock(tc.clock.Now),
		service.WithLogger(logger),
		service.WithNotifier(notify.NewPublisher(notifystore.NewInMemory())),
	)
	router := chi.NewRouter()
	bondhandler.New(svc, tc.collateral, logger, metrics.NewWithRegisterer(prometheus.NewRegistry()),
		jwttoken.NewJWTServiceAdapter(tc.jwt)).Register(router)
	tc.router = router
	return nil
}

func (tc *TestContext) holdsCollateral(account string, amount int) error {
	return tc.collateral.Credit(domain.CallerID(account), uint64(amount))
}

func (tc *TestContext) vaultHolds(amount int) error {
	return tc.collateral.Credit(vault, uint64(amount))
}

func (tc *TestContext) do(caller, method, path string, body any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	token, err := tc.jwt.GenerateCallerToken(domain.CallerID(caller), time.Hour)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	tc.router.ServeHTTP(rr, req)
	tc.status = rr.Code
	tc.body = rr.Body.Bytes()
	return nil
}

func (tc *TestContext) createsSeries(caller, model string, bps int, maturity string) error {
	return tc.do(caller, http.MethodPost, "/series", bondhandler.CreateSeriesRequest{
		InterestBps:    int64(bps),
		MaturityOffset: maturity,
		Model:          model,
	})
}

func (tc *TestContext) deactivates(caller string, id int) error {
	return tc.do(caller, http.MethodPost, fmt.Sprintf("/series/%d/deactivate", id), nil)
}

func (tc *TestContext) purchases(caller string, principal, id int) error {
	return tc.do(caller, http.MethodPost, fmt.Sprintf("/series/%d/purchase", id), bondhandler.PurchaseRequest{Principal: uint64(principal)})
}

func (tc *TestContext) buysLot(caller string, principal, id int) error {
	return tc.do(caller, http.MethodPost, fmt.Sprintf("/series/%d/lots", id), bondhandler.PurchaseRequest{Principal: uint64(principal)})
}

func (tc *TestContext) redeemsSeries(caller string, id int) error {
	return tc.do(caller, http.MethodPost, fmt.Sprintf("/series/%d/redeem", id), nil)
}

func (tc *TestContext) redeemsLot(caller string, index int) error {
	return tc.do(caller, http.MethodPost, fmt.Sprintf("/lots/%d/redeem", index), nil)
}

func (tc *TestContext) hoursPass(hours int) error {
	tc.clock.Advance(time.Duration(hours) * time.Hour)
	return nil
}

func (tc *TestContext) statusIs(want int) error {
	if tc.status != want {
		return fmt.Errorf("expected status %d, got %d: %s", want, tc.status, tc.body)
	}
	return nil
}

func (tc *TestContext) requestFails(status int, code string) error {
	if err := tc.statusIs(status); err != nil {
		return err
	}
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(tc.body, &body); err != nil {
		return fmt.Errorf("decode error body %q: %w", tc.body, err)
	}
	if body.Error != code {
		return fmt.Errorf("expected error %q, got %q", code, body.Error)
	}
	return nil
}

func (tc *TestContext) hasCollateral(account string, want int) error {
	if got := tc.collateral.BalanceOf(domain.CallerID(account)); got != uint64(want) {
		return fmt.Errorf("expected %s collateral %d, got %d", account, want, got)
	}
	return nil
}

func (tc *TestContext) holdsUnits(holder string, want, id int) error {
	var resp bondhandler.BalanceResponse
	if err := tc.get(holder, fmt.Sprintf("/series/%d/balances/%s", id, holder), &resp); err != nil {
		return err
	}
	if resp.Balance != uint64(want) {
		return fmt.Errorf("expected %s to hold %d units, got %d", holder, want, resp.Balance)
	}
	return nil
}

func (tc *TestContext) totalIssued(id, want int) error {
	var resp bondhandler.TotalIssuedResponse
	if err := tc.get("observer", fmt.Sprintf("/series/%d/total-issued", id), &resp); err != nil {
		return err
	}
	if resp.TotalIssued != uint64(want) {
		return fmt.Errorf("expected total issued %d, got %d", want, resp.TotalIssued)
	}
	return nil
}

// get issues a read without clobbering the last recorded response.
func (tc *TestContext) get(caller, path string, out any) error {
	status, body := tc.status, tc.body
	defer func() { tc.status, tc.body = status, body }()
	if err := tc.do(caller, http.MethodGet, path, nil); err != nil {
		return err
	}
	if tc.status != http.StatusOK {
		return fmt.Errorf("GET %s: status %d: %s", path, tc.status, tc.body)
	}
	return json.Unmarshal(tc.body, out)
}

// RegisterSteps binds the step vocabulary to a fresh TestContext.
func RegisterSteps(ctx *godog.ScenarioContext) {
	tc := newTestContext()

	ctx.Step(`^the ledger is owned by "([^"]*)"$`, tc.ledgerOwnedBy)
	ctx.Step(`^"([^"]*)" holds (\d+) collateral$`, tc.holdsCollateral)
	ctx.Step(`^the vault holds (\d+) collateral$`, tc.vaultHolds)

	ctx.Step(`^"([^"]*)" creates a (fungible|lot) series at (\d+) bps maturing in "([^"]*)"$`, tc.createsSeries)
	ctx.Step(`^"([^"]*)" deactivates series (\d+)$`, tc.deactivates)
	ctx.Step(`^"([^"]*)" purchases (\d+) of series (\d+)$`, tc.purchases)
	ctx.Step(`^"([^"]*)" buys a lot of (\d+) in series (\d+)$`, tc.buysLot)
	ctx.Step(`^"([^"]*)" redeems series (\d+)$`, tc.redeemsSeries)
	ctx.Step(`^"([^"]*)" redeems lot (\d+)$`, tc.redeemsLot)
	ctx.Step(`^(\d+) hours pass$`, tc.hoursPass)

	ctx.Step(`^the response status is (\d+)$`, tc.statusIs)
	ctx.Step(`^the request fails with (\d+) "([^"]*)"$`, tc.requestFails)
	ctx.Step(`^"([^"]*)" has (\d+) collateral$`, tc.hasCollateral)
	ctx.Step(`^"([^"]*)" holds (\d+) units of series (\d+)$`, tc.holdsUnits)
	ctx.Step(`^series (\d+) has (\d+) total issued$`, tc.totalIssued)
}
