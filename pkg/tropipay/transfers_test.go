package tropipay

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"
)

func transferMux(t *testing.T, requires2FA bool, executeCalls *atomic.Int32) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v2/transfers/simulate", func(w http.ResponseWriter, r *http.Request) {
		var req wireTransferRequest
		decodeBody(t, r, &req)
		writeJSON(w, http.StatusOK, map[string]any{
			"amountToPay":         req.Amount + 50,
			"amountToReceive":     req.Amount,
			"fees":                50,
			"exchangeRate":        1,
			"requires2FA":         requires2FA,
			"accountBalanceAfter": 100000 - req.Amount - 50,
			"breakdown":           map[string]any{"serviceFee": 50},
		})
	})
	mux.HandleFunc("POST /api/v2/transfers", func(w http.ResponseWriter, r *http.Request) {
		executeCalls.Add(1)
		var req wireTransferRequest
		decodeBody(t, r, &req)
		writeJSON(w, http.StatusOK, map[string]any{
			"id":             "tr-1",
			"reference":      "REF-1",
			"status":         "COMPLETED",
			"amountSent":     req.Amount + 50,
			"amountReceived": req.Amount,
			"fees":           50,
			"currency":       "USD",
		})
	})
	return mux
}

func TestSimulateConvertsUnits(t *testing.T) {
	var sentAmount atomic.Int64
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v2/transfers/simulate", func(w http.ResponseWriter, r *http.Request) {
		var req wireTransferRequest
		decodeBody(t, r, &req)
		sentAmount.Store(req.Amount)
		writeJSON(w, http.StatusOK, map[string]any{"amountToPay": 1056, "amountToReceive": 1000, "fees": 56, "exchangeRate": 1, "accountBalanceAfter": 8944, "breakdown": map[string]any{"fx": 6}})
	})

	client, _ := newTestClient(t, mux)
	withToken(client, "tok", time.Hour)

	sim, err := client.Transfers.Simulate(context.Background(), TransferRequest{FromAccountID: "acc-1", BeneficiaryID: "ben-1", Amount: 10.555, Currency: "usd"})
	if err != nil {
		t.Fatalf("Simulate: %v", err)
	}
	if sentAmount.Load() != 1056 {
		t.Fatalf("expected 1056 minor units on the wire, got %d", sentAmount.Load())
	}
	if sim.AmountToPay != 10.56 || sim.Fees != 0.56 || sim.AccountBalanceAfter != 89.44 || sim.Breakdown["fx"] != 0.06 {
		t.Fatalf("unexpected simulation %+v", sim)
	}
	if sim.Request().Currency != "USD" || sim.Request().Amount != 10.56 {
		t.Fatalf("unexpected normalized request %+v", sim.Request())
	}
}

func TestSimulateValidatesBeforeNetwork(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) { calls.Add(1) })
	client, _ := newTestClient(t, mux)
	withToken(client, "tok", time.Hour)

	tests := []struct {
		name  string
		req   TransferRequest
		field string
	}{
		{name: "missing account", req: TransferRequest{BeneficiaryID: "b", Amount: 1}, field: "accountId"},
		{name: "missing beneficiary", req: TransferRequest{FromAccountID: "a", Amount: 1}, field: "beneficiaryId"},
		{name: "zero amount", req: TransferRequest{FromAccountID: "a", BeneficiaryID: "b"}, field: "amount"},
		{name: "negative amount", req: TransferRequest{FromAccountID: "a", BeneficiaryID: "b", Amount: -5}, field: "amount"},
		{name: "sub-cent amount", req: TransferRequest{FromAccountID: "a", BeneficiaryID: "b", Amount: 0.004}, field: "amount"},
		{name: "unsupported currency", req: TransferRequest{FromAccountID: "a", BeneficiaryID: "b", Amount: 1, Currency: "GBP"}, field: "currency"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := client.Transfers.Simulate(context.Background(), tt.req)
			var valErr *ValidationError
			if !errors.As(err, &valErr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if _, ok := valErr.Fields[tt.field]; !ok {
				t.Fatalf("expected field %q in %v", tt.field, valErr.Fields)
			}
		})
	}
	if calls.Load() != 0 {
		t.Fatalf("expected no network calls, got %d", calls.Load())
	}
}

func TestExecuteRequiresMatchingFreshSimulation(t *testing.T) {
	var executeCalls atomic.Int32
	client, _ := newTestClient(t, transferMux(t, false, &executeCalls))
	withToken(client, "tok", time.Hour)
	ctx := context.Background()

	req := TransferRequest{FromAccountID: "acc-1", BeneficiaryID: "ben-1", Amount: 10, Currency: "USD"}

	if _, err := client.Transfers.Execute(ctx, req, nil, nil); !errors.Is(err, ErrNotSimulated) {
		t.Fatalf("expected ErrNotSimulated, got %v", err)
	}

	sim, err := client.Transfers.Simulate(ctx, req)
	if err != nil {
		t.Fatalf("Simulate: %v", err)
	}

	stale := []TransferRequest{
		{FromAccountID: "acc-1", BeneficiaryID: "ben-1", Amount: 10.01, Currency: "USD"},
		{FromAccountID: "acc-1", BeneficiaryID: "ben-2", Amount: 10, Currency: "USD"},
		{FromAccountID: "acc-2", BeneficiaryID: "ben-1", Amount: 10, Currency: "USD"},
	}
	for _, changed := range stale {
		if _, err := client.Transfers.Execute(ctx, changed, sim, nil); !errors.Is(err, ErrStaleSimulation) {
			t.Fatalf("expected ErrStaleSimulation for %+v, got %v", changed, err)
		}
	}
	if sim.Consumed() {
		t.Fatal("a rejected execute must not consume the simulation")
	}

	result, err := client.Transfers.Execute(ctx, req, sim, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.TransferID != "tr-1" || result.AmountSent != 10.5 || result.Recipient.BeneficiaryID != "ben-1" {
		t.Fatalf("unexpected result %+v", result)
	}

	if _, err := client.Transfers.Execute(ctx, req, sim, nil); !errors.Is(err, ErrSimulationConsumed) {
		t.Fatalf("expected ErrSimulationConsumed on reuse, got %v", err)
	}
	if executeCalls.Load() != 1 {
		t.Fatalf("expected one execute call, got %d", executeCalls.Load())
	}
}

func TestExecuteRequiresSecondFactorWhenSimulationDemandsIt(t *testing.T) {
	var executeCalls atomic.Int32
	client, _ := newTestClient(t, transferMux(t, true, &executeCalls))
	withToken(client, "tok", time.Hour)
	ctx := context.Background()
	req := TransferRequest{FromAccountID: "acc-1", BeneficiaryID: "ben-1", Amount: 10}

	sim, err := client.Transfers.Simulate(ctx, req)
	if err != nil {
		t.Fatalf("Simulate: %v", err)
	}
	if _, err := client.Transfers.Execute(ctx, req, sim, &SecondFactor{Code: " - "}); Kind(err) != KindValidation {
		t.Fatalf("expected validation error for empty code, got %v", err)
	}
	if executeCalls.Load() != 0 || sim.Consumed() {
		t.Fatal("expected no execute call without a code")
	}
	if _, err := client.Transfers.Execute(ctx, req, sim, &SecondFactor{Code: "123 456"}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
}

func TestExecuteInsufficientFunds(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v2/transfers/simulate", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"amountToPay": 1000, "amountToReceive": 1000})
	})
	mux.HandleFunc("POST /api/v2/transfers", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, map[string]any{"code": "INSUFFICIENT_FUNDS", "message": "not enough money", "available": 500})
	})

	client, _ := newTestClient(t, mux)
	withToken(client, "tok", time.Hour)
	var failed atomic.Int32
	client.OnEvent(func(e Event) {
		if e.Type == EventTransferFailed {
			failed.Add(1)
		}
	})
	ctx := context.Background()
	req := TransferRequest{FromAccountID: "acc-1", BeneficiaryID: "ben-1", Amount: 10, Currency: "USD"}

	sim, err := client.Transfers.Simulate(ctx, req)
	if err != nil {
		t.Fatalf("Simulate: %v", err)
	}
	_, err = client.Transfers.Execute(ctx, req, sim, nil)

	var fundsErr *InsufficientFundsError
	if !errors.As(err, &fundsErr) {
		t.Fatalf("expected InsufficientFundsError, got %T: %v", err, err)
	}
	if *fundsErr.Available != 5.00 || *fundsErr.Required != 10.00 || fundsErr.Currency != "USD" {
		t.Fatalf("unexpected funds error %+v", fundsErr)
	}
	if failed.Load() != 1 {
		t.Fatalf("expected one transfer failed event, got %d", failed.Load())
	}
}

func TestExecuteWrapsGenericFailureAsTransferError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v2/transfers/simulate", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"amountToPay": 1000})
	})
	mux.HandleFunc("POST /api/v2/transfers", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, map[string]any{"code": "INVALID_SECURITY_CODE", "message": "wrong code"})
	})

	client, _ := newTestClient(t, mux)
	withToken(client, "tok", time.Hour)
	ctx := context.Background()
	req := TransferRequest{FromAccountID: "acc-1", BeneficiaryID: "ben-1", Amount: 10}

	sim, _ := client.Transfers.Simulate(ctx, req)
	_, err := client.Transfers.Execute(ctx, req, sim, nil)

	var trErr *TransferError
	if !errors.As(err, &trErr) || trErr.Code != "INVALID_SECURITY_CODE" || trErr.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected TransferError, got %v", err)
	}
}

func TestRequestSMSValidatesPhone(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v2/security/sms", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var req smsRequest
		decodeBody(t, r, &req)
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "skipSMS": "false"})
	})
	client, _ := newTestClient(t, mux)
	withToken(client, "tok", time.Hour)

	if _, err := client.Transfers.RequestSMS(context.Background(), "123"); Kind(err) != KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	result, err := client.Transfers.RequestSMS(context.Background(), "+53 5 123 4567")
	if err != nil || !result.Success || result.SkipSMS {
		t.Fatalf("unexpected sms result %+v, %v", result, err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected one sms call, got %d", calls.Load())
	}
}
