package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestValidateAmount(t *testing.T) {
	tests := []struct {
		in      string
		wantErr bool
	}{
		{"250000", false},
		{"250000.00", false},
		{"0.01", false},
		{"1.500", false},
		{"0", true},
		{"-10", true},
		{"1.005", true},
		{"0.001", true},
	}
	for _, tc := range tests {
		err := ValidateAmount(decimal.RequireFromString(tc.in))
		if (err != nil) != tc.wantErr {
			t.Errorf("ValidateAmount(%s) err=%v, wantErr=%v", tc.in, err, tc.wantErr)
		}
		if err != nil && !errors.Is(err, ErrInvalidAmount) {
			t.Errorf("ValidateAmount(%s) returned %v, want ErrInvalidAmount", tc.in, err)
		}
	}
}

func TestTransferRequestAcceptsNumberOrString(t *testing.T) {
	for _, body := range []string{
		`{"source_account_number":"A","target_account_number":"B","amount":250000.50}`,
		`{"source_account_number":"A","target_account_number":"B","amount":"250000.50"}`,
	} {
		var req TransferRequest
		if err := json.Unmarshal([]byte(body), &req); err != nil {
			t.Fatalf("unmarshal %s: %v", body, err)
		}
		if !req.Amount.Equal(decimal.RequireFromString("250000.50")) {
			t.Fatalf("unexpected amount %s", req.Amount)
		}
	}
}

func TestMoneyEncodesAsJSONNumber(t *testing.T) {
	body, err := json.Marshal(Leg{AccountNumber: "A", LegType: LegDebit, BalanceAfter: decimal.RequireFromString("250000.50")})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(body), `"balance_after":250000.5`) {
		t.Fatalf("expected a bare decimal number, got %s", body)
	}

	var back Leg
	if err := json.Unmarshal(body, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !back.BalanceAfter.Equal(decimal.RequireFromString("250000.50")) {
		t.Fatalf("amount did not round-trip exactly: %s", back.BalanceAfter)
	}
}

func TestTransferRequestNormalize(t *testing.T) {
	req := TransferRequest{SourceAccountNumber: " A ", TargetAccountNumber: "B\n", CurrencyCode: " idr"}
	req.Normalize()
	if req.SourceAccountNumber != "A" || req.TargetAccountNumber != "B" {
		t.Fatalf("account numbers not trimmed: %+v", req)
	}
	if req.CurrencyCode != "IDR" || req.Description != DefaultTransferDescription {
		t.Fatalf("defaults not applied: %+v", req)
	}
}

func TestExecuteRequestFlattensTransferFields(t *testing.T) {
	body := `{"transaction_type":"TrfOvrbok","transaction_bank":"Internal","source_account_number":"A","target_account_number":"B","amount":"10"}`
	var req ExecuteRequest
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if req.TransactionType != TransactionTypeOverbooking || req.SourceAccountNumber != "A" {
		t.Fatalf("unexpected request %+v", req)
	}
}

func TestMutationID(t *testing.T) {
	if got := MutationID("TX-1", LegDebit); got != "TX-1-SRC" {
		t.Fatalf("debit leg id = %s", got)
	}
	if got := MutationID("TX-1", LegCredit); got != "TX-1-DST" {
		t.Fatalf("credit leg id = %s", got)
	}
}

func TestKindOf(t *testing.T) {
	if KindOf(nil) != "" {
		t.Fatal("nil error should have no kind")
	}
	if KindOf(errors.New("boom")) != KindInternal {
		t.Fatal("unclassified errors are internal")
	}
	wrapped := fmt.Errorf("execute: %w", ErrCurrencyMismatch)
	if KindOf(wrapped) != KindPolicyViolation {
		t.Fatalf("wrapped kind = %s", KindOf(wrapped))
	}
	if PublicMessage(Wrap(KindInternal, "db exploded", errors.New("secret"))) != "internal server error" {
		t.Fatal("internal messages must not leak")
	}
}

func TestRebuiltErrorMatchesSentinel(t *testing.T) {
	rebuilt := NewError(KindPolicyViolation, ErrInsufficientFunds.Message)
	if !errors.Is(rebuilt, ErrInsufficientFunds) {
		t.Fatal("expected errors.Is to match on kind and message")
	}
	if errors.Is(rebuilt, ErrSameAccount) {
		t.Fatal("different messages must not match")
	}
}

func TestDateJSONAndScan(t *testing.T) {
	d, err := ParseDate("2024-02-29")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	b, _ := json.Marshal(d)
	if string(b) != `"2024-02-29"` {
		t.Fatalf("marshal = %s", b)
	}

	var back Date
	if err := json.Unmarshal([]byte(`"2024-02-29T15:04:05Z"`), &back); err != nil {
		t.Fatalf("unmarshal timestamp: %v", err)
	}
	if !back.Equal(d.Time) {
		t.Fatalf("expected %s, got %s", d, back)
	}

	var scanned Date
	if err := scanned.Scan(time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC)); err != nil || scanned.String() != "2024-02-29" {
		t.Fatalf("scan: %v %s", err, scanned)
	}

	var zero Date
	b, _ = json.Marshal(zero)
	if string(b) != "null" {
		t.Fatalf("zero date should marshal to null, got %s", b)
	}
}
