package simuleringclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/transfa/spenn-service/internal/domain"
	"github.com/transfa/spenn-service/internal/oppdrag"
)

func TestSimulate(t *testing.T) {
	var received oppdrag.SimulationRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/simulering" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Write([]byte(`{"status":"OK","mottaker":{"gjelderId":"12345678901","totalBelop":"6150","periodeList":[]}}`))
	}))
	defer srv.Close()

	req := oppdrag.SimulationRequest{Order: oppdrag.SimulationOrder{FagsystemID: "1001"}}
	result, err := NewClient(srv.URL).Simulate(context.Background(), req)
	if err != nil {
		t.Fatalf("Simulate() error = %v", err)
	}
	if result.Status != domain.SimulationOK || result.Recipient == nil {
		t.Fatalf("result = %+v", result)
	}
	if result.Recipient.TotalAmount.String() != "6150" {
		t.Fatalf("total = %s", result.Recipient.TotalAmount)
	}
	if received.Order.FagsystemID != "1001" {
		t.Fatalf("server received %+v", received)
	}
}

func TestSimulate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{name: "server error", status: http.StatusInternalServerError, body: "boom", wantErr: "status 500"},
		{name: "unknown status", status: http.StatusOK, body: `{"status":"MAYBE"}`, wantErr: "unknown status"},
		{name: "garbage", status: http.StatusOK, body: `<html>`, wantErr: "decode"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewClient(srv.URL).Simulate(context.Background(), oppdrag.SimulationRequest{})
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Simulate() error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestSimulate_FunctionalRejectionIsAResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"FEIL","feilMelding":"Oppdraget har ugyldig sats"}`))
	}))
	defer srv.Close()

	result, err := NewClient(srv.URL).Simulate(context.Background(), oppdrag.SimulationRequest{})
	if err != nil {
		t.Fatalf("Simulate() error = %v", err)
	}
	if result.Status != domain.SimulationFailed || result.ErrorMessage != "Oppdraget har ugyldig sats" {
		t.Fatalf("result = %+v", result)
	}
}
