package apierr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestHTTPStatusMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"field missing", FieldMissing("ma_id"), http.StatusBadRequest},
		{"quota", QuotaExceeded(), http.StatusBadRequest},
		{"microapp", MicroappNotFound(7), http.StatusNotFound},
		{"run", RunNotFound("12"), http.StatusNotFound},
		{"provider client issue", Provider(http.StatusBadRequest, "bad temperature", nil), http.StatusBadRequest},
		{"provider outage", Provider(http.StatusBadGateway, "upstream down", nil), http.StatusInternalServerError},
		{"provider timeout", Provider(0, "", errors.New("context deadline exceeded")), http.StatusInternalServerError},
		{"plain error", errors.New("boom"), http.StatusInternalServerError},
		{"wrapped", fmt.Errorf("run: %w", NoCredits()), http.StatusBadRequest},
	}
	for _, tc := range cases {
		if got := HTTPStatus(tc.err); got != tc.want {
			t.Fatalf("%s: expected %d, got %d", tc.name, tc.want, got)
		}
	}
}

func TestProviderKeepsUpstreamMessage(t *testing.T) {
	err := Provider(0, "", errors.New("model overloaded"))
	if err.Error() != "model overloaded" {
		t.Fatalf("expected upstream message, got %q", err.Error())
	}
	if KindOf(fmt.Errorf("wrap: %w", err)) != KindProviderError {
		t.Fatalf("expected provider_error kind")
	}
}
