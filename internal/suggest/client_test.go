package suggest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestGetSuggestions_OK(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Fatalf("method = %s, want GET", r.Method)
		}
		if r.URL.Path != "/api/suggest-orders" {
			t.Fatalf("path = %s, want /api/suggest-orders", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer user-1" {
			t.Fatalf("authorization = %q, want bearer credential", auth)
		}

		resp := map[string][]Suggestion{
			"suggestions": {
				{Name: "Masala Dosa", Reason: "You ordered this last week"},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}))
	defer ts.Close()

	client := NewClient(ts.URL)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	got := client.GetSuggestions(ctx, "user-1")
	if len(got) != 1 || got[0].Name != "Masala Dosa" {
		t.Fatalf("unexpected suggestions: %+v", got)
	}
}

func TestGetSuggestions_FallbackOnError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	client := NewClient(ts.URL)

	got := client.GetSuggestions(context.Background(), "user-1")
	if len(got) != 3 {
		t.Fatalf("expected 3 fallback suggestions, got %d", len(got))
	}
	if got[0].Name != "Cheese Burger" {
		t.Fatalf("unexpected first fallback: %+v", got[0])
	}
}

func TestGetSuggestions_FallbackOnEmpty(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"suggestions":[]}`))
	}))
	defer ts.Close()

	client := NewClient(ts.URL)

	got := client.GetSuggestions(context.Background(), "user-1")
	if len(got) != 3 {
		t.Fatalf("expected 3 fallback suggestions, got %d", len(got))
	}
}

func TestGetSuggestions_NilClient(t *testing.T) {
	var client *Client

	got := client.GetSuggestions(context.Background(), "user-1")
	if len(got) != 3 {
		t.Fatalf("expected fallback for nil client, got %d items", len(got))
	}
}
