package ticketing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"github.com/Joaopedrozoe/viainfra-sub001/internal/config"
)

func newTestClient(optionsURL, createURL string) *Client {
	return NewClient(nil, config.TicketingConfig{
		OptionsURL:     optionsURL,
		CreateURL:      createURL,
		TimeoutSeconds: 2,
	})
}

func TestFetchOptions_ResponseShapes(t *testing.T) {
	cases := []struct {
		name string
		body string
		want []string
	}{
		{
			name: "string array",
			body: `["Billing", "Returns"]`,
			want: []string{"Billing", "Returns"},
		},
		{
			name: "object array with name",
			body: `[{"id": 1, "name": "Billing"}, {"id": 2, "name": "Returns"}]`,
			want: []string{"Billing", "Returns"},
		},
		{
			name: "object array with title",
			body: `[{"title": "Billing"}, {"title": " Returns "}]`,
			want: []string{"Billing", "Returns"},
		},
		{
			name: "wrapper object",
			body: `{"data": ["Billing", "Returns"]}`,
			want: []string{"Billing", "Returns"},
		},
		{
			name: "newline text",
			body: "Billing\nReturns\n",
			want: []string{"Billing", "Returns"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodGet {
					t.Errorf("options fetch used %s, want GET", r.Method)
				}
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			got, err := newTestClient(srv.URL, "").FetchOptions(context.Background(), "")
			if err != nil {
				t.Fatalf("FetchOptions returned error: %v", err)
			}
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("FetchOptions = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestFetchOptions_Failures(t *testing.T) {
	t.Run("empty body", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`[]`))
		}))
		defer srv.Close()
		if _, err := newTestClient(srv.URL, "").FetchOptions(context.Background(), ""); err == nil {
			t.Fatalf("empty option list must be an error")
		}
	})
	t.Run("server error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()
		if _, err := newTestClient(srv.URL, "").FetchOptions(context.Background(), ""); err == nil {
			t.Fatalf("5xx must be an error")
		}
	})
	t.Run("no endpoint", func(t *testing.T) {
		if _, err := newTestClient("", "").FetchOptions(context.Background(), ""); err == nil {
			t.Fatalf("missing endpoint must be an error")
		}
	})
}

func TestCreateTicket_ReferenceParsing(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{name: "id string", body: `{"id": "TCK-9"}`, want: "TCK-9"},
		{name: "id number", body: `{"id": 4711}`, want: "4711"},
		{name: "ticket_id", body: `{"ticket_id": "T-1"}`, want: "T-1"},
		{name: "protocol", body: `{"protocol": "2026083100042"}`, want: "2026083100042"},
		{name: "plain text", body: "REF-55", want: "REF-55"},
		{name: "no reference", body: `{"status": "queued"}`, want: ""},
		{name: "html page", body: "<html>\n<body>ok</body></html>", want: ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPost {
					t.Errorf("ticket create used %s, want POST", r.Method)
				}
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			got, err := newTestClient("", srv.URL).CreateTicket(context.Background(), "", map[string]string{"subject": "help"})
			if err != nil {
				t.Fatalf("CreateTicket returned error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("CreateTicket reference = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestCreateTicket_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	if _, err := newTestClient("", srv.URL).CreateTicket(context.Background(), "", nil); err == nil {
		t.Fatalf("5xx must be an error")
	}
}
