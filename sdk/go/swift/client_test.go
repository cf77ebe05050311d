package swift

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

const (
	testSender    = "0x00000000000000000000000000000000000000a1"
	testRecipient = "0x00000000000000000000000000000000000000b2"
)

func TestOpenStreamSendsPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/streams" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Fatalf("unexpected method: %s", r.Method)
		}
		var req OpenStreamRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if req.TotalAmount != "600" || req.Duration != 10 {
			t.Fatalf("unexpected payload: %+v", req)
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"sender":    req.Sender,
			"recipient": req.Recipient,
			"seq":       1,
			"status":    "active",
			"flow_rate": 60,
			"balance":   600,
			"deposited": 600,
			"withdrawn": 0,
			"refunded":  0,
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, srv.Client())
	opened, err := client.OpenStream(context.Background(), OpenStreamRequest{
		Sender:      testSender,
		Recipient:   testRecipient,
		TotalAmount: "600",
		Duration:    10,
	})
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	if !opened.Active() || opened.FlowRate.Int64() != 60 {
		t.Fatalf("unexpected stream: %+v", opened)
	}
}

func TestWithdrawSendsCallerHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		want := "/api/v1/streams/" + testSender + "/" + testRecipient + "/withdraw"
		if r.URL.Path != want {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if got := r.Header.Get("X-Swift-Caller"); got != testRecipient {
			t.Fatalf("expected caller header %s, got %q", testRecipient, got)
		}
		_ = json.NewEncoder(w).Encode(Settlement{Paid: "300", Refund: "0"})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, srv.Client())
	client.SetCaller(testRecipient)

	settled, err := client.Withdraw(context.Background(), testSender, testRecipient)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if settled.Paid != "300" {
		t.Fatalf("expected paid 300, got %s", settled.Paid)
	}
}

func TestRequestsCarryBearerToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Fatalf("expected bearer token, got %q", got)
		}
		_ = json.NewEncoder(w).Encode(Owed{Owed: "120", At: 1002})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, srv.Client())
	client.SetAccessToken("secret")

	owed, err := client.GetOwed(context.Background(), testSender, testRecipient)
	if err != nil {
		t.Fatalf("get owed: %v", err)
	}
	if owed.Owed != "120" || owed.At != 1002 {
		t.Fatalf("unexpected owed: %+v", owed)
	}
}

func TestErrorResponsesBecomeAPIErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"error": "stream already active",
			"code":  "STREAM_ALREADY_ACTIVE",
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, srv.Client())
	_, err := client.OpenStream(context.Background(), OpenStreamRequest{
		Sender: testSender, Recipient: testRecipient, TotalAmount: "600", Duration: 10,
	})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusConflict || apiErr.Code != "STREAM_ALREADY_ACTIVE" {
		t.Fatalf("unexpected api error: %+v", apiErr)
	}
}

func TestIsAgentRegistered(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/agents/" + testRecipient:
			_ = json.NewEncoder(w).Encode(Agent{Address: testRecipient})
		default:
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "agent not found", "code": "AGENT_NOT_FOUND"})
		}
	}))
	defer srv.Close()

	client := NewClient(srv.URL, srv.Client())

	registered, err := client.IsAgentRegistered(context.Background(), testRecipient)
	if err != nil || !registered {
		t.Fatalf("expected registered, got %v %v", registered, err)
	}
	registered, err = client.IsAgentRegistered(context.Background(), testSender)
	if err != nil || registered {
		t.Fatalf("expected unregistered without error, got %v %v", registered, err)
	}
}

func TestReopenStreamCancelsFirst(t *testing.T) {
	cancelled := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/streams/" + testSender + "/" + testRecipient + "/cancel":
			cancelled = true
			_ = json.NewEncoder(w).Encode(Settlement{Paid: "240", Refund: "360"})
		case "/api/v1/streams":
			if !cancelled {
				t.Fatal("reopen must cancel the active stream before opening")
			}
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(map[string]any{"seq": 2, "status": "active"})
		default:
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	client := NewClient(srv.URL, srv.Client())
	client.SetCaller(testSender)

	reopened, err := client.ReopenStream(context.Background(), OpenStreamRequest{
		Sender: testSender, Recipient: testRecipient, TotalAmount: "300", Duration: 5,
	})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if reopened.Seq != 2 {
		t.Fatalf("expected seq 2, got %d", reopened.Seq)
	}
}
