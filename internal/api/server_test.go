package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ticketd-io/ticketd/internal/logbuf"
	"github.com/ticketd-io/ticketd/internal/ticket"
)

type mockService struct {
	tickets map[int]*ticket.Ticket
	closed  []int
	closeFn func(id int) (ticket.CloseOutcome, error)
}

func newMockService(tickets ...*ticket.Ticket) *mockService {
	m := &mockService{tickets: make(map[int]*ticket.Ticket)}
	for _, t := range tickets {
		m.tickets[t.ID] = t
	}
	return m
}

func (m *mockService) ListTickets() ([]*ticket.Ticket, error) {
	var all []*ticket.Ticket
	for i := 0; i < 100; i++ {
		if t, ok := m.tickets[i]; ok {
			all = append(all, t)
		}
	}
	return all, nil
}

func (m *mockService) GetTicket(id int) (*ticket.Ticket, error) {
	t, ok := m.tickets[id]
	if !ok {
		return nil, ticket.ErrNotFound
	}
	return t, nil
}

func (m *mockService) CloseTicket(_ context.Context, id int) (ticket.CloseOutcome, error) {
	if m.closeFn != nil {
		return m.closeFn(id)
	}
	if _, ok := m.tickets[id]; !ok {
		return 0, ticket.ErrNotFound
	}
	m.closed = append(m.closed, id)
	return ticket.Closed, nil
}

func newTestServer(svc TicketService, key string, logs LogQuerier) *Server {
	return NewServer(svc, Config{Host: "127.0.0.1", Port: 0, Key: key}, nil, logs, nil)
}

func doRequest(s *Server, method, path, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestHealthNoAuth(t *testing.T) {
	s := newTestServer(newMockService(), "secret", nil)
	w := doRequest(s, http.MethodGet, "/api/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestAuthRequired(t *testing.T) {
	s := newTestServer(newMockService(), "secret", nil)

	if w := doRequest(s, http.MethodGet, "/api/tickets", ""); w.Code != http.StatusUnauthorized {
		t.Errorf("no token: status = %d", w.Code)
	}
	if w := doRequest(s, http.MethodGet, "/api/tickets", "wrong"); w.Code != http.StatusUnauthorized {
		t.Errorf("bad token: status = %d", w.Code)
	}
	if w := doRequest(s, http.MethodGet, "/api/tickets", "secret"); w.Code != http.StatusOK {
		t.Errorf("good token: status = %d", w.Code)
	}
}

func TestAuthDisabledWithoutKey(t *testing.T) {
	s := newTestServer(newMockService(), "", nil)
	if w := doRequest(s, http.MethodGet, "/api/tickets", ""); w.Code != http.StatusOK {
		t.Errorf("status = %d", w.Code)
	}
}

func TestListTickets(t *testing.T) {
	s := newTestServer(newMockService(
		&ticket.Ticket{ID: 1, Owner: "U-a", Channel: "chan-1", State: ticket.StateOpen},
		&ticket.Ticket{ID: 2, Owner: "U-b", Channel: "chan-2", State: ticket.StateClosing},
	), "", nil)

	w := doRequest(s, http.MethodGet, "/api/tickets", "")
	var all []*ticket.Ticket
	if err := json.Unmarshal(w.Body.Bytes(), &all); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("got %d tickets", len(all))
	}

	w = doRequest(s, http.MethodGet, "/api/tickets?state=closing", "")
	var closing []*ticket.Ticket
	json.Unmarshal(w.Body.Bytes(), &closing)
	if len(closing) != 1 || closing[0].ID != 2 {
		t.Errorf("closing = %+v", closing)
	}
}

func TestGetTicket(t *testing.T) {
	s := newTestServer(newMockService(
		&ticket.Ticket{ID: 3, Owner: "U-a", Reason: "billing", Channel: "chan-3", State: ticket.StateOpen},
	), "", nil)

	w := doRequest(s, http.MethodGet, "/api/tickets/3", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var tk ticket.Ticket
	if err := json.Unmarshal(w.Body.Bytes(), &tk); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if tk.Reason != "billing" {
		t.Errorf("reason = %q", tk.Reason)
	}

	if w := doRequest(s, http.MethodGet, "/api/tickets/99", ""); w.Code != http.StatusNotFound {
		t.Errorf("missing: status = %d", w.Code)
	}
	if w := doRequest(s, http.MethodGet, "/api/tickets/abc", ""); w.Code != http.StatusBadRequest {
		t.Errorf("bad id: status = %d", w.Code)
	}
}

func TestCloseTicket(t *testing.T) {
	svc := newMockService(&ticket.Ticket{ID: 5, Owner: "U-a", Channel: "chan-5", State: ticket.StateOpen})
	s := newTestServer(svc, "", nil)

	w := doRequest(s, http.MethodPost, "/api/tickets/5/close", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body)
	}
	var resp map[string]string
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["outcome"] != "closed" {
		t.Errorf("outcome = %q", resp["outcome"])
	}
	if len(svc.closed) != 1 || svc.closed[0] != 5 {
		t.Errorf("closed = %v", svc.closed)
	}

	if w := doRequest(s, http.MethodPost, "/api/tickets/99/close", ""); w.Code != http.StatusNotFound {
		t.Errorf("missing: status = %d", w.Code)
	}
}

func TestCloseTicketIdempotentOutcome(t *testing.T) {
	svc := newMockService()
	svc.closeFn = func(int) (ticket.CloseOutcome, error) { return ticket.AlreadyClosing, nil }
	s := newTestServer(svc, "", nil)

	w := doRequest(s, http.MethodPost, "/api/tickets/5/close", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp map[string]string
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["outcome"] != "already_closing" {
		t.Errorf("outcome = %q", resp["outcome"])
	}
}

func TestGetLogs(t *testing.T) {
	ring := logbuf.NewRing(10)
	now := time.Now()
	ring.Append(logbuf.Record{Time: now, Level: "INFO", Message: "ticket opened", Attrs: map[string]any{"ticket": int64(1)}})
	ring.Append(logbuf.Record{Time: now, Level: "ERROR", Message: "sweep failed"})

	s := newTestServer(newMockService(), "", ring)

	w := doRequest(s, http.MethodGet, "/api/logs", "")
	var records []logbuf.Record
	if err := json.Unmarshal(w.Body.Bytes(), &records); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records", len(records))
	}

	w = doRequest(s, http.MethodGet, "/api/logs?level=error", "")
	records = nil
	json.Unmarshal(w.Body.Bytes(), &records)
	if len(records) != 1 || records[0].Message != "sweep failed" {
		t.Errorf("error records = %+v", records)
	}

	w = doRequest(s, http.MethodGet, "/api/logs?ticket=1", "")
	records = nil
	json.Unmarshal(w.Body.Bytes(), &records)
	if len(records) != 1 || records[0].Message != "ticket opened" {
		t.Errorf("ticket records = %+v", records)
	}
}

func TestGetLogsWithoutRing(t *testing.T) {
	s := newTestServer(newMockService(), "", nil)
	w := doRequest(s, http.MethodGet, "/api/logs", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if body := w.Body.String(); body != "[]\n" {
		t.Errorf("body = %q", body)
	}
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(newMockService(), "secret", nil)
	w := doRequest(s, http.MethodOptions, "/api/tickets", "")
	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("allow-origin = %q", got)
	}
}
