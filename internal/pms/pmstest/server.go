// Package pmstest provides an in-memory fake of the channel manager's REST
// API for tests.
package pmstest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"strconv"
	"sync"

	"staysync/internal/pms"
)

// RefreshToken is the only refresh token the fake accepts.
const RefreshToken = "test-refresh-token"

// Server is a fake API backed by a map of bookings.
type Server struct {
	*httptest.Server

	// PageSize bounds GET /bookings pages.
	PageSize int

	mu          sync.Mutex
	bookings    map[int64]pms.Booking
	nextID      int64
	token       string
	tokenCalls  int
	listCalls   int
	writeCalls  int
	listStatus  int
	writeStatus int
}

// NewServer starts a fake. Call Close when done.
func NewServer() *Server {
	s := &Server{PageSize: 100, bookings: make(map[int64]pms.Booking), nextID: 1000}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /authentication/token", s.handleToken)
	mux.HandleFunc("GET /bookings", s.handleList)
	mux.HandleFunc("POST /bookings", s.handleWrite)
	s.Server = httptest.NewServer(mux)
	return s
}

// Client returns a pms.Client pointed at the fake with throttling relaxed.
func (s *Server) Client(recorder pms.CallRecorder) *pms.Client {
	return pms.New(pms.Config{
		BaseURL:           s.URL,
		RefreshToken:      RefreshToken,
		RequestsPerSecond: 1000,
		Burst:             1000,
	}, nil, recorder)
}

// Put stores or replaces a reservation.
func (s *Server) Put(b pms.Booking) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bookings[b.ID] = b
}

// Booking returns the stored reservation with id.
func (s *Server) Booking(id int64) (pms.Booking, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	return b, ok
}

// Bookings returns every stored reservation ordered by id.
func (s *Server) Bookings() []pms.Booking {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sorted()
}

// FailLists makes GET /bookings answer with status until reset with 0.
func (s *Server) FailLists(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listStatus = status
}

// FailWrites makes POST /bookings answer with status until reset with 0.
func (s *Server) FailWrites(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeStatus = status
}

// Calls reports how many token, list and write requests were served.
func (s *Server) Calls() (token, list, write int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokenCalls, s.listCalls, s.writeCalls
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokenCalls++
	if r.Header.Get("refreshToken") != RefreshToken {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "error": "invalid refresh token"})
		return
	}
	s.token = fmt.Sprintf("access-%d", s.tokenCalls)
	writeJSON(w, http.StatusOK, map[string]any{"token": s.token, "expiresIn": 86400})
}

func (s *Server) authorized(r *http.Request) bool {
	return s.token != "" && r.Header.Get("token") == s.token
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listCalls++
	if !s.authorized(r) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "error": "token invalid"})
		return
	}
	if s.listStatus != 0 {
		if s.listStatus == http.StatusUnauthorized {
			s.token = ""
		}
		writeJSON(w, s.listStatus, map[string]any{"success": false, "error": "injected failure"})
		return
	}

	q := r.URL.Query()
	props := q["propertyId"]
	statuses := q["status"]
	arrivalTo := q.Get("arrivalTo")
	departureFrom := q.Get("departureFrom")

	var match []pms.Booking
	for _, b := range s.sorted() {
		if len(props) > 0 && !slices.Contains(props, b.PropertyKey()) {
			continue
		}
		if len(statuses) > 0 && !slices.Contains(statuses, b.Status) {
			continue
		}
		if arrivalTo != "" && b.Arrival > arrivalTo {
			continue
		}
		if departureFrom != "" && b.Departure < departureFrom {
			continue
		}
		match = append(match, b)
	}

	page, _ := strconv.Atoi(q.Get("page"))
	if page < 1 {
		page = 1
	}
	size := s.PageSize
	if size <= 0 {
		size = 100
	}
	lo := min((page-1)*size, len(match))
	hi := min(lo+size, len(match))

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"count":   hi - lo,
		"data":    match[lo:hi],
		"pages":   map[string]any{"nextPageExists": hi < len(match)},
	})
}

func (s *Server) handleWrite(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeCalls++
	if !s.authorized(r) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "error": "token invalid"})
		return
	}
	if s.writeStatus != 0 {
		writeJSON(w, s.writeStatus, map[string]any{"success": false, "error": "injected failure"})
		return
	}

	var items []map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&items); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": err.Error()})
		return
	}

	results := make([]map[string]any, 0, len(items))
	for _, item := range items {
		if rawID, ok := item["id"]; ok {
			var id int64
			_ = json.Unmarshal(rawID, &id)
			b, exists := s.bookings[id]
			if !exists {
				results = append(results, map[string]any{"success": false,
					"errors": []map[string]string{{"field": "id", "message": "booking not found"}}})
				continue
			}
			if raw, ok := item["status"]; ok {
				_ = json.Unmarshal(raw, &b.Status)
			}
			s.bookings[id] = b
			results = append(results, map[string]any{"success": true, "modified": map[string]any{"id": id}})
			continue
		}

		raw, _ := json.Marshal(item)
		var nb pms.NewBooking
		_ = json.Unmarshal(raw, &nb)
		s.nextID++
		s.bookings[s.nextID] = pms.Booking{
			ID:           s.nextID,
			PropertyID:   nb.PropertyID,
			RoomID:       nb.RoomID,
			Status:       nb.Status,
			Arrival:      nb.Arrival,
			Departure:    nb.Departure,
			FirstName:    nb.FirstName,
			LastName:     nb.LastName,
			APIReference: nb.APIReference,
			Notes:        nb.Notes,
		}
		results = append(results, map[string]any{"success": true, "new": map[string]any{"id": s.nextID}})
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) sorted() []pms.Booking {
	out := make([]pms.Booking, 0, len(s.bookings))
	for _, b := range s.bookings {
		out = append(out, b)
	}
	slices.SortFunc(out, func(a, b pms.Booking) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
