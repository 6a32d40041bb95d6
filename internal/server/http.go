package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/gregory-lime/jacques-context-manager-sub003/internal/archive"
)

// WriteTimeout bounds how long a terminal event waits for a slow subscriber.
const WriteTimeout = 2 * time.Second

type statusError struct {
	code int
	err  error
}

func (e *statusError) Error() string { return e.err.Error() }
func (e *statusError) Unwrap() error { return e.err }

func badRequest(err error) error {
	return &statusError{code: http.StatusBadRequest, err: err}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("writing response")
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	var se *statusError
	switch {
	case errors.As(err, &se):
		code = se.code
	case errors.Is(err, archive.ErrNotFound):
		code = http.StatusNotFound
	}
	if code == http.StatusInternalServerError {
		log.Error().Err(err).Msg("request failed")
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

// parseQuery reads keyword, since, until and limit parameters. Dates are
// YYYY-MM-DD in local time or RFC 3339; a bare until date covers that day.
func parseQuery(r *http.Request) (archive.Query, error) {
	v := r.URL.Query()
	q := archive.Query{Keyword: v.Get("keyword")}

	var err error
	if s := v.Get("since"); s != "" {
		if q.Since, err = parseTime(s, false); err != nil {
			return q, badRequest(fmt.Errorf("invalid since %q", s))
		}
	}
	if s := v.Get("until"); s != "" {
		if q.Until, err = parseTime(s, true); err != nil {
			return q, badRequest(fmt.Errorf("invalid until %q", s))
		}
	}
	if s := v.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return q, badRequest(fmt.Errorf("invalid limit %q", s))
		}
		q.Limit = n
	}
	return q, nil
}

func parseTime(s string, endOfDay bool) (time.Time, error) {
	if t, err := time.ParseInLocation("2006-01-02", s, time.Local); err == nil {
		if endOfDay {
			t = t.AddDate(0, 0, 1).Add(-time.Nanosecond)
		}
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

func writeSSE(w http.ResponseWriter, ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Msg("marshal stream event")
		return
	}
	_, _ = fmt.Fprintf(w, "id: %d\n", ev.ID)
	_, _ = fmt.Fprintf(w, "event: %s\n", ev.Type)
	_, _ = fmt.Fprintf(w, "data: %s\n\n", data)
}

func (s *Server) addSubscriber(ch chan Event) int {
	s.mu.Lock()
	s.nextSubID++
	id := s.nextSubID
	s.subs[id] = ch
	n := len(s.subs)
	s.mu.Unlock()

	log.Debug().Int("subscriber", id).Int("total", n).Msg("stream subscriber connected")
	return id
}

func (s *Server) removeSubscriber(id int) {
	s.mu.Lock()
	delete(s.subs, id)
	n := len(s.subs)
	s.mu.Unlock()

	log.Debug().Int("subscriber", id).Int("total", n).Msg("stream subscriber disconnected")
}
