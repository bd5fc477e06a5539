package timeseries

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/rweeks/tankmonitor/controller"
)

// Subsystem exposes the store's query surface to the presentation layer.
// The dashboard and any TSV export go through these two routes; nothing
// else may reach into the series directly.
type Subsystem struct {
	store *Store
	units map[string]string
}

func NewSubsystem(store *Store, units map[string]string) *Subsystem {
	return &Subsystem{store: store, units: units}
}

func (s *Subsystem) Setup() error { return nil }
func (s *Subsystem) Start()       {}
func (s *Subsystem) Stop()        {}

func (s *Subsystem) LoadAPI(r *mux.Router) {
	sr := r.PathPrefix("/api/tank").Subrouter()
	sr.HandleFunc("/readings/{category}", s.getReadings).Methods("GET")
	sr.HandleFunc("/deltas/{category}", s.getDeltas).Methods("GET")
}

func parseGranularity(r *http.Request) (Granularity, error) {
	raw := r.URL.Query().Get("granularity")
	if raw == "" {
		return Minute, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid granularity %q", raw)
	}
	for _, g := range Granularities {
		if Granularity(n) == g {
			return g, nil
		}
	}
	return 0, fmt.Errorf("granularity must be one of 10, 60, 3600")
}

func (s *Subsystem) unitFor(cat string) string {
	if u, ok := s.units[cat]; ok {
		return u
	}
	return ""
}

func (s *Subsystem) getReadings(w http.ResponseWriter, r *http.Request) {
	cat := controller.Category(mux.Vars(r)["category"])
	g, err := parseGranularity(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var since *float64
	if raw := r.URL.Query().Get("since"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			http.Error(w, "invalid since timestamp", http.StatusBadRequest)
			return
		}
		since = &v
	}
	records := s.store.Query(cat, g, since)

	if r.URL.Query().Get("format") == "tsv" {
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprintf(w, "\"Timestamp\"\t%q\n", s.unitFor(string(cat)))
		for _, rec := range records {
			ts := time.Unix(int64(rec.Timestamp), 0).Format("2006-01-02 15:04:05")
			fmt.Fprintf(w, "%s\t%v\n", ts, rec.Value)
		}
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"key":    string(cat),
		"unit":   s.unitFor(string(cat)),
		"values": records,
	})
}

func (s *Subsystem) getDeltas(w http.ResponseWriter, r *http.Request) {
	cat := controller.Category(mux.Vars(r)["category"])
	g, err := parseGranularity(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	points := s.store.QueryDeltas(cat, g)

	if r.URL.Query().Get("format") == "tsv" {
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprintf(w, "\"Timestamp\"\t\"Rate of Change (%s/min)\"\n", s.unitFor(string(cat)))
		for _, p := range points {
			if p.Delta == nil {
				continue
			}
			ts := time.Unix(int64(p.Reading.Timestamp), 0).Format("2006-01-02 15:04:05")
			fmt.Fprintf(w, "%s\t%v\n", ts, p.Delta.Rate)
		}
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"key":    string(cat) + "-deltas",
		"values": points,
	})
}
