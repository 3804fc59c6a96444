package main

import (
	"encoding/json"
	"flag"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"time"
)

// fake_upstream serves a canned metro status payload for local runs. With
// -churn, a random line or station status flips every few requests so the
// change detector has something to chew on.
func main() {
	addr := flag.String("addr", ":9091", "listen address")
	churn := flag.Bool("churn", false, "randomly flip statuses")
	flag.Parse()

	logger := log.New(os.Stdout, "fake_upstream ", log.LstdFlags|log.Lmsgprefix)
	server := &fakeUpstream{
		churn: *churn,
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
		state: seedState(),
	}

	http.HandleFunc("/status", server.handleStatus)
	logger.Printf("listening: addr=%s churn=%t", *addr, *churn)
	logger.Fatal(http.ListenAndServe(*addr, nil))
}

type station struct {
	Code          string   `json:"code"`
	Name          string   `json:"name"`
	Status        string   `json:"status"`
	Description   string   `json:"description"`
	TransferLines []string `json:"transferLines,omitempty"`
}

type line struct {
	Status   string    `json:"status"`
	Message  string    `json:"message"`
	Stations []station `json:"stations"`
}

type fakeUpstream struct {
	churn bool
	rng   *rand.Rand

	mu       sync.Mutex
	state    map[string]line
	requests int
}

func (f *fakeUpstream) handleStatus(w http.ResponseWriter, _ *http.Request) {
	f.mu.Lock()
	f.requests++
	if f.churn && f.requests%3 == 0 {
		f.flipRandom()
	}
	payload, _ := json.Marshal(f.state)
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(payload)
}

func (f *fakeUpstream) flipRandom() {
	codes := []string{"1", "3", "4", "5"}
	for id, l := range f.state {
		if f.rng.Float64() < 0.5 {
			l.Status = codes[f.rng.Intn(len(codes))]
			if l.Status != "1" {
				l.Message = "incidencia simulada"
			} else {
				l.Message = ""
			}
			f.state[id] = l
			return
		}
		if len(l.Stations) > 0 {
			i := f.rng.Intn(len(l.Stations))
			l.Stations[i].Status = codes[f.rng.Intn(len(codes))]
			f.state[id] = l
			return
		}
	}
}

func seedState() map[string]line {
	return map[string]line{
		"l1": {
			Status: "1",
			Stations: []station{
				{Code: "st101", Name: "Observatorio", Status: "1"},
				{Code: "st102", Name: "Tacubaya", Status: "1", TransferLines: []string{"l7", "l9"}},
				{Code: "st103", Name: "Juanacatlán", Status: "1"},
				{Code: "st104", Name: "Chapultepec", Status: "1"},
			},
		},
		"l7": {
			Status: "1",
			Stations: []station{
				{Code: "st701", Name: "El Rosario", Status: "1", TransferLines: []string{"l6"}},
				{Code: "st702", Name: "Aquiles Serdán", Status: "1"},
			},
		},
		"l9": {
			Status: "1",
			Stations: []station{
				{Code: "st901", Name: "Pantitlán", Status: "1", TransferLines: []string{"l1", "l5"}},
				{Code: "st902", Name: "Puebla", Status: "1"},
			},
		},
	}
}
