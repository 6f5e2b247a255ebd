package storeapi

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/openinstrument/store/internal/cluster"
	"github.com/openinstrument/store/internal/datastore"
	"github.com/openinstrument/store/internal/retention"
	"github.com/openinstrument/store/pkg/log"
	"github.com/openinstrument/store/pkg/variable"
)

// ErrorResponse is the JSON body returned alongside any non-2xx status.
type ErrorResponse struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

func handleError(err error, statusCode int, rw http.ResponseWriter) {
	log.Warnf("storeapi: %s", err.Error())
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(statusCode)
	json.NewEncoder(rw).Encode(ErrorResponse{Status: http.StatusText(statusCode), Error: err.Error()})
}

func decode(r io.Reader, val any) error {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	return dec.Decode(val)
}

// StoreAPI wires the engine (live datastore plus cluster config) to the
// HTTP boundary of §6/§13.
type StoreAPI struct {
	Store  *datastore.DataStore
	Config *cluster.ConfigStore
	Files  *retention.FileManager

	// Peers fans /get and /list out to the rest of the cluster. Nil
	// disables fan-out entirely (a single-node deployment, or a test
	// exercising only local behavior).
	Peers *cluster.Fanout
	// Self is this server's own address as it would appear in another
	// server's peers[] list, so Scatter never calls back into itself.
	Self string
}

// scatterPeers returns cfg's peer list with Self removed.
func (a *StoreAPI) scatterPeers(cfg *cluster.StoreConfig) *cluster.StoreConfig {
	if a.Self == "" {
		return cfg
	}
	peers := make([]cluster.Peer, 0, len(cfg.Peers))
	for _, p := range cfg.Peers {
		if p.Address == a.Self {
			continue
		}
		peers = append(peers, p)
	}
	return &cluster.StoreConfig{Interval: cfg.Interval, Peers: peers, Retention: cfg.Retention, Ring: cfg.Ring}
}

// MountRoutes registers every route in §6's path table on r.
func (a *StoreAPI) MountRoutes(r *mux.Router) {
	r.HandleFunc("/add", a.handleAdd).Methods(http.MethodPost)
	r.HandleFunc("/list", a.handleList).Methods(http.MethodPost)
	r.HandleFunc("/get", a.handleGet).Methods(http.MethodPost)
	r.HandleFunc("/get_config", a.handleGetConfig).Methods(http.MethodGet, http.MethodPost)
	r.HandleFunc("/stats", a.handleStats).Methods(http.MethodGet)
	r.HandleFunc("/export_vars", handleExportVars).Methods(http.MethodGet)
	r.PathPrefix("/static/").HandlerFunc(handleStatic)
}

func (a *StoreAPI) handleAdd(rw http.ResponseWriter, r *http.Request) {
	var req AddRequest
	if err := decode(r.Body, &req); err != nil {
		handleError(err, http.StatusBadRequest, rw)
		return
	}

	for _, sw := range req.Streams {
		s, err := streamFromWire(sw)
		if err != nil {
			json.NewEncoder(rw).Encode(AddResponse{Success: false, Message: err.Error()})
			return
		}
		for _, v := range s.Values {
			if err := a.Store.Record(s.Variable, v); err != nil {
				json.NewEncoder(rw).Encode(AddResponse{Success: false, Message: err.Error()})
				return
			}
		}
	}

	rw.Header().Set("Content-Type", "application/json")
	json.NewEncoder(rw).Encode(AddResponse{Success: true})
}

func (a *StoreAPI) handleList(rw http.ResponseWriter, r *http.Request) {
	var req ListRequest
	if err := decode(r.Body, &req); err != nil {
		handleError(err, http.StatusBadRequest, rw)
		return
	}

	name := req.Prefix
	if !strings.HasSuffix(name, "*") {
		name += "*"
	}
	vars := a.Store.FindVariables(variable.New(name))
	local := make([]ValueStreamWire, len(vars))
	for i, v := range vars {
		local[i] = ValueStreamWire{Variable: variableToWire(v)}
	}

	sets := [][]ValueStreamWire{local}
	if a.Peers != nil {
		cfg := a.scatterPeers(a.Config.Current())
		results := a.Peers.Scatter(r.Context(), cfg, peerRequest{path: "/list", body: req})
		for _, lr := range cluster.Gather[ListResponse](results) {
			sets = append(sets, lr.Streams)
		}
	}
	merged, err := mergeStreamWires(sets...)
	if err != nil {
		handleError(err, http.StatusInternalServerError, rw)
		return
	}

	rw.Header().Set("Content-Type", "application/json")
	json.NewEncoder(rw).Encode(ListResponse{Streams: merged})
}

func (a *StoreAPI) handleGet(rw http.ResponseWriter, r *http.Request) {
	var req GetRequest
	if err := decode(r.Body, &req); err != nil {
		handleError(err, http.StatusBadRequest, rw)
		return
	}

	search, err := variable.Parse(req.Variable)
	if err != nil {
		handleError(err, http.StatusBadRequest, rw)
		return
	}

	q := datastore.Query{Search: search, Start: req.MinTS, End: req.MaxTS}
	for _, mw := range req.Mutation {
		m, err := mutationFromWire(mw)
		if err != nil {
			handleError(err, http.StatusBadRequest, rw)
			return
		}
		q.Mutations = append(q.Mutations, m)
	}
	for _, aw := range req.Aggregation {
		agg, err := aggregationFromWire(aw)
		if err != nil {
			handleError(err, http.StatusBadRequest, rw)
			return
		}
		q.Aggregations = append(q.Aggregations, agg)
	}

	results := a.Store.Run(q)
	local := make([]ValueStreamWire, len(results))
	for i, s := range results {
		local[i] = streamToWire(s)
	}

	sets := [][]ValueStreamWire{local}
	if a.Peers != nil {
		cfg := a.scatterPeers(a.Config.Current())
		peerResults := a.Peers.Scatter(r.Context(), cfg, peerRequest{path: "/get", body: req})
		for _, gr := range cluster.Gather[GetResponse](peerResults) {
			sets = append(sets, gr.Streams)
		}
	}
	merged, err := mergeStreamWires(sets...)
	if err != nil {
		handleError(err, http.StatusInternalServerError, rw)
		return
	}

	rw.Header().Set("Content-Type", "application/json")
	json.NewEncoder(rw).Encode(GetResponse{Streams: merged})
}

func (a *StoreAPI) handleGetConfig(rw http.ResponseWriter, r *http.Request) {
	cfg := a.Config.Current()
	addrs := make([]string, len(cfg.Peers))
	for i, p := range cfg.Peers {
		addrs[i] = fmt.Sprintf("%s:%s", p.Address, p.State)
	}
	rw.Header().Set("Content-Type", "application/json")
	json.NewEncoder(rw).Encode(struct {
		Interval int64    `json:"interval"`
		Peers    []string `json:"peers"`
	}{Interval: cfg.Interval, Peers: addrs})
}

// handleStats reports disk usage and open-file counts for the data
// directory, used by operators to watch retention keep the on-disk
// footprint bounded.
func (a *StoreAPI) handleStats(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "application/json")
	if a.Files == nil {
		json.NewEncoder(rw).Encode(struct {
			DiskUsageMB      float64 `json:"disk_usage_mb"`
			IndexedFileCount int     `json:"indexed_file_count"`
		}{})
		return
	}
	json.NewEncoder(rw).Encode(struct {
		DiskUsageMB      float64 `json:"disk_usage_mb"`
		IndexedFileCount int     `json:"indexed_file_count"`
	}{DiskUsageMB: a.Files.DiskUsageMB(), IndexedFileCount: a.Files.IndexedFileCount()})
}

// handleExportVars stubs the exported-variable reporting endpoint,
// explicitly out of scope per §1's Non-goals.
func handleExportVars(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "text/plain; charset=utf-8")
	rw.WriteHeader(http.StatusNotImplemented)
	fmt.Fprint(rw, "not implemented\n")
}

// handleStatic stubs the static file server, explicitly out of scope
// per §1's Non-goals.
func handleStatic(rw http.ResponseWriter, r *http.Request) {
	http.NotFound(rw, r)
}
