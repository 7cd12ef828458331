// Package coordinator implements the run-coordinator service that distributes
// the initial network configuration and synchronizes peer startup. Nodes
// request an index, fetch the shared configuration, register their public
// keys, and wait for the whole committee to report ready before starting.
package coordinator

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/meridian-bft/meridian/logging"
)

// StakeEntry is one registered stake-table row.
type StakeEntry struct {
	NodeIndex uint64 `json:"node_index"`
	PubKey    []byte `json:"pub_key"`
	Stake     uint64 `json:"stake"`
}

// NetworkConfig is the configuration the coordinator hands to every node.
type NetworkConfig struct {
	TotalNodes uint64       `json:"total_nodes"`
	Seed       uint64       `json:"seed"`
	TimeoutMS  uint64       `json:"timeout_ms"`
	StakeTable []StakeEntry `json:"stake_table"`
}

// Coordinator serves the bootstrap HTTP surface. All error responses are
// 400 Bad Request with a descriptive message.
type Coordinator struct {
	logger logging.Logger

	mu             sync.Mutex
	config         NetworkConfig
	latestIndex    uint64
	nodesWithKey   uint64
	peerPubReady   bool
	pubPosted      map[uint64]bool
	start          bool
	nodesConnected uint64
	results        []json.RawMessage
}

// New returns a coordinator for the given base configuration. The stake table
// is sized to the configured node count and filled in as keys register.
func New(config NetworkConfig, logger logging.Logger) *Coordinator {
	if logger == nil {
		logger = logging.New("coordinator")
	}
	if uint64(len(config.StakeTable)) < config.TotalNodes {
		table := make([]StakeEntry, config.TotalNodes)
		copy(table, config.StakeTable)
		config.StakeTable = table
	}
	return &Coordinator{
		logger:    logger,
		config:    config,
		pubPosted: make(map[uint64]bool),
	}
}

// Handler returns the HTTP handler serving the coordinator API.
func (c *Coordinator) Handler() http.Handler {
	router := mux.NewRouter()
	router.HandleFunc("/identity", c.handlePostIdentity).Methods("POST")
	router.HandleFunc("/config/{node_index}", c.handlePostConfig).Methods("POST")
	router.HandleFunc("/pubkey/{node_index}", c.handlePostPubKey).Methods("POST")
	router.HandleFunc("/peer_pubconfig_ready", c.handlePeerPubReady).Methods("GET")
	router.HandleFunc("/config_after_peer_collected", c.handleConfigAfterPeerCollected).Methods("GET")
	router.HandleFunc("/ready", c.handlePostReady).Methods("POST")
	router.HandleFunc("/start", c.handleGetStart).Methods("GET")
	router.HandleFunc("/results", c.handlePostResults).Methods("POST")
	return cors.AllowAll().Handler(router)
}

// ListenAndServe serves the coordinator API on addr until the server fails.
func (c *Coordinator) ListenAndServe(addr string) error {
	c.logger.Infof("coordinator listening on %s", addr)
	return http.ListenAndServe(addr, c.Handler())
}

func (c *Coordinator) handlePostIdentity(w http.ResponseWriter, _ *http.Request) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.latestIndex >= c.config.TotalNodes {
		badRequest(w, "network has reached capacity")
		return
	}
	index := c.latestIndex
	c.latestIndex++
	c.logger.Infof("assigned node index %d", index)
	writeJSON(w, index)
}

func (c *Coordinator) handlePostConfig(w http.ResponseWriter, r *http.Request) {
	if _, ok := nodeIndex(w, r); !ok {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	writeJSON(w, c.config)
}

// handlePostPubKey registers a stake-table entry. The body is the raw key
// bytes behind an 8-byte big-endian length prefix; a prefix that does not
// match the remainder is rejected.
func (c *Coordinator) handlePostPubKey(w http.ResponseWriter, r *http.Request) {
	index, ok := nodeIndex(w, r)
	if !ok {
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		badRequest(w, "could not read public key body")
		return
	}
	if len(body) < 8 {
		badRequest(w, "public key body is missing its length prefix")
		return
	}
	keyLen := binary.BigEndian.Uint64(body[:8])
	key := body[8:]
	if uint64(len(key)) != keyLen {
		badRequest(w, fmt.Sprintf("public key length prefix %d does not match body length %d", keyLen, len(key)))
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if index >= c.config.TotalNodes {
		badRequest(w, "node index out of range")
		return
	}
	if c.pubPosted[index] {
		badRequest(w, "node has already posted public key")
		return
	}
	c.pubPosted[index] = true
	c.config.StakeTable[index] = StakeEntry{NodeIndex: index, PubKey: key, Stake: 1}
	c.nodesWithKey++
	c.logger.Infof("node %d posted public key, %d total registered", index, c.nodesWithKey)
	if c.nodesWithKey >= c.config.TotalNodes {
		c.peerPubReady = true
	}
	w.WriteHeader(http.StatusOK)
}

func (c *Coordinator) handlePeerPubReady(w http.ResponseWriter, _ *http.Request) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.peerPubReady {
		badRequest(w, "peer public configurations are not ready")
		return
	}
	writeJSON(w, true)
}

func (c *Coordinator) handleConfigAfterPeerCollected(w http.ResponseWriter, _ *http.Request) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.peerPubReady {
		badRequest(w, "peer public configurations are not ready")
		return
	}
	writeJSON(w, c.config)
}

func (c *Coordinator) handlePostReady(w http.ResponseWriter, _ *http.Request) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nodesConnected++
	c.logger.Infof("nodes connected: %d", c.nodesConnected)
	if c.nodesConnected >= c.config.TotalNodes {
		c.start = true
	}
	w.WriteHeader(http.StatusOK)
}

func (c *Coordinator) handleGetStart(w http.ResponseWriter, _ *http.Request) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.start {
		badRequest(w, "network is not ready to start")
		return
	}
	writeJSON(w, true)
}

// handlePostResults accepts run results. They are retained in memory for the
// lifetime of the process; durable persistence is not this service's concern.
func (c *Coordinator) handlePostResults(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		badRequest(w, "could not read results body")
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results = append(c.results, json.RawMessage(body))
	c.logger.Infof("accepted run results (%d bytes)", len(body))
	w.WriteHeader(http.StatusOK)
}

// Results returns the run results accepted so far.
func (c *Coordinator) Results() []json.RawMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]json.RawMessage, len(c.results))
	copy(out, c.results)
	return out
}

func nodeIndex(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	raw := mux.Vars(r)["node_index"]
	index, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		badRequest(w, fmt.Sprintf("node index %q is not a number", raw))
		return 0, false
	}
	return index, true
}

func badRequest(w http.ResponseWriter, message string) {
	http.Error(w, message, http.StatusBadRequest)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// The header is already written; nothing sensible left to do.
		return
	}
}
