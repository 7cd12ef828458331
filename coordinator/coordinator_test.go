package coordinator

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/meridian-bft/meridian/logging"
)

func newTestCoordinator(totalNodes uint64) *Coordinator {
	return New(NetworkConfig{
		TotalNodes: totalNodes,
		Seed:       7,
		TimeoutMS:  2000,
	}, logging.NewNop())
}

func postIdentity(t *testing.T, handler http.Handler) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/identity", nil))
	return rec
}

func prefixedKey(key []byte) []byte {
	body := make([]byte, 8+len(key))
	binary.BigEndian.PutUint64(body, uint64(len(key)))
	copy(body[8:], key)
	return body
}

func TestIdentityAssignsMonotonicIndices(t *testing.T) {
	handler := newTestCoordinator(2).Handler()

	for want := 0; want < 2; want++ {
		rec := postIdentity(t, handler)
		if rec.Code != http.StatusOK {
			t.Fatalf("identity request %d answered %d", want, rec.Code)
		}
		var index uint64
		if err := json.NewDecoder(rec.Body).Decode(&index); err != nil {
			t.Fatalf("failed to decode index: %v", err)
		}
		if index != uint64(want) {
			t.Errorf("index = %d, want %d", index, want)
		}
	}

	// The third identity request exceeds capacity.
	rec := postIdentity(t, handler)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("over-capacity identity answered %d, want 400", rec.Code)
	}
}

func TestPubKeyRegistrationFlow(t *testing.T) {
	handler := newTestCoordinator(2).Handler()
	postIdentity(t, handler)
	postIdentity(t, handler)

	// Not ready until everyone registered.
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/peer_pubconfig_ready", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("peer_pubconfig_ready answered %d before registration, want 400", rec.Code)
	}

	for i := 0; i < 2; i++ {
		body := prefixedKey([]byte{0xab, byte(i)})
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, fmt.Sprintf("/pubkey/%d", i), bytes.NewReader(body)))
		if rec.Code != http.StatusOK {
			t.Fatalf("pubkey registration %d answered %d: %s", i, rec.Code, rec.Body)
		}
	}

	// Duplicate registration is rejected.
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/pubkey/0", bytes.NewReader(prefixedKey([]byte{0xab}))))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("duplicate pubkey registration answered %d, want 400", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/config_after_peer_collected", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("config_after_peer_collected answered %d", rec.Code)
	}
	var config NetworkConfig
	if err := json.NewDecoder(rec.Body).Decode(&config); err != nil {
		t.Fatalf("failed to decode config: %v", err)
	}
	if len(config.StakeTable) != 2 {
		t.Fatalf("stake table has %d entries, want 2", len(config.StakeTable))
	}
	for i, entry := range config.StakeTable {
		if entry.Stake != 1 {
			t.Errorf("entry %d stake = %d, want 1", i, entry.Stake)
		}
		if !bytes.Equal(entry.PubKey, []byte{0xab, byte(i)}) {
			t.Errorf("entry %d key does not round-trip", i)
		}
	}
}

func TestPubKeyPrefixValidation(t *testing.T) {
	handler := newTestCoordinator(2).Handler()
	postIdentity(t, handler)

	// Prefix length disagrees with the body.
	body := prefixedKey([]byte{0x01, 0x02})
	binary.BigEndian.PutUint64(body, 99)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/pubkey/0", bytes.NewReader(body)))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("mismatched prefix answered %d, want 400", rec.Code)
	}

	// Body shorter than the prefix itself.
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/pubkey/0", bytes.NewReader([]byte{1, 2, 3})))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("truncated body answered %d, want 400", rec.Code)
	}
}

func TestStartAfterAllReady(t *testing.T) {
	handler := newTestCoordinator(2).Handler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/start", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("start answered %d before anyone is ready, want 400", rec.Code)
	}

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/ready", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("ready %d answered %d", i, rec.Code)
		}
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/start", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("start answered %d after all ready, want 200", rec.Code)
	}
}

func TestResultsAreRetained(t *testing.T) {
	c := newTestCoordinator(2)
	handler := c.Handler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/results",
		bytes.NewReader([]byte(`{"decided":12}`))))
	if rec.Code != http.StatusOK {
		t.Fatalf("results answered %d", rec.Code)
	}
	if got := len(c.Results()); got != 1 {
		t.Errorf("retained %d results, want 1", got)
	}
}
