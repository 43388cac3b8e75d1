package status

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yanun0323/errors"

	"hft/internal/core"
	"hft/internal/og"
	"hft/internal/schema"
	"hft/internal/state"
	"hft/pkg/exception"
	"hft/pkg/uds"
)

type fakeEngine struct {
	mu       sync.Mutex
	commands []core.Command
	status   core.Status
	snapshot state.Snapshot
	err      error
	block    bool
}

func (f *fakeEngine) Control(ctx context.Context, cmd core.Command) (core.Reply, error) {
	f.mu.Lock()
	f.commands = append(f.commands, cmd)
	block, err := f.block, f.err
	f.mu.Unlock()
	if block {
		<-ctx.Done()
		return core.Reply{}, ctx.Err()
	}
	switch cmd.Kind {
	case core.CommandStatus:
		st := f.status
		return core.Reply{Status: &st}, nil
	case core.CommandCheckpoint:
		snap := f.snapshot
		return core.Reply{Snapshot: &snap}, nil
	case core.CommandCancelAll:
		return core.Reply{Canceled: 2}, nil
	}
	return core.Reply{Err: err}, nil
}

func (f *fakeEngine) last() core.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.commands[len(f.commands)-1]
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func testStatus() core.Status {
	return core.Status{
		RunID:      "run-1",
		KillSwitch: false,
		OpenOrders: []og.Order{{ID: 7, State: schema.OrderStateSubmitted}},
		Positions:  []state.Position{{SymbolID: 1, Qty: 3, Cost: 300_000_000}},
		PnL:        core.PnL{Realized: 5, Total: 5},
	}
}

func TestStatusEndpoints(t *testing.T) {
	eng := &fakeEngine{status: testStatus()}
	h := NewServer(eng, zerolog.Nop()).Handler()

	rec := do(t, h, http.MethodGet, "/api/v1/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var st core.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, "run-1", st.RunID)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	rec = do(t, h, http.MethodGet, "/api/v1/positions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var pos PositionsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pos))
	require.Len(t, pos.Positions, 1)
	assert.Equal(t, schema.Quantity(3), pos.Positions[0].Qty)
	assert.Equal(t, schema.Notional(5), pos.PnL.Realized)

	rec = do(t, h, http.MethodGet, "/api/v1/orders", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var orders []og.Order
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &orders))
	require.Len(t, orders, 1)
	if orders[0].ID != 7 {
		t.Fatalf("order id mismatch: got %d want %d", orders[0].ID, 7)
	}

	rec = do(t, h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestEmptyOrdersIsArray(t *testing.T) {
	h := NewServer(&fakeEngine{}, zerolog.Nop()).Handler()
	rec := do(t, h, http.MethodGet, "/api/v1/orders", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestStrategyCommands(t *testing.T) {
	tests := []struct {
		path   string
		code   int
		kind   core.CommandKind
		id     uint32
		reason string
	}{
		{"/api/v1/strategies/3/enable", http.StatusOK, core.CommandEnableStrategy, 3, ""},
		{"/api/v1/strategies/4/disable?reason=drift", http.StatusOK, core.CommandDisableStrategy, 4, "drift"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			eng := &fakeEngine{}
			rec := do(t, NewServer(eng, zerolog.Nop()).Handler(), http.MethodPost, tt.path, "")
			require.Equal(t, tt.code, rec.Code)
			cmd := eng.last()
			assert.Equal(t, tt.kind, cmd.Kind)
			assert.Equal(t, tt.id, cmd.StrategyID)
			assert.Equal(t, tt.reason, cmd.Reason)
		})
	}

	h := NewServer(&fakeEngine{}, zerolog.Nop()).Handler()
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodPost, "/api/v1/strategies/x/enable", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/api/v1/strategies/0/enable", "").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, do(t, h, http.MethodGet, "/api/v1/strategies/1/enable", "").Code)
}

func TestMethodNotAllowed(t *testing.T) {
	h := NewServer(&fakeEngine{}, zerolog.Nop()).Handler()
	tests := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/v1/strategies/1/enable"},
		{http.MethodGet, "/api/v1/killswitch"},
		{http.MethodPost, "/api/v1/status"},
		{http.MethodPost, "/health"},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := do(t, h, tt.method, tt.path, "")
			require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, "method not allowed", resp.Error)
		})
	}
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/api/v1/nope", "").Code)
}

func TestKillSwitch(t *testing.T) {
	eng := &fakeEngine{}
	h := NewServer(eng, zerolog.Nop()).Handler()

	rec := do(t, h, http.MethodPost, "/api/v1/killswitch", `{"on":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	cmd := eng.last()
	assert.Equal(t, core.CommandKillSwitch, cmd.Kind)
	assert.True(t, cmd.On)

	for _, body := range []string{``, `{}`, `{"on":"yes"}`} {
		rec := do(t, h, http.MethodPost, "/api/v1/killswitch", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "body %q", body)
	}
}

func TestControlErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"unknown strategy", errors.Wrapf(exception.ErrInvalidArgument, "strategy %d not found", 9), http.StatusNotFound},
		{"engine stopped", errors.Wrap(exception.ErrInternal, "engine stopped"), http.StatusServiceUnavailable},
		{"bad limits", errors.Wrap(exception.ErrConfigInvalidValue, "negative"), http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := &fakeEngine{err: tt.err}
			rec := do(t, NewServer(eng, zerolog.Nop()).Handler(), http.MethodPost, "/api/v1/strategies/9/enable", "")
			require.Equal(t, tt.code, rec.Code)
			var body ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Contains(t, body.Message, tt.err.Error())
		})
	}
}

func TestControlTimeout(t *testing.T) {
	eng := &fakeEngine{block: true}
	h := NewServer(eng, zerolog.Nop(), WithTimeout(10*time.Millisecond)).Handler()
	rec := do(t, h, http.MethodGet, "/api/v1/status", "")
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
}

func TestCheckpointAndCancelAll(t *testing.T) {
	eng := &fakeEngine{snapshot: state.Snapshot{LastSeq: 42}}
	var saved []uint64
	h := NewServer(eng, zerolog.Nop(), WithCheckpoint(func(s state.Snapshot) error {
		saved = append(saved, s.LastSeq)
		return nil
	})).Handler()

	rec := do(t, h, http.MethodPost, "/api/v1/checkpoint", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []uint64{42}, saved)

	rec = do(t, h, http.MethodPost, "/api/v1/orders/cancel-all", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"canceled":2}`, rec.Body.String())

	failing := NewServer(eng, zerolog.Nop(), WithCheckpoint(func(state.Snapshot) error {
		return errors.Wrap(exception.ErrStoreUnavailable, "disk full")
	})).Handler()
	rec = do(t, failing, http.MethodPost, "/api/v1/checkpoint", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServeUnixSocket(t *testing.T) {
	eng := &fakeEngine{status: testStatus()}
	srv := NewServer(eng, zerolog.Nop())
	path := filepath.Join(t.TempDir(), "status.sock")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.ListenAndServe(ctx, "unix:"+path) }()

	client := &http.Client{Transport: &http.Transport{DialContext: uds.Dialer(path)}}
	require.Eventually(t, func() bool {
		resp, err := client.Get("http://hft/health")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	resp, err := client.Get("http://hft/api/v1/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	var got core.Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, "run-1", got.RunID)

	cancel()
	require.NoError(t, <-done)
}
