package chain

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stealthdca/internal/config"
)

func rpcServer(t *testing.T, handle func(method string) any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     any    `json:"id"`
			Method string `json:"method"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		out := map[string]any{"jsonrpc": "2.0", "id": req.ID}
		switch v := handle(req.Method).(type) {
		case rpcErr:
			out["error"] = map[string]any{"code": v.code, "message": v.message}
		default:
			out["result"] = v
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(out)
	}))
}

type rpcErr struct {
	code    int
	message string
}

func TestTokenBalanceMissingAccountIsZero(t *testing.T) {
	srv := rpcServer(t, func(string) any {
		return rpcErr{code: -32602, message: "Invalid param: could not find account"}
	})
	defer srv.Close()

	c := NewRPC(config.RPCConfig{Endpoint: srv.URL}, nil)
	owner, _ := solana.NewRandomPrivateKey()
	bal, err := c.TokenBalance(context.Background(), owner.PublicKey(), solana.SolMint)
	require.NoError(t, err)
	assert.Zero(t, bal)
}

func TestTokenBalanceParsesAmount(t *testing.T) {
	srv := rpcServer(t, func(string) any {
		return map[string]any{
			"context": map[string]any{"slot": 1},
			"value":   map[string]any{"amount": "1234500", "decimals": 6, "uiAmountString": "1.2345"},
		}
	})
	defer srv.Close()

	c := NewRPC(config.RPCConfig{Endpoint: srv.URL}, nil)
	owner, _ := solana.NewRandomPrivateKey()
	bal, err := c.TokenBalance(context.Background(), owner.PublicKey(), solana.SolMint)
	require.NoError(t, err)
	assert.Equal(t, uint64(1234500), bal)
}

func TestNativeBalance(t *testing.T) {
	srv := rpcServer(t, func(method string) any {
		assert.Equal(t, "getBalance", method)
		return map[string]any{"context": map[string]any{"slot": 1}, "value": 42}
	})
	defer srv.Close()

	c := NewRPC(config.RPCConfig{Endpoint: srv.URL}, nil)
	owner, _ := solana.NewRandomPrivateKey()
	bal, err := c.NativeBalance(context.Background(), owner.PublicKey())
	require.NoError(t, err)
	assert.Equal(t, uint64(42), bal)
}
