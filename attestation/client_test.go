package attestation

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"

	"github.com/aibkh/dca-bridge-go/common"
)

const (
	testMessageHex     = "0000000100000006000000020000000000000000000000000000000000000000"
	testAttestationHex = "a1b2c3d4e5f6"
)

func newTestClient(url string) *Client {
	return NewClient(&Config{
		BaseURL:      url,
		PollInterval: 10 * time.Millisecond,
	})
}

func completeBody() string {
	body, _ := json.Marshal(messagesResponse{
		Messages: []messageEntry{{
			Status:      StatusComplete,
			Message:     "0x" + testMessageHex,
			Attestation: "0x" + testAttestationHex,
		}},
	})
	return string(body)
}

func TestPollReturnsCompletedProof(t *testing.T) {
	burnTx := ethcommon.Hash(common.RandBytes32())

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/messages/26", r.URL.Path)
		assert.Equal(t, burnTx.String(), r.URL.Query().Get("transactionHash"))
		fmt.Fprint(w, completeBody())
	}))
	defer srv.Close()

	proof, err := newTestClient(srv.URL).Poll(context.Background(), 26, burnTx)
	assert.NoError(t, err)
	assert.Equal(t, common.HexStrToByteSlice("0x"+testMessageHex), proof.Message)
	assert.Equal(t, common.HexStrToByteSlice("0x"+testAttestationHex), proof.Attestation)
}

func TestPollRetriesUntilComplete(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch calls.Add(1) {
		case 1:
			// the service has not seen the burn yet
			w.WriteHeader(http.StatusNotFound)
		case 2:
			// seen, but attestation still pending
			fmt.Fprint(w, `{"messages":[{"status":"pending_confirmations"}]}`)
		default:
			fmt.Fprint(w, completeBody())
		}
	}))
	defer srv.Close()

	proof, err := newTestClient(srv.URL).Poll(context.Background(), 26, ethcommon.Hash(common.RandBytes32()))
	assert.NoError(t, err)
	assert.NotEmpty(t, proof.Message)
	assert.GreaterOrEqual(t, calls.Load(), int32(3))
}

func TestPollTimesOutWithDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := newTestClient(srv.URL).Poll(ctx, 26, ethcommon.Hash(common.RandBytes32()))
	assert.ErrorIs(t, err, ErrAttestationTimeout)
	// the deadline itself stays matchable, so the orchestrator can tell a
	// bounded attest apart from a hard failure
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPollCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	_, err := newTestClient(srv.URL).Poll(ctx, 26, ethcommon.Hash(common.RandBytes32()))
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrAttestationTimeout)
}

func TestPollMalformedResponseDoesNotRetry(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		// complete status but no payload: structurally broken
		fmt.Fprint(w, `{"messages":[{"status":"complete"}]}`)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Poll(context.Background(), 26, ethcommon.Hash(common.RandBytes32()))
	assert.ErrorIs(t, err, ErrMalformedResponse)
	assert.Equal(t, int32(1), calls.Load())
}

func TestPollNonHexPayloadIsMalformed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"messages":[{"status":"complete","message":"zzzz","attestation":"0xa1"}]}`)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Poll(context.Background(), 26, ethcommon.Hash(common.RandBytes32()))
	assert.ErrorIs(t, err, ErrMalformedResponse)
}
