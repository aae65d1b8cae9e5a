// Client polls the off-chain attestation service that witnesses burns on
// the source chain. The service is trusted for content but not for
// liveness: a burn message may take arbitrarily long to be attested, so
// polling is unbounded unless the caller supplies a deadline.

package attestation

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/sethvargo/go-retry"
	logger "github.com/sirupsen/logrus"

	"github.com/aibkh/dca-bridge-go/common"
)

const (
	DefaultPollInterval = 5 * time.Second
	StatusComplete      = "complete"
)

var (
	ErrAttestationTimeout = errors.New("attestation polling deadline exceeded")
	ErrMalformedResponse  = errors.New("attestation response shape is invalid")
)

// Proof is the (message, attestation) pair the destination chain needs to
// mint. Both are opaque byte strings to this client; only the destination
// contract validates them.
type Proof struct {
	Message     []byte
	Attestation []byte
	EventNonce  ethcommon.Hash
}

type Config struct {
	BaseURL      string
	PollInterval time.Duration
	HTTPTimeout  time.Duration
}

type Client struct {
	baseURL      string
	pollInterval time.Duration
	httpClient   *http.Client
}

func NewClient(cfg *Config) *Client {
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	httpTimeout := cfg.HTTPTimeout
	if httpTimeout <= 0 {
		httpTimeout = 30 * time.Second
	}
	return &Client{
		baseURL:      cfg.BaseURL,
		pollInterval: interval,
		httpClient:   &http.Client{Timeout: httpTimeout},
	}
}

// wire shape of GET {base}/v2/messages/{domain}?transactionHash={hash}
type messagesResponse struct {
	Messages []messageEntry `json:"messages"`
}

type messageEntry struct {
	Status      string `json:"status"`
	Message     string `json:"message"`
	Attestation string `json:"attestation"`
	EventNonce  string `json:"eventNonce"`
}

// Poll blocks until the attestation for burnTxHash is complete or ctx is
// done. Network errors and "not yet available" are both just "retry later";
// only a malformed 200 body fails immediately, since retrying a structurally
// broken endpoint would loop forever for nothing.
func (c *Client) Poll(ctx context.Context, sourceDomain uint32, burnTxHash ethcommon.Hash) (*Proof, error) {
	newLogger := logger.WithFields(logger.Fields{
		"burnTx": common.Shorten(burnTxHash.String(), 10),
		"domain": sourceDomain,
	})

	var proof *Proof
	backoff := retry.NewConstant(c.pollInterval)

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		p, err := c.fetch(ctx, sourceDomain, burnTxHash)
		if err != nil {
			if errors.Is(err, ErrMalformedResponse) {
				return err // structural, do not retry
			}
			newLogger.Debugf("attestation not ready: %v", err)
			return retry.RetryableError(err)
		}
		proof = p
		return nil
	})
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			// keep the deadline visible to errors.Is: callers treat it as
			// cancellation, not failure
			return nil, fmt.Errorf("%w: %w", ErrAttestationTimeout, ctx.Err())
		}
		return nil, err
	}

	newLogger.Debug("attestation complete")
	return proof, nil
}

// fetch performs a single query. A non-complete status or a missing message
// comes back as a plain error so Poll keeps going.
func (c *Client) fetch(ctx context.Context, sourceDomain uint32, burnTxHash ethcommon.Hash) (*Proof, error) {
	url := fmt.Sprintf("%s/v2/messages/%d?transactionHash=%s",
		c.baseURL, sourceDomain, burnTxHash.String())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	// the service answers 404 until it has seen the burn
	if resp.StatusCode == http.StatusNotFound {
		return nil, errors.New("message not found yet")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var body messagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if len(body.Messages) == 0 {
		return nil, errors.New("no messages yet")
	}

	entry := body.Messages[0]
	if entry.Status != StatusComplete {
		return nil, fmt.Errorf("status %q", entry.Status)
	}
	if entry.Message == "" || entry.Attestation == "" {
		return nil, fmt.Errorf("%w: complete status with empty payload", ErrMalformedResponse)
	}

	message, err := hex.DecodeString(common.Trim0xPrefix(entry.Message))
	if err != nil {
		return nil, fmt.Errorf("%w: message is not hex", ErrMalformedResponse)
	}
	attestationBytes, err := hex.DecodeString(common.Trim0xPrefix(entry.Attestation))
	if err != nil {
		return nil, fmt.Errorf("%w: attestation is not hex", ErrMalformedResponse)
	}

	proof := &Proof{
		Message:     message,
		Attestation: attestationBytes,
	}
	if entry.EventNonce != "" {
		proof.EventNonce = common.HexStrToHash(entry.EventNonce)
	}
	return proof, nil
}
