package pricefeed

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/aibkh/dca-bridge-go/common"
)

const (
	DefaultHermesURL = "https://hermes.pyth.network/v2/updates/price/latest"

	// Pyth price feed id for BTC/USD.
	BtcUsdPriceId = "e62df6c8b4a85fe1a67db44dc12de5db330f7ac66b72dc658afedf0f4a415b43"
)

// PythFetcher pulls signed price update data from Hermes. The payload is not
// a price observation for consensus; it is the opaque bytes[] the DCA
// controller needs for its own on-chain price refresh.
type PythFetcher struct {
	hermesURL string
	priceIds  []string
	client    *http.Client
}

func NewPythFetcher(hermesURL string, priceIds ...string) *PythFetcher {
	if hermesURL == "" {
		hermesURL = DefaultHermesURL
	}
	if len(priceIds) == 0 {
		priceIds = []string{BtcUsdPriceId}
	}
	return &PythFetcher{
		hermesURL: hermesURL,
		priceIds:  priceIds,
		client:    &http.Client{Timeout: restTimeout},
	}
}

// FetchUpdateData returns the hex-decoded update payloads from Hermes,
// ready to pass to updatePriceAndMaybeInvest.
func (f *PythFetcher) FetchUpdateData(ctx context.Context) ([][]byte, error) {
	u, err := url.Parse(f.hermesURL)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	for _, id := range f.priceIds {
		q.Add("ids[]", id)
	}
	q.Set("encoding", "hex")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("hermes request failed: %d %s", resp.StatusCode, string(body))
	}

	var payload struct {
		Binary struct {
			Data []string `json:"data"`
		} `json:"binary"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, err
	}
	if len(payload.Binary.Data) == 0 {
		return nil, fmt.Errorf("hermes reply missing binary.data")
	}

	out := make([][]byte, 0, len(payload.Binary.Data))
	for _, hexStr := range payload.Binary.Data {
		raw, err := hex.DecodeString(common.Trim0xPrefix(hexStr))
		if err != nil {
			return nil, fmt.Errorf("hermes update data is not hex: %w", err)
		}
		out = append(out, raw)
	}
	return out, nil
}
