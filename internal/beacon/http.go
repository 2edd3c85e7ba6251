package beacon

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultBTCBaseURL is an Esplora-compatible block explorer API.
	DefaultBTCBaseURL = "https://blockstream.info/api"

	// DefaultNISTBaseURL is the NIST randomness beacon v2 API.
	DefaultNISTBaseURL = "https://beacon.nist.gov/beacon/2.0"

	// DefaultFetchTimeout bounds a single upstream request.
	DefaultFetchTimeout = 10 * time.Second

	btcEpochLength  = 10 * time.Minute
	nistEpochLength = 60 * time.Second

	// maxBodySize caps upstream response bodies.
	maxBodySize = 1 << 20
)

// BTCFetcher reads the height and hash of the most recent confirmed Bitcoin
// block from an Esplora-compatible API.
type BTCFetcher struct {
	BaseURL string
	Client  *http.Client
	Now     func() time.Time
}

// Kind returns KindBTC.
func (f *BTCFetcher) Kind() Kind {
	return KindBTC
}

// Fetch returns the current block-hash beacon value. The epoch identifier
// is the block height in decimal.
func (f *BTCFetcher) Fetch(ctx context.Context) (*Value, error) {
	heightText, err := f.get(ctx, "/blocks/tip/height")
	if err != nil {
		return nil, err
	}
	height, err := strconv.ParseUint(strings.TrimSpace(heightText), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("btc beacon: bad tip height %q: %w", heightText, err)
	}

	hashText, err := f.get(ctx, "/blocks/tip/hash")
	if err != nil {
		return nil, err
	}
	hash, err := hex.DecodeString(strings.TrimSpace(hashText))
	if err != nil || len(hash) != 32 {
		return nil, fmt.Errorf("btc beacon: bad tip hash %q", strings.TrimSpace(hashText))
	}

	now := nowOr(f.Now)
	return &Value{
		Kind:      KindBTC,
		EpochID:   strconv.FormatUint(height, 10),
		Bytes:     hash,
		ValidFrom: now,
		ExpiresAt: now.Add(btcEpochLength),
		Grace:     KindBTC.GracePeriod(),
	}, nil
}

func (f *BTCFetcher) get(ctx context.Context, path string) (string, error) {
	base := f.BaseURL
	if base == "" {
		base = DefaultBTCBaseURL
	}
	body, err := httpGet(ctx, clientOr(f.Client), base+path)
	if err != nil {
		return "", fmt.Errorf("btc beacon: %w", err)
	}
	return string(body), nil
}

// NISTFetcher reads the latest pulse from the NIST randomness beacon.
type NISTFetcher struct {
	BaseURL string
	Client  *http.Client
	Now     func() time.Time
}

// Kind returns KindNIST.
func (f *NISTFetcher) Kind() Kind {
	return KindNIST
}

type nistPulse struct {
	Pulse struct {
		PulseIndex  json.Number `json:"pulseIndex"`
		OutputValue string      `json:"outputValue"`
		TimeStamp   string      `json:"timeStamp"`
	} `json:"pulse"`
}

// Fetch returns the current pulse beacon value. The epoch identifier is
// the pulse index in decimal.
func (f *NISTFetcher) Fetch(ctx context.Context) (*Value, error) {
	base := f.BaseURL
	if base == "" {
		base = DefaultNISTBaseURL
	}
	body, err := httpGet(ctx, clientOr(f.Client), base+"/pulse/last")
	if err != nil {
		return nil, fmt.Errorf("nist beacon: %w", err)
	}

	var pulse nistPulse
	if err := json.Unmarshal(body, &pulse); err != nil {
		return nil, fmt.Errorf("nist beacon: bad pulse document: %w", err)
	}
	output, err := hex.DecodeString(pulse.Pulse.OutputValue)
	if err != nil || len(output) == 0 {
		return nil, fmt.Errorf("nist beacon: bad output value")
	}

	validFrom := nowOr(f.Now)
	if ts, err := time.Parse(time.RFC3339, pulse.Pulse.TimeStamp); err == nil {
		validFrom = ts
	}

	return &Value{
		Kind:      KindNIST,
		EpochID:   pulse.Pulse.PulseIndex.String(),
		Bytes:     output,
		ValidFrom: validFrom,
		ExpiresAt: validFrom.Add(nistEpochLength),
		Grace:     KindNIST.GracePeriod(),
	}, nil
}

func httpGet(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s from %s", resp.Status, url)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
}

func clientOr(c *http.Client) *http.Client {
	if c != nil {
		return c
	}
	return &http.Client{Timeout: DefaultFetchTimeout}
}

func nowOr(f func() time.Time) time.Time {
	if f != nil {
		return f()
	}
	return time.Now()
}
