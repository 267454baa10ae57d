package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/nuance-network/nuance-validator/internal/models"
	"github.com/sirupsen/logrus"
)

// Client talks to an HTTP chain gateway for one subnet
type Client struct {
	baseURL string
	netuid  int
	client  *resty.Client
}

// Ensure Client implements Ledger
var _ Ledger = (*Client)(nil)

type commitmentsResponse struct {
	Commitments []models.Commitment `json:"commitments"`
}

type weightEntry struct {
	Hotkey string  `json:"hotkey"`
	Weight float64 `json:"weight"`
}

type setWeightsRequest struct {
	Netuid  int           `json:"netuid"`
	Weights []weightEntry `json:"weights"`
}

// NewClient creates a gateway client bound to netuid
func NewClient(baseURL string, netuid int, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		netuid:  netuid,
		client: resty.New().
			SetTimeout(timeout).
			SetHeader("User-Agent", "Nuance-Validator/1.0"),
	}
}

func (c *Client) GetCommitments(ctx context.Context) ([]models.Commitment, error) {
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParam("netuid", fmt.Sprint(c.netuid)).
		Get(c.baseURL + "/commitments")
	if err != nil {
		return nil, fmt.Errorf("%w: fetch commitments: %v", ErrLedger, err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("%w: commitments returned status %d", ErrLedger, resp.StatusCode())
	}

	var result commitmentsResponse
	if err := json.Unmarshal(resp.Body(), &result); err != nil {
		return nil, fmt.Errorf("%w: failed to parse commitments: %v", ErrLedger, err)
	}

	for i := range result.Commitments {
		if result.Commitments[i].Netuid == 0 {
			result.Commitments[i].Netuid = c.netuid
		}
	}

	logrus.Debugf("Fetched %d commitments for netuid %d", len(result.Commitments), c.netuid)
	return result.Commitments, nil
}

func (c *Client) SetWeights(ctx context.Context, weights map[string]float64) error {
	if len(weights) == 0 {
		return fmt.Errorf("%w: refusing to submit an empty weight vector", ErrLedger)
	}

	hotkeys := make([]string, 0, len(weights))
	for hotkey := range weights {
		hotkeys = append(hotkeys, hotkey)
	}
	sort.Strings(hotkeys)

	body := setWeightsRequest{Netuid: c.netuid, Weights: make([]weightEntry, 0, len(hotkeys))}
	for _, hotkey := range hotkeys {
		body.Weights = append(body.Weights, weightEntry{Hotkey: hotkey, Weight: weights[hotkey]})
	}

	resp, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		Post(c.baseURL + "/weights")
	if err != nil {
		return fmt.Errorf("%w: submit weights: %v", ErrLedger, err)
	}
	if resp.StatusCode() != 200 && resp.StatusCode() != 202 {
		return fmt.Errorf("%w: weights returned status %d: %s", ErrLedger, resp.StatusCode(), resp.String())
	}

	logrus.Infof("Submitted weights for %d nodes on netuid %d", len(hotkeys), c.netuid)
	return nil
}
