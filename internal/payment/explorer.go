package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// proxyTransaction is the subset of the explorer proxy API's
// eth_getTransactionByHash result the verifier needs.
type proxyTransaction struct {
	Hash        string `json:"hash"`
	To          string `json:"to"`
	Input       string `json:"input"`
	BlockNumber string `json:"blockNumber"`
}

// lookupTransaction queries one network's explorer for the transaction.
// A nil result with nil error means the transaction is unknown there.
func (v *Verifier) lookupTransaction(ctx context.Context, n Network, txHash string) (*proxyTransaction, error) {
	params := url.Values{}
	params.Set("module", "proxy")
	params.Set("action", "eth_getTransactionByHash")
	params.Set("txhash", txHash)
	params.Set("apikey", n.APIKey)

	var result json.RawMessage
	if err := v.explorerGet(ctx, n, params, &result); err != nil {
		return nil, err
	}
	if len(result) == 0 || string(result) == "null" {
		return nil, nil
	}

	var tx proxyTransaction
	if err := json.Unmarshal(result, &tx); err != nil {
		return nil, fmt.Errorf("parse transaction: %w", err)
	}
	return &tx, nil
}

// lookupBlockTime resolves a block's timestamp via eth_getBlockByNumber.
func (v *Verifier) lookupBlockTime(ctx context.Context, n Network, blockNumberHex string) (time.Time, error) {
	params := url.Values{}
	params.Set("module", "proxy")
	params.Set("action", "eth_getBlockByNumber")
	params.Set("tag", blockNumberHex)
	params.Set("boolean", "true")
	params.Set("apikey", n.APIKey)

	var result struct {
		Timestamp string `json:"timestamp"`
	}
	if err := v.explorerGet(ctx, n, params, &result); err != nil {
		return time.Time{}, err
	}
	if result.Timestamp == "" {
		return time.Time{}, fmt.Errorf("block %s has no timestamp", blockNumberHex)
	}

	secs, err := strconv.ParseInt(strings.TrimPrefix(result.Timestamp, "0x"), 16, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse block timestamp %q: %w", result.Timestamp, err)
	}
	return time.Unix(secs, 0).UTC(), nil
}

// explorerGet performs one explorer API call and unmarshals the "result"
// field into dest.
func (v *Verifier) explorerGet(ctx context.Context, n Network, params url.Values, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.ExplorerURL+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("create explorer request: %w", err)
	}

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("explorer request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("explorer HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read explorer response: %w", err)
	}

	var envelope struct {
		Result json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("parse explorer envelope: %w", err)
	}
	if dest != nil && len(envelope.Result) > 0 {
		if raw, ok := dest.(*json.RawMessage); ok {
			*raw = envelope.Result
			return nil
		}
		if string(envelope.Result) != "null" {
			if err := json.Unmarshal(envelope.Result, dest); err != nil {
				return fmt.Errorf("parse explorer result: %w", err)
			}
		}
	}
	return nil
}
