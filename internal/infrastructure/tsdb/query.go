package tsdb

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Sample is one instant-vector element.
type Sample struct {
	Value float64
	Time  time.Time
}

// QueryInstant executes a PromQL instant query and returns the raw
// Prometheus API response.
func (c *Client) QueryInstant(ctx context.Context, query string) (json.RawMessage, error) {
	if !c.IsConnected() {
		return nil, ErrNotConnected
	}
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: query is required", ErrQueryFailed)
	}
	return c.doQuery(ctx, "/api/v1/query", url.Values{"query": {query}})
}

// LatestByLabel returns the newest sample of metric for each value of label
// in values, looking back at most lookback.
func (c *Client) LatestByLabel(ctx context.Context, metric, label string, values []string, lookback time.Duration) (map[string]Sample, error) {
	if len(values) == 0 {
		return map[string]Sample{}, nil
	}
	raw, err := c.QueryInstant(ctx, buildLatestQuery(metric, label, values, lookback))
	if err != nil {
		return nil, err
	}
	return parseVector(raw, label)
}

// buildLatestQuery renders last_over_time(metric{label=~"a|b"}[Ns]).
func buildLatestQuery(metric, label string, values []string, lookback time.Duration) string {
	if lookback <= 0 {
		lookback = 15 * time.Minute
	}
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = regexp.QuoteMeta(v)
	}
	matcher := strconv.Quote(strings.Join(quoted, "|"))
	return fmt.Sprintf("last_over_time(%s{%s=~%s}[%ds])", metric, label, matcher, int64(lookback/time.Second))
}

type vectorResponse struct {
	Status string `json:"status"`
	Error  string `json:"error"`
	Data   struct {
		ResultType string `json:"resultType"`
		Result     []struct {
			Metric map[string]string `json:"metric"`
			Value  [2]any            `json:"value"`
		} `json:"result"`
	} `json:"data"`
}

// parseVector extracts label -> sample from an instant-vector response.
func parseVector(raw json.RawMessage, label string) (map[string]Sample, error) {
	var resp vectorResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %w", ErrQueryFailed, err)
	}
	if resp.Status != "success" {
		return nil, fmt.Errorf("%w: %s", ErrQueryFailed, resp.Error)
	}

	out := make(map[string]Sample, len(resp.Data.Result))
	for _, r := range resp.Data.Result {
		key, ok := r.Metric[label]
		if !ok {
			continue
		}
		ts, ok := r.Value[0].(float64)
		if !ok {
			continue
		}
		s, ok := r.Value[1].(string)
		if !ok {
			continue
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			continue
		}
		sec := int64(ts)
		nsec := int64((ts - float64(sec)) * float64(time.Second))
		out[key] = Sample{Value: v, Time: time.Unix(sec, nsec).UTC()}
	}
	return out, nil
}

func (c *Client) doQuery(ctx context.Context, path string, params url.Values) (json.RawMessage, error) {
	endpoint := c.url + path + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQueryFailed, err)
	}
	defer resp.Body.Close()

	const maxResponseSize = 10 << 20
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: HTTP %d", ErrQueryFailed, resp.StatusCode)
	}
	return json.RawMessage(body), nil
}
