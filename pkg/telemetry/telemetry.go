// Package telemetry reads hacpd's own metrics back from Prometheus to
// summarize routing behavior per tier.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/hacp-router/pkg/hacp"
)

type Collector struct {
	prometheusURL string
	client        *http.Client
}

type prometheusResponse struct {
	Status string `json:"status"`
	Data   struct {
		ResultType string `json:"resultType"`
		Result     []struct {
			Metric map[string]string `json:"metric"`
			Value  []any             `json:"value"`
		} `json:"result"`
	} `json:"data"`
}

// TierStats holds rates over the query window, per second.
type TierStats struct {
	Tier           hacp.Level `json:"tier"`
	AnalysisRate   float64    `json:"analysis_rate"`
	EscalationRate float64    `json:"escalation_rate"`
	// EscalationShare is escalations/analyses, 0 when there was no traffic.
	EscalationShare float64 `json:"escalation_share"`
}

func NewCollector(prometheusURL string) *Collector {
	if prometheusURL == "" {
		prometheusURL = "http://prometheus:9090"
	}
	return &Collector{
		prometheusURL: prometheusURL,
		client:        &http.Client{Timeout: 5 * time.Second},
	}
}

// Collect queries per-tier rates over window. Tiers with no samples report zero.
func (c *Collector) Collect(ctx context.Context, window time.Duration) ([]TierStats, error) {
	rng := promDuration(window)
	analyses, err := c.queryByTier(ctx, fmt.Sprintf(`sum by (tier) (rate(hacp_analyses_total[%s]))`, rng))
	if err != nil {
		return nil, fmt.Errorf("query analyses: %w", err)
	}
	escalations, err := c.queryByTier(ctx, fmt.Sprintf(`sum by (tier) (rate(hacp_escalations_total[%s]))`, rng))
	if err != nil {
		return nil, fmt.Errorf("query escalations: %w", err)
	}

	out := make([]TierStats, 0, 4)
	for _, tier := range hacp.Tiers() {
		s := TierStats{
			Tier:           tier.Level,
			AnalysisRate:   analyses[tier.Level],
			EscalationRate: escalations[tier.Level],
		}
		if s.AnalysisRate > 0 {
			s.EscalationShare = math.Min(s.EscalationRate/s.AnalysisRate, 1)
		}
		out = append(out, s)
	}
	return out, nil
}

func promDuration(d time.Duration) string {
	if d < time.Minute {
		d = time.Minute
	}
	return strconv.Itoa(int(d.Seconds())) + "s"
}

func (c *Collector) queryByTier(ctx context.Context, query string) (map[hacp.Level]float64, error) {
	result, err := c.query(ctx, query)
	if err != nil {
		return nil, err
	}

	out := make(map[hacp.Level]float64)
	for _, r := range result.Data.Result {
		level, err := hacp.ParseLevel(r.Metric["tier"])
		if err != nil {
			continue
		}
		if len(r.Value) != 2 {
			return nil, fmt.Errorf("malformed sample for tier %s", level)
		}
		s, ok := r.Value[1].(string)
		if !ok {
			return nil, fmt.Errorf("invalid value type %T", r.Value[1])
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, err
		}
		if math.IsNaN(v) {
			continue
		}
		out[level] = v
	}
	return out, nil
}

func (c *Collector) query(ctx context.Context, query string) (*prometheusResponse, error) {
	u := c.prometheusURL + "/api/v1/query?query=" + url.QueryEscape(query)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("prometheus query failed: %s", string(body))
	}

	var result prometheusResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	if result.Status != "success" {
		return nil, fmt.Errorf("prometheus status %q", result.Status)
	}
	return &result, nil
}
