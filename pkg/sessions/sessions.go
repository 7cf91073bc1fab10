package sessions

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/nicktill/tinygarden/pkg/timeutil"
)

// Usage mirrors a session turn's token accounting.
type Usage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
	CacheCreation            struct {
		Ephemeral5mInputTokens int `json:"ephemeral_5m_input_tokens"`
		Ephemeral1hInputTokens int `json:"ephemeral_1h_input_tokens"`
	} `json:"cache_creation"`
}

// sessionLine is the subset of a session record the aggregator reads.
// Content blocks that are not objects (plain string content) are ignored.
type sessionLine struct {
	Message struct {
		Model   string          `json:"model"`
		Usage   *Usage          `json:"usage"`
		Content json.RawMessage `json:"content"`
	} `json:"message"`
}

type contentBlock struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

// SessionStats aggregates one session file.
type SessionStats struct {
	InputTokens      int            `json:"input_tokens"`
	OutputTokens     int            `json:"output_tokens"`
	CacheReadTokens  int            `json:"cache_read_tokens"`
	CacheWriteTokens int            `json:"cache_write_tokens"`
	CostUSD          float64        `json:"cost_usd"`
	ToolCalls        map[string]int `json:"tool_calls"`
}

// DayStats aggregates all sessions whose files landed on one UTC date.
type DayStats struct {
	Sessions         int            `json:"sessions"`
	InputTokens      int            `json:"input_tokens"`
	OutputTokens     int            `json:"output_tokens"`
	CacheReadTokens  int            `json:"cache_read_tokens"`
	CacheWriteTokens int            `json:"cache_write_tokens"`
	EstimatedCostUSD float64        `json:"estimated_cost_usd"`
	ToolCalls        map[string]int `json:"tool_calls"`
}

// ByDate is the session-cost rollup document, keyed by YYYY-MM-DD.
type ByDate map[string]*DayStats

// ComputeTurnCost prices one turn's usage. Cache writes without an explicit
// ephemeral tier are billed at the 5m rate.
func ComputeTurnCost(u Usage, r Rates) float64 {
	write5m := u.CacheCreation.Ephemeral5mInputTokens
	write1h := u.CacheCreation.Ephemeral1hInputTokens
	writeStandard := u.CacheCreationInputTokens - write5m - write1h
	if writeStandard < 0 {
		writeStandard = 0
	}

	cost := float64(u.InputTokens)*r.Input/1e6 +
		float64(u.OutputTokens)*r.Output/1e6 +
		float64(u.CacheReadInputTokens)*r.CacheRead/1e6 +
		float64(write5m)*r.CacheWrite5m/1e6 +
		float64(write1h)*r.CacheWrite1h/1e6 +
		float64(writeStandard)*r.CacheWrite5m/1e6
	return round6(cost)
}

// ParseSessionStats reads one session's JSONL stream and totals token counts,
// cost, and tool calls. Lines that fail to parse or carry no usage are
// skipped; the model seen first prices the whole session.
func ParseSessionStats(r io.Reader, pricing Pricing) SessionStats {
	stats := SessionStats{ToolCalls: make(map[string]int)}
	model := ""

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4<<20)
	for scanner.Scan() {
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		var line sessionLine
		if err := json.Unmarshal([]byte(raw), &line); err != nil {
			continue
		}
		if line.Message.Usage == nil {
			continue
		}
		u := *line.Message.Usage

		if model == "" {
			model = line.Message.Model
		}
		rates := pricing.Match(model)

		stats.InputTokens += u.InputTokens
		stats.OutputTokens += u.OutputTokens
		stats.CacheReadTokens += u.CacheReadInputTokens
		stats.CacheWriteTokens += u.CacheCreationInputTokens
		stats.CostUSD = round6(stats.CostUSD + ComputeTurnCost(u, rates))

		var blocks []contentBlock
		if err := json.Unmarshal(line.Message.Content, &blocks); err == nil {
			for _, b := range blocks {
				if b.Type == "tool_use" {
					name := b.Name
					if name == "" {
						name = "unknown"
					}
					stats.ToolCalls[name]++
				}
			}
		}
	}

	return stats
}

// Process aggregates every session file in dir whose modification time is
// strictly after the watermark, oldest first, grouped by the file's UTC
// modification date. A missing directory means no session source is
// configured and yields an empty result with the watermark unchanged.
func Process(dir, watermark string, pricing Pricing) (ByDate, string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return ByDate{}, watermark, nil
		}
		return nil, watermark, fmt.Errorf("failed to list sessions dir: %w", err)
	}

	wm, err := timeutil.Parse(watermark)
	if err != nil {
		return nil, watermark, fmt.Errorf("invalid sessions watermark %q: %w", watermark, err)
	}

	type candidate struct {
		path    string
		modTime time.Time
	}
	var files []candidate
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".jsonl") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		mod := info.ModTime().UTC()
		if !mod.After(wm) {
			continue
		}
		files = append(files, candidate{path: filepath.Join(dir, entry.Name()), modTime: mod})
	}
	sort.Slice(files, func(i, j int) bool {
		return files[i].modTime.Before(files[j].modTime)
	})

	byDate := make(ByDate)
	newWatermark := watermark

	for _, f := range files {
		file, err := os.Open(f.path)
		if err != nil {
			return nil, watermark, fmt.Errorf("failed to open session file %s: %w", f.path, err)
		}
		stats := ParseSessionStats(file, pricing)
		file.Close()

		date := timeutil.DateOf(f.modTime)
		day, ok := byDate[date]
		if !ok {
			day = &DayStats{ToolCalls: make(map[string]int)}
			byDate[date] = day
		}
		day.Sessions++
		day.InputTokens += stats.InputTokens
		day.OutputTokens += stats.OutputTokens
		day.CacheReadTokens += stats.CacheReadTokens
		day.CacheWriteTokens += stats.CacheWriteTokens
		day.EstimatedCostUSD = round6(day.EstimatedCostUSD + stats.CostUSD)
		for tool, count := range stats.ToolCalls {
			day.ToolCalls[tool] += count
		}

		newWatermark = timeutil.Format(f.modTime)
	}

	return byDate, newWatermark, nil
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
