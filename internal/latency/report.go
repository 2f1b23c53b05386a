package latency

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Stats summarises the total latency of successful requests.
type Stats struct {
	Average time.Duration
	Min     time.Duration
	Max     time.Duration
}

// Summary aggregates a run.
type Summary struct {
	Total             int
	Successful        int
	Failed            int
	Hosted            Stats
	Local             Stats
	HostedTTFB        Stats
	LocalTTFB         Stats
	AverageDifference time.Duration
}

// Summarize computes statistics over the successful results.
func Summarize(results []Result) Summary {
	s := Summary{Total: len(results)}
	var hosted, local, hostedTTFB, localTTFB []time.Duration
	var diff time.Duration
	for _, r := range results {
		if r.Error != "" {
			s.Failed++
			continue
		}
		s.Successful++
		hosted = append(hosted, r.Hosted.Total)
		local = append(local, r.Local.Total)
		hostedTTFB = append(hostedTTFB, r.Hosted.TTFB)
		localTTFB = append(localTTFB, r.Local.TTFB)
		diff += r.Difference
	}
	s.Hosted = stats(hosted)
	s.Local = stats(local)
	s.HostedTTFB = stats(hostedTTFB)
	s.LocalTTFB = stats(localTTFB)
	if s.Successful > 0 {
		s.AverageDifference = diff / time.Duration(s.Successful)
	}
	return s
}

func stats(ds []time.Duration) Stats {
	if len(ds) == 0 {
		return Stats{}
	}
	st := Stats{Min: ds[0], Max: ds[0]}
	var sum time.Duration
	for _, d := range ds {
		sum += d
		st.Min = min(st.Min, d)
		st.Max = max(st.Max, d)
	}
	st.Average = sum / time.Duration(len(ds))
	return st
}

// Files lists the paths written by Export.
type Files struct {
	JSON    string
	CSV     string
	Summary string
}

// Export writes the results as JSON, CSV and a text summary into dir,
// creating it if needed. File names carry the export time.
func Export(dir string, results []Result, now time.Time) (Files, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Files{}, fmt.Errorf("create results dir: %w", err)
	}
	stamp := strings.NewReplacer(":", "-", ".", "-").Replace(now.UTC().Format(time.RFC3339Nano))
	files := Files{
		JSON:    filepath.Join(dir, "latency_results_"+stamp+".json"),
		CSV:     filepath.Join(dir, "latency_results_"+stamp+".csv"),
		Summary: filepath.Join(dir, "summary_"+stamp+".txt"),
	}

	writers := []struct {
		path  string
		write func(io.Writer) error
	}{
		{files.JSON, func(w io.Writer) error { return WriteJSON(w, results) }},
		{files.CSV, func(w io.Writer) error { return WriteCSV(w, results) }},
		{files.Summary, func(w io.Writer) error { return WriteSummary(w, Summarize(results), now) }},
	}
	for _, wr := range writers {
		if err := writeFile(wr.path, wr.write); err != nil {
			return files, err
		}
	}
	return files, nil
}

func writeFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

// WriteJSON writes results as an indented JSON array.
func WriteJSON(w io.Writer, results []Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(results)
}

// WriteCSV writes one row per result with latencies in milliseconds.
func WriteCSV(w io.Writer, results []Result) error {
	cw := csv.NewWriter(w)
	_ = cw.Write([]string{
		"Timestamp", "Prompt",
		"Hosted TTFB (ms)", "Hosted Latency (ms)",
		"Local TTFB (ms)", "Local Latency (ms)",
		"Difference (ms)", "Error",
	})
	for _, r := range results {
		_ = cw.Write([]string{
			r.Timestamp.Format(time.RFC3339),
			r.Prompt,
			ms(r.Hosted.TTFB), ms(r.Hosted.Total),
			ms(r.Local.TTFB), ms(r.Local.Total),
			ms(r.Difference),
			r.Error,
		})
	}
	cw.Flush()
	return cw.Error()
}

// WriteSummary writes the human-readable report.
func WriteSummary(w io.Writer, s Summary, now time.Time) error {
	_, err := fmt.Fprintf(w, `Latency Test Summary
====================
Test Date: %s
Total Tests: %d
Successful Tests: %d
Failed Tests: %d

Hosted (/api/gpt)
-----------------
%s
Local (/api/llama)
------------------
%s
Average Difference: %sms
`,
		now.UTC().Format(time.RFC3339), s.Total, s.Successful, s.Failed,
		formatStats(s.Hosted, s.HostedTTFB), formatStats(s.Local, s.LocalTTFB),
		ms(s.AverageDifference))
	return err
}

func formatStats(total, ttfb Stats) string {
	return fmt.Sprintf("Average Latency: %sms\nMin Latency: %sms\nMax Latency: %sms\nAverage TTFB: %sms\n",
		ms(total.Average), ms(total.Min), ms(total.Max), ms(ttfb.Average))
}

func ms(d time.Duration) string {
	return strconv.FormatFloat(float64(d)/float64(time.Millisecond), 'f', 2, 64)
}
