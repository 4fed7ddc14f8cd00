// Package facade composes the gateway, AI client, store and notifier into the
// operations the command line exposes: process lookup and summarization.
package facade

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"google.golang.org/genai"

	"datajud-gateway/internal/aiclient"
	"datajud-gateway/internal/config"
	"datajud-gateway/internal/model"
	"datajud-gateway/internal/notify"
	"datajud-gateway/internal/store"
)

const (
	recentSearchesKey = "recent_searches"
	maxRecentSearches = 10
	maxErrorBody      = 512
)

var (
	// ErrInvalidTribunal is returned for a tribunal alias outside [a-z0-9]+.
	ErrInvalidTribunal = errors.New("invalid tribunal alias")
	// ErrInvalidProcessNumber is returned for an empty process number.
	ErrInvalidProcessNumber = errors.New("invalid process number")
	// ErrAIUnavailable wraps the reason no AI client could be obtained.
	ErrAIUnavailable = errors.New("ai client unavailable")
	// ErrNothingToSummarize is returned when a search result has no process.
	ErrNothingToSummarize = errors.New("search result has no process")
)

var tribunalPattern = regexp.MustCompile(`^[a-z0-9]+$`)

// SearchError reports a non-2xx answer from the search endpoint.
type SearchError struct {
	StatusCode int
	Body       string
}

func (e *SearchError) Error() string {
	return fmt.Sprintf("search returned status %d: %s", e.StatusCode, e.Body)
}

// Streamer issues HTTP requests. *client.UpstreamClient satisfies it.
type Streamer interface {
	DoStream(ctx context.Context, method, url string, header http.Header, body io.Reader) (*model.ProxyResponse, error)
}

// Facade is the composition root for the command-line operations.
type Facade struct {
	gatewayURL string
	datajudKey string
	model      string

	http     Streamer
	ai       aiclient.Source
	kv       *store.KV
	notifier *notify.Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a Facade from configuration and its collaborators.
func New(cfg *config.Config, s Streamer, ai aiclient.Source, kv *store.KV, n *notify.Notifier, logger *slog.Logger) *Facade {
	return &Facade{
		gatewayURL: strings.TrimRight(cfg.Facade.GatewayURL, "/"),
		datajudKey: cfg.Datajud.APIKey,
		model:      cfg.AI.Model,
		http:       s,
		ai:         ai,
		kv:         kv,
		notifier:   n,
		logger:     logger.With("component", "facade"),
		now:        time.Now,
	}
}

// SearchURL returns the search endpoint for tribunal behind the gateway.
func (f *Facade) SearchURL(tribunal string) string {
	return f.gatewayURL + config.DefaultRulePrefix + tribunal + "/_search"
}

// SearchProcess looks up a process by number in one tribunal's index.
func (f *Facade) SearchProcess(ctx context.Context, tribunal, processNumber string) (*model.SearchResult, error) {
	tribunal = strings.ToLower(strings.TrimSpace(tribunal))
	if !tribunalPattern.MatchString(tribunal) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTribunal, tribunal)
	}
	number := normalizeProcessNumber(processNumber)
	if number == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidProcessNumber, processNumber)
	}

	res, err := f.search(ctx, tribunal, number)
	if err != nil {
		f.notifier.Error(fmt.Sprintf("Search in %s failed: %v", strings.ToUpper(tribunal), err))
		return nil, err
	}

	f.remember(model.RecentSearch{
		Tribunal:      tribunal,
		ProcessNumber: number,
		Hits:          res.Total,
		At:            f.now().UTC(),
	})
	if res.Total == 0 {
		f.notifier.Warning(fmt.Sprintf("No process %s found in %s", number, strings.ToUpper(tribunal)))
	} else {
		f.notifier.Success(fmt.Sprintf("Found %d result(s) for %s in %s", res.Total, number, strings.ToUpper(tribunal)))
	}
	return res, nil
}

func (f *Facade) search(ctx context.Context, tribunal, number string) (*model.SearchResult, error) {
	query, err := buildQuery(number)
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}

	header := http.Header{}
	header.Set("Content-Type", "application/json")
	header.Set("Accept", "application/json")
	if f.datajudKey != "" {
		header.Set("Authorization", "APIKey "+f.datajudKey)
	}

	resp, err := f.http.DoStream(ctx, http.MethodPost, f.SearchURL(tribunal), header, bytes.NewReader(query))
	if err != nil {
		return nil, fmt.Errorf("searching %s: %w", tribunal, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading search response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &SearchError{StatusCode: resp.StatusCode, Body: truncate(string(body), maxErrorBody)}
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("decoding search response: invalid JSON")
	}

	f.logger.Debug("search completed", "tribunal", tribunal, "bytes", len(body))
	return decodeSearch(body), nil
}

// RecentSearches returns the persisted lookups, newest first.
func (f *Facade) RecentSearches() []model.RecentSearch {
	return store.LoadOr(f.kv, recentSearchesKey, []model.RecentSearch{})
}

func (f *Facade) remember(s model.RecentSearch) {
	recent := []model.RecentSearch{s}
	for _, r := range f.RecentSearches() {
		if r.Tribunal == s.Tribunal && r.ProcessNumber == s.ProcessNumber {
			continue
		}
		recent = append(recent, r)
	}
	if len(recent) > maxRecentSearches {
		recent = recent[:maxRecentSearches]
	}
	f.kv.Save(recentSearchesKey, recent)
}

// ClearRecentSearches forgets every persisted lookup.
func (f *Facade) ClearRecentSearches() {
	f.kv.Remove(recentSearchesKey)
}

// Summarize asks the AI client for a plain-language summary of the first
// process in res.
func (f *Facade) Summarize(ctx context.Context, res *model.SearchResult) (string, error) {
	if res == nil || len(res.Processes) == 0 {
		return "", ErrNothingToSummarize
	}

	ai := f.ai.Get(ctx)
	client, ok := ai.Client()
	if !ok {
		f.notifier.Warning("AI summary unavailable: " + ai.Reason().String())
		return "", fmt.Errorf("%w: %s", ErrAIUnavailable, ai.Detail())
	}

	out, err := client.Models.GenerateContent(ctx, f.model, genai.Text(summaryPrompt(res.Processes[0])), nil)
	if err != nil {
		f.notifier.Error("AI summary failed")
		return "", fmt.Errorf("generating summary: %w", err)
	}

	var sb strings.Builder
	if len(out.Candidates) > 0 && out.Candidates[0].Content != nil {
		for _, p := range out.Candidates[0].Content.Parts {
			if p != nil {
				sb.WriteString(p.Text)
			}
		}
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", fmt.Errorf("generating summary: empty response")
	}
	return text, nil
}

func summaryPrompt(p model.Process) string {
	var sb strings.Builder
	sb.WriteString("Resuma em português, em linguagem simples, o andamento do processo judicial abaixo.\n\n")
	fmt.Fprintf(&sb, "Número: %s\nTribunal: %s\nClasse: %s\nÓrgão julgador: %s\n", p.Number, p.Tribunal, p.Class, p.Court)
	if !p.FiledAt.IsZero() {
		fmt.Fprintf(&sb, "Ajuizamento: %s\n", p.FiledAt.Format("2006-01-02"))
	}
	if len(p.Subjects) > 0 {
		fmt.Fprintf(&sb, "Assuntos: %s\n", strings.Join(p.Subjects, "; "))
	}
	if len(p.Movements) > 0 {
		sb.WriteString("Movimentos:\n")
		for _, m := range p.Movements {
			date := ""
			if !m.At.IsZero() {
				date = m.At.Format("2006-01-02") + " "
			}
			fmt.Fprintf(&sb, "- %s%s\n", date, m.Name)
		}
	}
	return sb.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
