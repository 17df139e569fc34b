package joinstorm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/okian/matchpoint/internal/adapters/identity"
	"github.com/okian/matchpoint/internal/domain/model"
	"github.com/okian/matchpoint/pkg/logger"
)

// Join outcomes.
const (
	outcomeJoined   = "joined"
	outcomeConflict = "conflict"
	outcomeFailed   = "failed"
)

// Run creates a match with cfg.Capacity seats, sends cfg.Capacity+cfg.Extra
// concurrent joins from distinct users and verifies the result.
func Run(ctx context.Context, cfg *Config) (*Stats, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	stats := &Stats{StartTime: time.Now()}
	log := logger.Get()

	log.Info(ctx, "starting join storm",
		logger.String("baseURL", cfg.BaseURL),
		logger.Int("capacity", cfg.Capacity),
		logger.Int("extra", cfg.Extra),
		logger.Int("workers", cfg.Workers),
	)

	client := newHTTPClient(cfg.BaseURL, cfg.Timeout)
	if err := checkServiceHealth(ctx, client); err != nil {
		return nil, err
	}

	issuer, err := identity.NewJWT(cfg.Secret, cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("create token issuer: %w", err)
	}
	hostToken, err := issuer.Issue(model.User{ID: "host-" + uuid.NewString(), Age: hostAge}, tokenTTL)
	if err != nil {
		return nil, fmt.Errorf("issue host token: %w", err)
	}
	tokens, err := mintPlayers(issuer, cfg.Capacity+cfg.Extra)
	if err != nil {
		return nil, err
	}

	matchID, err := createMatch(ctx, client, hostToken, cfg.Capacity)
	if err != nil {
		return nil, err
	}
	stats.MatchID = matchID
	log.Info(ctx, "match created", logger.String("matchID", matchID))

	storm(ctx, client, cfg, matchID, tokens, stats)

	final, err := fetchMatch(ctx, client, matchID)
	if err != nil {
		return stats, err
	}

	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)

	verr := verify(cfg, final, stats)
	displayFinalStats(ctx, stats)
	if verr != nil {
		return stats, verr
	}
	log.Info(ctx, "join storm passed")
	return stats, nil
}

func checkServiceHealth(ctx context.Context, client *httpClient) error {
	status, _, err := client.do(ctx, http.MethodGet, "/healthz", "", nil)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnhealthy, err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrUnhealthy, status)
	}
	return nil
}

func mintPlayers(issuer identity.Issuer, n int) ([]string, error) {
	tokens := make([]string, 0, n)
	for i := 0; i < n; i++ {
		tok, err := issuer.Issue(model.User{ID: "player-" + uuid.NewString(), Age: playerAge}, tokenTTL)
		if err != nil {
			return nil, fmt.Errorf("issue player token: %w", err)
		}
		tokens = append(tokens, tok)
	}
	return tokens, nil
}

type createBody struct {
	Title    string         `json:"title"`
	Sport    string         `json:"sport"`
	Datetime string         `json:"datetime"`
	Location map[string]any `json:"location"`
	Capacity int            `json:"capacity"`
}

func createMatch(ctx context.Context, client *httpClient, token string, capacity int) (string, error) {
	body := createBody{
		Title:    "joinstorm",
		Sport:    "football",
		Datetime: time.Now().Add(24 * time.Hour).UTC().Format(time.RFC3339),
		Location: map[string]any{"lat": 52.52, "lng": 13.405},
		Capacity: capacity,
	}
	status, env, err := client.do(ctx, http.MethodPost, "/matches", token, body)
	if err != nil {
		return "", fmt.Errorf("create match: %w", err)
	}
	if status != http.StatusCreated {
		return "", fmt.Errorf("create match: status %d: %s", status, env.Error)
	}
	var m model.Match
	if err := json.Unmarshal(env.Data, &m); err != nil {
		return "", fmt.Errorf("decode match: %w", err)
	}
	return m.ID, nil
}

func fetchMatch(ctx context.Context, client *httpClient, id string) (model.Match, error) {
	status, env, err := client.do(ctx, http.MethodGet, "/matches/"+id, "", nil)
	if err != nil {
		return model.Match{}, fmt.Errorf("fetch match: %w", err)
	}
	if status != http.StatusOK {
		return model.Match{}, fmt.Errorf("fetch match: status %d: %s", status, env.Error)
	}
	var m model.Match
	if err := json.Unmarshal(env.Data, &m); err != nil {
		return model.Match{}, fmt.Errorf("decode match: %w", err)
	}
	return m, nil
}

// storm fans the join requests out over cfg.Workers goroutines. All
// workers wait on a start gate so the requests overlap.
func storm(ctx context.Context, client *httpClient, cfg *Config, matchID string, tokens []string, stats *Stats) {
	var joined, conflicts, failed, attempts int64

	tokenChan := make(chan string, len(tokens))
	for _, tok := range tokens {
		tokenChan <- tok
	}
	close(tokenChan)

	gate := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-gate
			for tok := range tokenChan {
				if ctx.Err() != nil {
					return
				}
				outcome := joinOnce(ctx, client, matchID, tok)
				atomic.AddInt64(&attempts, 1)
				switch outcome {
				case outcomeJoined:
					atomic.AddInt64(&joined, 1)
				case outcomeConflict:
					atomic.AddInt64(&conflicts, 1)
				default:
					atomic.AddInt64(&failed, 1)
				}
				if cfg.Verbose {
					logger.Get().Debug(ctx, "join", logger.String("outcome", outcome))
				}
			}
		}()
	}
	close(gate)
	wg.Wait()

	stats.Attempts = int(attempts)
	stats.Joined = int(joined)
	stats.Conflicts = int(conflicts)
	stats.Failed = int(failed)
}

func joinOnce(ctx context.Context, client *httpClient, matchID, token string) string {
	status, _, err := client.do(ctx, http.MethodPost, "/matches/"+matchID+"/join", token, nil)
	if err != nil {
		return outcomeFailed
	}
	switch status {
	case http.StatusOK:
		return outcomeJoined
	case http.StatusConflict:
		return outcomeConflict
	default:
		return outcomeFailed
	}
}

func displayFinalStats(ctx context.Context, stats *Stats) {
	var joinsPerSecond float64
	if stats.Duration > 0 {
		joinsPerSecond = float64(stats.Attempts) / stats.Duration.Seconds()
	}
	logger.Get().Info(ctx, "final statistics",
		logger.String("matchID", stats.MatchID),
		logger.Int("attempts", stats.Attempts),
		logger.Int("joined", stats.Joined),
		logger.Int("conflicts", stats.Conflicts),
		logger.Int("failed", stats.Failed),
		logger.Int("participants", stats.Participants),
		logger.Int("distinct", stats.Distinct),
		logger.Duration("duration", stats.Duration),
		logger.Float64("joinsPerSecond", joinsPerSecond),
	)
}
