// Package mock runs simulated voters inside the server process so a session
// can be demoed or load-tested without real clients.
package mock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/planning-poker/planpoker/internal/config"
	"github.com/planning-poker/planpoker/internal/poker"
)

// Dispatcher is the part of poker.Dispatcher the bots drive.
type Dispatcher interface {
	Dispatch(ctx context.Context, req poker.Request) (poker.Ack, error)
	Registration(name string) (uint64, bool)
	Connect(name string, gen uint64) (poker.Snapshot, error)
	Snapshot() poker.Snapshot
}

// Voting styles. A bot's style decides which card it plays.
const (
	styleSteady  = "steady"  // stays near a personal estimate
	styleRandom  = "random"  // any card
	styleUnsure  = "unsure"  // often plays "?"
	styleOutlier = "outlier" // prefers the high end of the deck
)

var botNames = []string{"ada", "grace", "linus", "ken", "barbara", "edsger", "margaret", "dennis"}

var botStyles = []string{styleSteady, styleRandom, styleUnsure, styleOutlier}

type mockVoter struct {
	name    string
	style   string
	center  int
	readyAt time.Time
}

type MockGenerator struct {
	dispatcher Dispatcher
	voters     int
	thinkTime  time.Duration
	rng        *rand.Rand
	now        func() time.Time
	bots       []*mockVoter
}

func NewGenerator(dispatcher Dispatcher, cfg config.MockConfig) *MockGenerator {
	return &MockGenerator{
		dispatcher: dispatcher,
		voters:     cfg.Voters,
		thinkTime:  cfg.ThinkTime,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		now:        time.Now,
	}
}

// Start joins and connects the bots, then votes for them in the background
// until ctx is done. Names already taken in the session are skipped.
func (g *MockGenerator) Start(ctx context.Context) error {
	if err := g.join(ctx); err != nil {
		return err
	}
	go g.run(ctx)
	return nil
}

func (g *MockGenerator) join(ctx context.Context) error {
	for i := 0; len(g.bots) < g.voters; i++ {
		name := "bot-" + botNames[i%len(botNames)]
		if i >= len(botNames) {
			name = fmt.Sprintf("%s-%d", name, i/len(botNames)+1)
		}

		req, err := poker.NewRequest(string(poker.RequestJoin), name, poker.NoVoteValue, "")
		if err != nil {
			return err
		}
		if _, err := g.dispatcher.Dispatch(ctx, req); err != nil {
			if errors.Is(err, poker.ErrDuplicateVoter) {
				continue
			}
			return fmt.Errorf("join %s: %w", name, err)
		}
		gen, ok := g.dispatcher.Registration(name)
		if !ok {
			return fmt.Errorf("connect %s: %w", name, poker.ErrVoterNotFound)
		}
		if _, err := g.dispatcher.Connect(name, gen); err != nil {
			return fmt.Errorf("connect %s: %w", name, err)
		}

		g.bots = append(g.bots, &mockVoter{
			name:   name,
			style:  botStyles[len(g.bots)%len(botStyles)],
			center: 2 + g.rng.Intn(6),
		})
	}

	slog.Info("mock voters joined", "count", len(g.bots))
	return nil
}

func (g *MockGenerator) run(ctx context.Context) {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.tick(ctx)
		}
	}
}

// tick casts the votes that are due. Each bot waits a random share of the
// think time after it first sees an open round.
func (g *MockGenerator) tick(ctx context.Context) {
	snap := g.dispatcher.Snapshot()
	voted := make(map[string]bool, len(snap.Voters))
	present := make(map[string]bool, len(snap.Voters))
	for _, v := range snap.Voters {
		present[v.Name] = true
		voted[v.Name] = v.HasVoted()
	}

	now := g.now()
	for _, b := range g.bots {
		if snap.Status != poker.InProgress || !present[b.name] || voted[b.name] {
			b.readyAt = time.Time{}
			continue
		}
		if b.readyAt.IsZero() {
			b.readyAt = now.Add(g.delay())
		}
		if now.Before(b.readyAt) {
			continue
		}

		card := g.pickCard(b)
		req, err := poker.NewRequest(string(poker.RequestVote), b.name, card, "")
		if err != nil {
			slog.Error("mock vote", "voter", b.name, "error", err)
			continue
		}
		if _, err := g.dispatcher.Dispatch(ctx, req); err != nil {
			slog.Warn("mock vote rejected", "voter", b.name, "error", err)
			continue
		}
		b.readyAt = time.Time{}
	}
}

func (g *MockGenerator) delay() time.Duration {
	if g.thinkTime <= 0 {
		return 0
	}
	return g.thinkTime/2 + time.Duration(g.rng.Int63n(int64(g.thinkTime)))
}

func (g *MockGenerator) pickCard(b *mockVoter) int {
	switch b.style {
	case styleSteady:
		card := b.center + g.rng.Intn(3) - 1
		return min(max(card, 1), poker.MaxVote)
	case styleUnsure:
		if g.rng.Intn(2) == 0 {
			return 0
		}
		return 1 + g.rng.Intn(5)
	case styleOutlier:
		return poker.MaxVote - 3 + g.rng.Intn(4)
	default:
		return g.rng.Intn(poker.MaxVote + 1)
	}
}
