package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mcdev12/pollsync/go/internal/dbconfig"
	"github.com/mcdev12/pollsync/go/internal/models"
)

// seed_history fills the polls table with ended polls so the history panel has data.
func main() {
	count := flag.Int("count", 20, "number of ended polls to insert")
	flag.Parse()

	cfg := dbconfig.NewConfigFromEnv()
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.DSN())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	batch := &pgx.Batch{}
	now := time.Now().UTC()
	for i := 0; i < *count; i++ {
		poll := fakeEndedPoll(now.Add(-time.Duration(*count-i) * 10 * time.Minute))
		options, err := json.Marshal(poll.Options)
		if err != nil {
			fmt.Fprintf(os.Stderr, "marshal options: %v\n", err)
			os.Exit(1)
		}
		batch.Queue(`
            INSERT INTO polls (
              question, options, is_active, time_limit, created_by,
              created_at, ended_at, total_votes
            ) VALUES ($1, $2, FALSE, $3, $4, $5, $6, $7)
        `,
			poll.Question, options, poll.TimeLimit, poll.CreatedBy,
			poll.CreatedAt, *poll.EndedAt, poll.TotalVotes,
		)
	}

	results := pool.SendBatch(ctx, batch)
	var inserted, errs int
	for i := 0; i < batch.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			fmt.Fprintf(os.Stderr, "error inserting poll %d: %v\n", i, err)
			errs++
			continue
		}
		inserted++
	}
	if err := results.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "close batch: %v\n", err)
	}

	fmt.Printf("History seed complete: %d inserted, %d errors\n", inserted, errs)
}

func fakeEndedPoll(createdAt time.Time) models.Poll {
	texts := make([]string, gofakeit.Number(2, 5))
	for i := range texts {
		texts[i] = gofakeit.Word()
	}

	options := models.NewPollOptions(texts)
	total := 0
	for i := range options {
		options[i].Votes = gofakeit.Number(0, 25)
		total += options[i].Votes
	}

	timeLimit := gofakeit.RandomInt([]int{30, 60, 90, 120})
	endedAt := createdAt.Add(time.Duration(timeLimit) * time.Second)
	return models.Poll{
		Question:   strings.TrimSuffix(gofakeit.Phrase(), ".") + "?",
		Options:    options,
		TimeLimit:  timeLimit,
		CreatedBy:  "seed",
		CreatedAt:  createdAt,
		EndedAt:    &endedAt,
		TotalVotes: total,
	}
}
