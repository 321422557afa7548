// Package e2e provides end-to-end tests: a watched config directory, the
// catalog and the HTTP API driven together over a generated event corpus.
package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Event is a GitHub archive style event as found in gh-archive NDJSON dumps.
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Public    bool                   `json:"public"`
	Actor     map[string]interface{} `json:"actor"`
	Repo      map[string]interface{} `json:"repo"`
	Payload   map[string]interface{} `json:"payload"`
	CreatedAt string                 `json:"created_at"`
}

// QueryTestCase is a preview query and the number of events it must match.
type QueryTestCase struct {
	Description   string
	Query         string
	Start, End    *time.Time
	ExpectedTotal uint64
}

// Corpus holds generated events and the queries run against them.
type Corpus struct {
	Events       []Event
	TestCases    []QueryTestCase
	TotalDocs    int
	TotalQueries int
}

var (
	eventTypes = []string{"PushEvent", "WatchEvent", "IssuesEvent", "PullRequestEvent", "ForkEvent"}
	actors     = []string{"octocat", "hubot", "monalisa", "defunkt"}
	corpusBase = time.Date(2023, 1, 1, 15, 0, 0, 0, time.UTC)
)

// BuildCorpus returns n events, one minute apart starting at 2023-01-01T15:00:00Z,
// cycling through event types and actors, plus query test cases whose expected
// totals are computed from the generated events.
func BuildCorpus(n int) *Corpus {
	events := make([]Event, n)
	for i := range events {
		login := actors[i%len(actors)]
		events[i] = Event{
			ID:        fmt.Sprintf("%d", 26167585827+i),
			Type:      eventTypes[i%len(eventTypes)],
			Public:    i%2 == 0,
			Actor:     map[string]interface{}{"id": i%len(actors) + 1, "login": login},
			Repo:      map[string]interface{}{"id": 100 + i%7, "name": fmt.Sprintf("%s/repo-%d", login, i%7)},
			Payload:   map[string]interface{}{"size": i % 3},
			CreatedAt: corpusBase.Add(time.Duration(i) * time.Minute).Format(time.RFC3339),
		}
	}
	cases := buildQueryTestCases(events)
	return &Corpus{Events: events, TestCases: cases, TotalDocs: len(events), TotalQueries: len(cases)}
}

func buildQueryTestCases(events []Event) []QueryTestCase {
	count := func(match func(i int, e Event) bool) uint64 {
		var c uint64
		for i, e := range events {
			if match(i, e) {
				c++
			}
		}
		return c
	}
	var cases []QueryTestCase
	cases = append(cases, QueryTestCase{
		Description:   "match all",
		ExpectedTotal: uint64(len(events)),
	})
	for _, typ := range eventTypes {
		typ := typ
		cases = append(cases, QueryTestCase{
			Description:   "type " + typ,
			Query:         "type:" + typ,
			ExpectedTotal: count(func(_ int, e Event) bool { return e.Type == typ }),
		})
	}
	for _, login := range actors {
		login := login
		cases = append(cases, QueryTestCase{
			Description:   "actor " + login,
			Query:         "actor.login:" + login,
			ExpectedTotal: count(func(_ int, e Event) bool { return e.Actor["login"] == login }),
		})
	}
	cases = append(cases, QueryTestCase{
		Description: "push by octocat",
		Query:       "+type:PushEvent +actor.login:octocat",
		ExpectedTotal: count(func(_ int, e Event) bool {
			return e.Type == "PushEvent" && e.Actor["login"] == "octocat"
		}),
	})

	start := corpusBase.Add(10 * time.Minute)
	end := corpusBase.Add(30 * time.Minute)
	inRange := func(i int) bool {
		t := corpusBase.Add(time.Duration(i) * time.Minute)
		return !t.Before(start) && t.Before(end)
	}
	cases = append(cases, QueryTestCase{
		Description:   "time range",
		Start:         &start,
		End:           &end,
		ExpectedTotal: count(func(i int, _ Event) bool { return inRange(i) }),
	})
	cases = append(cases, QueryTestCase{
		Description: "type within time range",
		Query:       "type:WatchEvent",
		Start:       &start,
		End:         &end,
		ExpectedTotal: count(func(i int, e Event) bool {
			return inRange(i) && e.Type == "WatchEvent"
		}),
	})
	return cases
}

// NDJSON renders the events as newline-delimited JSON.
func (c *Corpus) NDJSON() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, e := range c.Events {
		if err := enc.Encode(e); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}
