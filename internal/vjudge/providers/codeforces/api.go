package codeforces

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
)

type apiEnvelope struct {
	Status  string          `json:"status"`
	Comment string          `json:"comment"`
	Result  json.RawMessage `json:"result"`
}

type apiProblem struct {
	ContestID int      `json:"contestId"`
	Index     string   `json:"index"`
	Name      string   `json:"name"`
	Rating    int      `json:"rating"`
	Tags      []string `json:"tags"`
}

type apiUser struct {
	Handle                string `json:"handle"`
	Rating                int    `json:"rating"`
	Rank                  string `json:"rank"`
	LastOnlineTimeSeconds int64  `json:"lastOnlineTimeSeconds"`
}

type apiSubmission struct {
	ID                  int64      `json:"id"`
	ContestID           int        `json:"contestId"`
	Problem             apiProblem `json:"problem"`
	ProgrammingLanguage string     `json:"programmingLanguage"`
	Verdict             string     `json:"verdict"`
	PassedTestCount     int        `json:"passedTestCount"`
	TimeConsumedMillis  int64      `json:"timeConsumedMillis"`
	MemoryConsumedBytes int64      `json:"memoryConsumedBytes"`
}

// callAPI calls one method of the public API and decodes its result into out.
func (p *Provider) callAPI(ctx context.Context, method string, query url.Values, out interface{}) error {
	resp, err := p.f.Get(ctx, "/api/"+method, query)
	if err != nil {
		return err
	}
	var env apiEnvelope
	if err := resp.JSON(&env); err != nil {
		return fmt.Errorf("api %s: status %d: %w", method, resp.StatusCode, err)
	}
	if env.Status != "OK" {
		return fmt.Errorf("api %s failed: %s", method, env.Comment)
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return fmt.Errorf("decode api %s result failed: %w", method, err)
	}
	return nil
}
