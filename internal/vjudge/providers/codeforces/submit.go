package codeforces

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"vjudge/internal/vjudge/model"
	"vjudge/internal/vjudge/provider"
	"vjudge/pkg/utils/logger"

	"go.uber.org/zap"
)

var verdicts = map[string]model.Status{
	"OK":                        model.StatusAccepted,
	"PARTIAL":                   model.StatusWrongAnswer,
	"WRONG_ANSWER":              model.StatusWrongAnswer,
	"PRESENTATION_ERROR":        model.StatusWrongAnswer,
	"TIME_LIMIT_EXCEEDED":       model.StatusTimeLimitExceeded,
	"IDLENESS_LIMIT_EXCEEDED":   model.StatusTimeLimitExceeded,
	"MEMORY_LIMIT_EXCEEDED":     model.StatusMemoryLimitExceeded,
	"RUNTIME_ERROR":             model.StatusRuntimeError,
	"SECURITY_VIOLATED":         model.StatusRuntimeError,
	"INPUT_PREPARATION_CRASHED": model.StatusSystemError,
	"CRASHED":                   model.StatusSystemError,
	"FAILED":                    model.StatusSystemError,
	"COMPILATION_ERROR":         model.StatusCompileError,
	"CHALLENGED":                model.StatusWrongAnswer,
	"SKIPPED":                   model.StatusCanceled,
	"REJECTED":                  model.StatusCanceled,
}

// SubmitProblem posts code through the problemset submit form and returns the new submission id.
// Form errors reported by the site end the record as a compile error.
func (p *Provider) SubmitProblem(ctx context.Context, req provider.SubmitRequest, rep provider.Reporter) (string, error) {
	contest, index, err := splitProblemID(req.Target)
	if err != nil {
		return "", rep.End(ctx, model.Failed(model.StatusCompileError, err.Error()))
	}
	resp, err := p.f.Get(ctx, "/problemset/submit", nil)
	if err != nil {
		return "", err
	}
	csrf := findCSRF(resp.Text())
	if csrf == "" {
		return "", errNotLoggedIn
	}
	p.mu.Lock()
	p.csrf = csrf
	p.mu.Unlock()

	latest, err := p.latestSubmission(ctx)
	if err != nil {
		return "", err
	}

	form := url.Values{
		"csrf_token":           {csrf},
		"action":               {"submitSolutionFormSubmitted"},
		"submittedProblemCode": {contest + index},
		"programTypeId":        {req.Lang},
		"source":               {req.Code},
		"tabSize":              {"4"},
		"sourceFile":           {""},
		"_tta":                 {"594"},
	}
	resp, err = p.f.PostForm(ctx, "/problemset/submit?csrf_token="+url.QueryEscape(csrf), form)
	if err != nil {
		return "", err
	}
	if !strings.Contains(resp.URL.Path, "/status") {
		if msg := findFieldError(resp.Text(), "source"); msg != "" {
			return "", rep.End(ctx, model.Failed(model.StatusCompileError, msg))
		}
		if msg := findFieldError(resp.Text(), "programTypeId"); msg != "" {
			return "", rep.End(ctx, model.Failed(model.StatusCompileError, msg))
		}
		return "", fmt.Errorf("submit %s was not accepted (landed on %s)", req.Target, resp.URL.Path)
	}

	subs, err := p.recentSubmissions(ctx, 1)
	if err != nil {
		return "", err
	}
	if len(subs) == 0 || subs[0].ID == latest {
		return "", fmt.Errorf("submission of %s not found in status", req.Target)
	}
	id := strconv.FormatInt(subs[0].ID, 10)
	logger.Info(ctx, "codeforces submission created", zap.String("problem", req.Target), zap.String("submission", id))
	return id, nil
}

func (p *Provider) latestSubmission(ctx context.Context) (int64, error) {
	subs, err := p.recentSubmissions(ctx, 1)
	if err != nil || len(subs) == 0 {
		return 0, err
	}
	return subs[0].ID, nil
}

func (p *Provider) recentSubmissions(ctx context.Context, count int) ([]apiSubmission, error) {
	var subs []apiSubmission
	query := url.Values{
		"handle": {p.account.Handle},
		"from":   {"1"},
		"count":  {strconv.Itoa(count)},
	}
	if err := p.callAPI(ctx, "user.status", query, &subs); err != nil {
		return nil, err
	}
	return subs, nil
}

// WaitForSubmission polls the status API until the submission has a final verdict.
// It gives up after a bounded number of polls.
func (p *Provider) WaitForSubmission(ctx context.Context, id string, rep provider.Reporter) error {
	want, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid submission id %q", id)
	}
	reported := -1
	for poll := 0; poll < p.maxPolls; poll++ {
		if poll > 0 {
			timer := time.NewTimer(p.pollInterval)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
		subs, err := p.recentSubmissions(ctx, statusScan)
		if err != nil {
			logger.Warn(ctx, "poll codeforces status failed", zap.String("submission", id), zap.Error(err))
			continue
		}
		var sub *apiSubmission
		for i := range subs {
			if subs[i].ID == want {
				sub = &subs[i]
				break
			}
		}
		if sub == nil {
			continue
		}
		if sub.Verdict == "" || sub.Verdict == "TESTING" {
			if sub.PassedTestCount != reported {
				reported = sub.PassedTestCount
				msg := fmt.Sprintf("Running on test %d", sub.PassedTestCount+1)
				if err := rep.Next(ctx, model.WithStatus(model.StatusJudging, msg)); err != nil {
					return err
				}
			}
			continue
		}
		return rep.End(ctx, finalOf(sub))
	}
	return fmt.Errorf("submission %s still judging after %d polls", id, p.maxPolls)
}

func finalOf(sub *apiSubmission) model.Final {
	status, ok := verdicts[sub.Verdict]
	if !ok {
		status = model.StatusETC
	}
	final := model.Final{
		Status:   status,
		TimeMs:   sub.TimeConsumedMillis,
		MemoryKB: sub.MemoryConsumedBytes / 1024,
	}
	switch status {
	case model.StatusAccepted:
		final.Score = 100
	case model.StatusCompileError:
		final.CompilerText = "Compilation error"
	default:
		if sub.Verdict != "" {
			final.Message = fmt.Sprintf("%s on test %d", strings.ReplaceAll(strings.ToLower(sub.Verdict), "_", " "), sub.PassedTestCount+1)
		}
	}
	return final
}
