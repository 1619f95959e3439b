package service

import (
	"context"
	"errors"
	"testing"

	"vjudge/internal/vjudge/model"
	"vjudge/internal/vjudge/provider"
	"vjudge/pkg/testutil"
)

func TestResultStreamClosesAfterEnd(t *testing.T) {
	ctx := context.Background()
	sink := &recordingSink{}
	stream := newResultStream(sink, "r1")

	testutil.AssertNoError(t, stream.Next(ctx, model.WithStatus(model.StatusJudging, "")))
	testutil.AssertFalse(t, stream.Ended(), "stream should be open")
	testutil.AssertNoError(t, stream.End(ctx, model.Final{Status: model.StatusAccepted, Score: 100}))
	testutil.AssertTrue(t, stream.Ended(), "stream should be closed")

	err := stream.Next(ctx, model.WithStatus(model.StatusJudging, "late"))
	testutil.AssertTrue(t, errors.Is(err, provider.ErrStreamClosed), "Next after End should fail")
	err = stream.End(ctx, model.Final{Status: model.StatusWrongAnswer})
	testutil.AssertTrue(t, errors.Is(err, provider.ErrStreamClosed), "second End should fail")

	events := sink.forRecord("r1")
	testutil.AssertEqual(t, len(events), 2)
	testutil.AssertEqual(t, terminalCount(events), 1)
	testutil.AssertTrue(t, events[1].Terminal, "terminal event should be last")
	testutil.AssertEqual(t, events[0].Seq, 1)
	testutil.AssertEqual(t, events[1].Seq, 2)
}

func TestResultStreamEndsEvenWhenSinkFails(t *testing.T) {
	sink := &recordingSink{err: errRemote}
	stream := newResultStream(sink, "r1")
	err := stream.End(context.Background(), model.Failed(model.StatusSystemError, "x"))
	testutil.AssertTrue(t, errors.Is(err, errRemote), "sink error should surface")
	testutil.AssertTrue(t, stream.Ended(), "stream should count as ended")
}

func TestResultStreamRetriesTerminalEvent(t *testing.T) {
	sink := &recordingSink{failures: 2}
	stream := newResultStream(sink, "r1")
	testutil.AssertNoError(t, stream.End(context.Background(), model.Final{Status: model.StatusAccepted, Score: 100}))

	events := sink.forRecord("r1")
	testutil.AssertEqual(t, len(events), 1)
	testutil.AssertEqual(t, terminalCount(events), 1)
	testutil.AssertEqual(t, sink.attempts, 3)
}
