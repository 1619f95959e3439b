package command

import (
	"net/http"
	"testing"

	"vjudge/pkg/testutil"
)

func TestBuildRequestStatusQuery(t *testing.T) {
	cmd := Registry()["vjudge status"]
	req, err := BuildRequest(cmd, Params{"live": "true", "scope": "cluster"})
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, req.Method, http.MethodGet)
	testutil.AssertEqual(t, req.Path, "/api/v1/vjudge/status?live=true&scope=cluster")
	testutil.AssertEqual(t, len(req.Body), 0)
}

func TestBuildRequestRecordAlias(t *testing.T) {
	cmd := Registry()["record get"]
	req, err := BuildRequest(cmd, Params{"rid": "r 1", "events": "1"})
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, req.Path, "/api/v1/vjudge/records/r%201?events=1")
}

func TestBuildRequestWatchUsesStreamPath(t *testing.T) {
	cmd := Registry()["record watch"]
	testutil.AssertTrue(t, cmd.Stream, "watch opens a stream")
	req, err := BuildRequest(cmd, Params{"id": "r1"})
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, req.Path, "/api/v1/vjudge/records/r1/stream")
}

func TestBuildRequestRejectsBadInput(t *testing.T) {
	commands := Registry()
	_, err := BuildRequest(commands["record get"], Params{})
	testutil.AssertTrue(t, err != nil, "missing id is rejected")
	_, err = BuildRequest(commands["vjudge status"], Params{"live": "maybe"})
	testutil.AssertTrue(t, err != nil, "non-boolean live is rejected")
	_, err = BuildRequest(commands["vjudge status"], Params{"scope": "global"})
	testutil.AssertTrue(t, err != nil, "unknown scope is rejected")
}

func TestKeysSorted(t *testing.T) {
	keys := Keys(Registry())
	testutil.AssertEqual(t, keys[0], "record get")
	testutil.AssertEqual(t, keys[len(keys)-1], "vjudge status")
}
