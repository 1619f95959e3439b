package model

import (
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func TestAccountRouting(t *testing.T) {
	acc := RemoteAccount{Type: "codeforces.gym", Handle: "bot"}
	if acc.Key() != "codeforces.gym/bot" {
		t.Fatalf("Key() = %s", acc.Key())
	}
	if acc.TypeRoot() != "codeforces" {
		t.Fatalf("TypeRoot() = %s", acc.TypeRoot())
	}
	if TaskTopic(acc.TypeRoot()) != "remotejudge.codeforces" {
		t.Fatalf("TaskTopic() = %s", TaskTopic(acc.TypeRoot()))
	}
	if TypeRoot("spoj") != "spoj" {
		t.Fatalf("TypeRoot(spoj) = %s", TypeRoot("spoj"))
	}
}

func TestEnabledOn(t *testing.T) {
	open := RemoteAccount{}
	if !open.EnabledOn("node-1") {
		t.Fatal("empty allow-list should enable every host")
	}
	pinned := RemoteAccount{EnableOn: []string{"node-2"}}
	if pinned.EnabledOn("node-1") || !pinned.EnabledOn("node-2") {
		t.Fatal("allow-list not honoured")
	}
}

func TestSnapshotApply(t *testing.T) {
	var snap RecordSnapshot
	now := time.Now()
	snap.Apply(RecordEvent{RID: "r1", Seq: 1, Progress: ptr(WithStatus(StatusFetched, "")), At: now})
	if snap.Status != StatusFetched || snap.Done {
		t.Fatalf("after fetched: %+v", snap)
	}
	for i := 1; i <= 3; i++ {
		snap.Apply(RecordEvent{RID: "r1", Seq: i + 1, Progress: &Progress{Case: &CaseResult{ID: i, Status: StatusAccepted}}, At: now})
	}
	snap.Apply(RecordEvent{RID: "r1", Seq: 5, Terminal: true, Final: &Final{Status: StatusAccepted, Score: 100, TimeMs: 15, MemoryKB: 1024}, At: now})

	if !snap.Done || snap.Score != 100 || snap.Status != StatusAccepted {
		t.Fatalf("final snapshot: %+v", snap)
	}
	if len(snap.Cases) != 3 {
		t.Fatalf("cases = %d", len(snap.Cases))
	}
}

func TestStatusTerminal(t *testing.T) {
	if StatusJudging.Terminal() || StatusFetched.Terminal() {
		t.Fatal("in-progress status reported terminal")
	}
	if !StatusSystemError.Terminal() || !StatusAccepted.Terminal() {
		t.Fatal("terminal status reported in-progress")
	}
	if StatusCompileError.String() != "Compile Error" {
		t.Fatalf("String() = %s", StatusCompileError.String())
	}
}

func TestCommentLine(t *testing.T) {
	cpp := LangConfig{Comment: []string{"//"}}
	if got := cpp.CommentLine("rid r1"); got != "// rid r1" {
		t.Fatalf("line comment = %q", got)
	}
	pas := LangConfig{Comment: []string{"{", "}"}}
	if got := pas.CommentLine("rid r1"); got != "{ rid r1 }" {
		t.Fatalf("block comment = %q", got)
	}
	if (LangConfig{}).CommentLine("x") != "" {
		t.Fatal("no comment syntax should render nothing")
	}
}

func TestTaskValidate(t *testing.T) {
	missing := JudgeTask{RID: "r1"}.Validate()
	if len(missing) != 2 || missing[0] != "target" || missing[1] != "lang" {
		t.Fatalf("missing = %v", missing)
	}
}

func ptr[T any](v T) *T { return &v }

func TestCommentSyntaxYAML(t *testing.T) {
	var langs map[string]LangConfig
	doc := "cc:\n  comment: //\npas:\n  comment: ['{', '}']\n"
	if err := yaml.Unmarshal([]byte(doc), &langs); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(langs["cc"].Comment) != 1 || langs["pas"].Comment[1] != "}" {
		t.Fatalf("decoded comments: %+v", langs)
	}
	out, err := yaml.Marshal(langs["cc"])
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(out), "- ") {
		t.Fatalf("single token should marshal as a scalar, got %q", out)
	}
}
