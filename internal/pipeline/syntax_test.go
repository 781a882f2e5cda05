package pipeline

import (
	"context"
	"strings"
	"testing"
)

func TestCheckSyntaxParsesIssues(t *testing.T) {
	d := newTestPipeline(t, nil)
	d.runner.result.Stdout = `{"ok":false,"issues":[{"message":"Missing closing '}'","line":3,"column":1}]}` + "\n"
	d.runner.result.ShellPath = "/usr/bin/pwsh"

	res, err := d.pipeline.CheckSyntax(context.Background(), Session{ID: "s1"}, SyntaxArgs{
		Script: "function f {",
	})
	if err != nil {
		t.Fatalf("check syntax: %v", err)
	}
	if res.OK {
		t.Fatal("expected ok=false")
	}
	if len(res.Issues) != 1 || res.Issues[0].Line != 3 {
		t.Fatalf("issues = %+v", res.Issues)
	}
	if res.Parser != "/usr/bin/pwsh" {
		t.Fatalf("parser = %q", res.Parser)
	}

	// The parse-only script never embeds the raw body unquoted.
	req := d.runner.calls()[0]
	if !strings.Contains(req.Command, "ParseInput") {
		t.Fatalf("command = %q", req.Command)
	}
}

func TestCheckSyntaxArgValidation(t *testing.T) {
	d := newTestPipeline(t, nil)

	_, err := d.pipeline.CheckSyntax(context.Background(), Session{ID: "s1"}, SyntaxArgs{})
	if KindOf(err) != KindInvalidArgument {
		t.Fatalf("kind = %v", KindOf(err))
	}
	_, err = d.pipeline.CheckSyntax(context.Background(), Session{ID: "s1"}, SyntaxArgs{
		Script:   "Get-Date",
		FilePath: "/tmp/x.ps1",
	})
	if KindOf(err) != KindInvalidArgument {
		t.Fatalf("kind = %v", KindOf(err))
	}
}

func TestPsQuote(t *testing.T) {
	if got := psQuote(`it's`); got != `'it''s'` {
		t.Fatalf("psQuote = %q", got)
	}
}
