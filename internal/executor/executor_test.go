package executor

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanmeadows/relay/internal/config"
	"github.com/alanmeadows/relay/internal/runner"
	"github.com/alanmeadows/relay/internal/session"
	"github.com/alanmeadows/relay/internal/transcript"
)

func newSession(t *testing.T, exec session.Executor) (*session.Session, chan session.Completion) {
	t.Helper()
	done := make(chan session.Completion, 4)
	s := session.New(session.Config{
		Executor:        exec,
		OnCompletion:    func(c session.Completion) { done <- c },
		KillOnInterrupt: true,
	})
	t.Cleanup(func() { s.Close() })
	return s, done
}

func wait(t *testing.T, done chan session.Completion) session.Completion {
	t.Helper()
	select {
	case c := <-done:
		return c
	case <-time.After(10 * time.Second):
		t.Fatal("request did not complete")
		return session.Completion{}
	}
}

func TestBuild_ShellSync(t *testing.T) {
	exec, err := Build(config.ExecutorConfig{Kind: config.ExecutorShell, Sync: true})
	require.NoError(t, err)

	s, done := newSession(t, exec)
	require.NoError(t, s.Submit("echo hi"))

	c := wait(t, done)
	assert.Equal(t, session.Completion{Input: "echo hi", Output: "hi", Success: true}, c)
	assert.Equal(t, []transcript.Entry{transcript.NewEntry("echo hi", "hi")}, s.History())
}

func TestBuild_ShellStreaming(t *testing.T) {
	exec, err := Build(config.DefaultConfig().Executor)
	require.NoError(t, err)

	s, done := newSession(t, exec)
	require.NoError(t, s.Submit("echo one; sleep 0.1; echo two"))

	c := wait(t, done)
	assert.True(t, c.Success)
	assert.Equal(t, "one\ntwo", c.Output)
}

func TestBuild_CommandFailureIsReported(t *testing.T) {
	exec, err := Build(config.ExecutorConfig{Kind: config.ExecutorCommand, Command: []string{"sh", "-c", "echo {input} >&2; exit 4"}})
	require.NoError(t, err)

	s, done := newSession(t, exec)
	require.NoError(t, s.Submit("bad"))

	c := wait(t, done)
	assert.False(t, c.Success)
	assert.Equal(t, "bad", c.Output)
	assert.False(t, s.Busy())
}

func TestCommand_Placeholder(t *testing.T) {
	assert.Equal(t, []string{"echo", "[x y]"}, expand([]string{"echo", "[{input}]"}, "x y"))
	assert.Equal(t, []string{"grep", "-n", "x y"}, expand([]string{"grep", "-n"}, "x y"))
}

func TestCommand_SpawnFailure(t *testing.T) {
	for _, sync := range []bool{true, false} {
		s, done := newSession(t, Command([]string{"relay-no-such-binary"}, runner.Options{}, sync))
		require.NoError(t, s.Submit("x"))

		c := wait(t, done)
		assert.False(t, c.Success)
		assert.Contains(t, c.Output, "relay-no-such-binary")
		assert.False(t, s.Busy())
	}
}

func TestShell_InterruptStopsProcess(t *testing.T) {
	s, done := newSession(t, Shell("sh", runner.Options{}, false))
	require.NoError(t, s.Submit("echo started; sleep 30"))

	require.Eventually(t, func() bool { return s.State() == session.Streaming }, 5*time.Second, 10*time.Millisecond)
	start := time.Now()
	assert.True(t, s.Interrupt(false))

	c := wait(t, done)
	assert.True(t, c.Interrupted)
	assert.Equal(t, "started", c.Output)
	assert.Less(t, time.Since(start), 5*time.Second)

	history := s.History()
	require.Len(t, history, 1)
	assert.True(t, history[0].Interrupted)
}

func TestShell_SyncInterruptStopsProcess(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "started")
	s, done := newSession(t, Shell("sh", runner.Options{}, true))

	submitted := make(chan error, 1)
	start := time.Now()
	go func() { submitted <- s.Submit("touch " + marker + "; sleep 30; echo late") }()

	require.Eventually(t, func() bool {
		_, err := os.Stat(marker)
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)
	assert.True(t, s.Interrupt(false))

	c := wait(t, done)
	assert.True(t, c.Interrupted)

	select {
	case err := <-submitted:
		require.NoError(t, err)
	case <-time.After(runner.GracePeriod):
		t.Fatal("sync request kept running after interrupt")
	}
	assert.Less(t, time.Since(start), runner.GracePeriod+5*time.Second)

	history := s.History()
	require.Len(t, history, 1)
	assert.True(t, history[0].Interrupted)
	assert.Empty(t, history[0].OutputText())
}

func TestFilter(t *testing.T) {
	f, err := Filter(config.FilterConfig{})
	require.NoError(t, err)
	assert.Nil(t, f)

	for _, kind := range []config.FilterKind{config.FilterJSON, config.FilterFields} {
		f, err := Filter(config.FilterConfig{Kind: kind})
		require.NoError(t, err)
		assert.NotNil(t, f)
	}

	_, err = Filter(config.FilterConfig{Kind: config.FilterJSONPath})
	assert.Error(t, err)
	_, err = Filter(config.FilterConfig{Kind: "xml"})
	assert.Error(t, err)
}

func TestBuild_Errors(t *testing.T) {
	_, err := Build(config.ExecutorConfig{Kind: config.ExecutorCommand})
	assert.Error(t, err)
	_, err = Build(config.ExecutorConfig{Kind: "telnet"})
	assert.Error(t, err)
	_, err = Build(config.ExecutorConfig{Kind: config.ExecutorHTTP})
	assert.Error(t, err)
	_, err = Build(config.ExecutorConfig{Kind: config.ExecutorHTTP, HTTP: config.HTTPConfig{URL: "http://x", BodyTemplate: "{nope"}})
	assert.Error(t, err)
	_, err = Build(config.ExecutorConfig{Kind: config.ExecutorHTTP, HTTP: config.HTTPConfig{
		URL: "http://x", BodyTemplate: `{"a":1}`, Form: []string{"file=@a.txt"},
	}})
	assert.Error(t, err)
}

// fakeCurl puts a curl on PATH that prints the request body file and
// writes its arguments to args.txt.
func fakeCurl(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	script := `#!/bin/sh
printf '%s\n' "$@" > "` + filepath.Join(dir, "args.txt") + `"
while [ $# -gt 0 ]; do
  if [ "$1" = "-d" ]; then cat "${2#@}"; fi
  shift
done
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "curl"), []byte(script), 0755))
	t.Setenv("PATH", dir+string(os.PathListSeparator)+os.Getenv("PATH"))
	return dir
}

func TestHTTP_BodyTemplateAndFilter(t *testing.T) {
	curlDir := fakeCurl(t)
	tmp := t.TempDir()
	t.Setenv("TMPDIR", tmp)

	exec, err := Build(config.ExecutorConfig{
		Kind:   config.ExecutorHTTP,
		Filter: config.FilterConfig{Kind: config.FilterJSONPath, Path: "messages.0.content"},
		HTTP: config.HTTPConfig{
			URL:          "https://api.example.test/v1/chat",
			BodyTemplate: `{"model":"m","messages":[{"role":"user"}]}`,
			InputPath:    "messages.0.content",
			APIKey:       "sk-test",
			Proxy:        "http://proxy:3128",
		},
	})
	require.NoError(t, err)

	s, done := newSession(t, exec)
	require.NoError(t, s.Submit(`say "hi"`))

	c := wait(t, done)
	assert.True(t, c.Success)
	assert.Equal(t, `say "hi"`, c.Output)

	args, err := os.ReadFile(filepath.Join(curlDir, "args.txt"))
	require.NoError(t, err)
	argv := strings.Split(strings.TrimSpace(string(args)), "\n")
	assert.Equal(t, "https://api.example.test/v1/chat", argv[0])
	assert.Contains(t, argv, "Authorization: Bearer sk-test")
	assert.Contains(t, argv, "Content-Type: application/json")
	assert.Contains(t, argv, "http://proxy:3128")

	leftovers, err := filepath.Glob(filepath.Join(tmp, "relay-body-*"))
	require.NoError(t, err)
	assert.Empty(t, leftovers, "request body file should be removed")
}

func TestHTTP_DefaultBody(t *testing.T) {
	fakeCurl(t)

	exec, err := HTTP(config.HTTPConfig{URL: "http://localhost/x"}, runner.Options{}, true)
	require.NoError(t, err)

	s, done := newSession(t, exec)
	require.NoError(t, s.Submit("ping"))
	assert.Equal(t, `{"input":"ping"}`, wait(t, done).Output)
}

func TestHTTP_FormSendsNoBody(t *testing.T) {
	curlDir := fakeCurl(t)

	exec, err := HTTP(config.HTTPConfig{
		URL:       "http://localhost/upload",
		Form:      []string{"file=@a.txt"},
		InputPath: "prompt",
	}, runner.Options{}, true)
	require.NoError(t, err)

	s, done := newSession(t, exec)
	require.NoError(t, s.Submit("@secret"))
	wait(t, done)

	raw, err := os.ReadFile(filepath.Join(curlDir, "args.txt"))
	require.NoError(t, err)
	args := strings.Split(strings.TrimSpace(string(raw)), "\n")
	assert.NotContains(t, args, "-d")
	assert.NotContains(t, args, "Content-Type: application/json")
	assert.Contains(t, args, "file=@a.txt")
	assert.Contains(t, args, "--form-string")
	assert.Contains(t, args, "prompt=@secret")
}

func TestHasHeader(t *testing.T) {
	assert.True(t, hasHeader([]string{"content-type: text/plain"}, "Content-Type"))
	assert.False(t, hasHeader([]string{"Accept: */*"}, "Content-Type"))
}
