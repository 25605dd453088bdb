package tools

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/voxgate/voxgate/pkg/types"
)

// echoTool returns a BuiltinTool that echoes its args back as the result.
func echoTool(name string) BuiltinTool {
	return BuiltinTool{
		Definition: types.ToolDefinition{Name: name, Description: "echoes args"},
		Handler: func(_ context.Context, args string) (string, error) {
			return args, nil
		},
	}
}

// slowTool returns a BuiltinTool that sleeps for delay before responding.
func slowTool(name string, delay time.Duration) BuiltinTool {
	return BuiltinTool{
		Definition: types.ToolDefinition{Name: name},
		Handler: func(ctx context.Context, _ string) (string, error) {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(delay):
				return "ok", nil
			}
		},
	}
}

func TestRegisterBuiltin_Validation(t *testing.T) {
	t.Parallel()
	h := New()
	defer h.Close()

	if err := h.RegisterBuiltin(BuiltinTool{Handler: func(context.Context, string) (string, error) { return "", nil }}); err == nil {
		t.Error("expected error for empty name")
	}
	if err := h.RegisterBuiltin(BuiltinTool{Definition: types.ToolDefinition{Name: "x"}}); err == nil {
		t.Error("expected error for nil handler")
	}
}

func TestRegisterBuiltin_ReplacesSameName(t *testing.T) {
	t.Parallel()
	h := New()
	defer h.Close()

	first := BuiltinTool{
		Definition: types.ToolDefinition{Name: "tool"},
		Handler:    func(context.Context, string) (string, error) { return "first", nil },
	}
	second := BuiltinTool{
		Definition: types.ToolDefinition{Name: "tool"},
		Handler:    func(context.Context, string) (string, error) { return "second", nil },
	}
	if err := h.RegisterBuiltin(first); err != nil {
		t.Fatalf("RegisterBuiltin: %v", err)
	}
	if err := h.RegisterBuiltin(second); err != nil {
		t.Fatalf("RegisterBuiltin: %v", err)
	}

	got, err := h.Execute(context.Background(), "tool", "{}")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got != "second" {
		t.Errorf("expected replacement to win, got %q", got)
	}
}

func TestDefinitions_SortedByName(t *testing.T) {
	t.Parallel()
	h := New()
	defer h.Close()

	for _, name := range []string{"zeta", "alpha", "mid"} {
		if err := h.RegisterBuiltin(echoTool(name)); err != nil {
			t.Fatalf("RegisterBuiltin(%s): %v", name, err)
		}
	}

	defs := h.Definitions()
	if len(defs) != 3 {
		t.Fatalf("expected 3 definitions, got %d", len(defs))
	}
	want := []string{"alpha", "mid", "zeta"}
	for i, d := range defs {
		if d.Name != want[i] {
			t.Errorf("position %d: expected %q, got %q", i, want[i], d.Name)
		}
	}
}

func TestExecute_Builtin(t *testing.T) {
	t.Parallel()
	h := New()
	defer h.Close()

	if err := h.RegisterBuiltin(echoTool("echo")); err != nil {
		t.Fatalf("RegisterBuiltin: %v", err)
	}

	got, err := h.Execute(context.Background(), "echo", `{"k":"v"}`)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got != `{"k":"v"}` {
		t.Errorf("expected echoed args, got %q", got)
	}
}

func TestExecute_UnknownTool(t *testing.T) {
	t.Parallel()
	h := New()
	defer h.Close()

	_, err := h.Execute(context.Background(), "ghost", "{}")
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("expected not-found error, got %v", err)
	}
}

func TestExecute_HandlerError(t *testing.T) {
	t.Parallel()
	h := New()
	defer h.Close()

	tool := BuiltinTool{
		Definition: types.ToolDefinition{Name: "bad"},
		Handler: func(context.Context, string) (string, error) {
			return "", fmt.Errorf("always fails")
		},
	}
	if err := h.RegisterBuiltin(tool); err != nil {
		t.Fatalf("RegisterBuiltin: %v", err)
	}

	_, err := h.Execute(context.Background(), "bad", "{}")
	if err == nil || !strings.Contains(err.Error(), "always fails") {
		t.Errorf("expected handler error, got %v", err)
	}
}

func TestExecute_TimesOut(t *testing.T) {
	t.Parallel()
	h := New(WithCallTimeout(50 * time.Millisecond))
	defer h.Close()

	if err := h.RegisterBuiltin(slowTool("slow", 5*time.Second)); err != nil {
		t.Fatalf("RegisterBuiltin: %v", err)
	}

	start := time.Now()
	_, err := h.Execute(context.Background(), "slow", "{}")
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("timeout did not bound the call, took %v", elapsed)
	}
}

func TestRegisterServer_Validation(t *testing.T) {
	t.Parallel()
	h := New()
	defer h.Close()
	ctx := context.Background()

	if err := h.RegisterServer(ctx, ServerConfig{Transport: TransportStdio, Command: "x"}); err == nil {
		t.Error("expected error for empty server name")
	}
	if err := h.RegisterServer(ctx, ServerConfig{Name: "s", Transport: "carrier-pigeon"}); err == nil {
		t.Error("expected error for unknown transport")
	}
	if err := h.RegisterServer(ctx, ServerConfig{Name: "s", Transport: TransportStdio}); err == nil {
		t.Error("expected error for stdio server without command")
	}
	if err := h.RegisterServer(ctx, ServerConfig{Name: "s", Transport: TransportStreamableHTTP}); err == nil {
		t.Error("expected error for http server without URL")
	}
}

func TestSplitCommand(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in       string
		wantExec string
		wantArgs []string
	}{
		{"/bin/foo --bar baz", "/bin/foo", []string{"--bar", "baz"}},
		{"solo", "solo", nil},
		{"", "", nil},
		{"  padded   args  ", "padded", []string{"args"}},
	}
	for _, tc := range cases {
		exec, args := splitCommand(tc.in)
		if exec != tc.wantExec {
			t.Errorf("splitCommand(%q) exec: expected %q, got %q", tc.in, tc.wantExec, exec)
		}
		if len(args) != len(tc.wantArgs) {
			t.Errorf("splitCommand(%q) args: expected %v, got %v", tc.in, tc.wantArgs, args)
			continue
		}
		for i := range args {
			if args[i] != tc.wantArgs[i] {
				t.Errorf("splitCommand(%q) arg %d: expected %q, got %q", tc.in, i, tc.wantArgs[i], args[i])
			}
		}
	}
}

func TestParseServerSpecs(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name    string
		in      string
		want    []ServerConfig
		wantErr bool
	}{
		{"empty", "", nil, false},
		{"blank", "   ", nil, false},
		{
			"single stdio",
			"dice=/usr/local/bin/mcp-dice",
			[]ServerConfig{{Name: "dice", Transport: TransportStdio, Command: "/usr/local/bin/mcp-dice"}},
			false,
		},
		{
			"stdio with args",
			"files=/bin/mcp-files --root /data",
			[]ServerConfig{{Name: "files", Transport: TransportStdio, Command: "/bin/mcp-files --root /data"}},
			false,
		},
		{
			"http target",
			"remote=https://tools.example.com/mcp",
			[]ServerConfig{{Name: "remote", Transport: TransportStreamableHTTP, URL: "https://tools.example.com/mcp"}},
			false,
		},
		{
			"mixed list with spaces",
			"a=/bin/a , b=http://b.local/mcp",
			[]ServerConfig{
				{Name: "a", Transport: TransportStdio, Command: "/bin/a"},
				{Name: "b", Transport: TransportStreamableHTTP, URL: "http://b.local/mcp"},
			},
			false,
		},
		{"missing equals", "broken", nil, true},
		{"empty name", "=cmd", nil, true},
		{"empty target", "name=", nil, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseServerSpecs(tc.in)
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseServerSpecs: %v", err)
			}
			if len(got) != len(tc.want) {
				t.Fatalf("expected %d configs, got %d", len(tc.want), len(got))
			}
			for i := range got {
				if !reflect.DeepEqual(got[i], tc.want[i]) {
					t.Errorf("config %d: expected %+v, got %+v", i, tc.want[i], got[i])
				}
			}
		})
	}
}
