package javascript

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/dop251/goja"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caffeineduck/evalbox/executor"
)

func TestAdapter(t *testing.T) {
	lang := New(WithModulePath("/opt/javascript.wasm"))
	assert.Equal(t, "javascript", lang.Name())
	assert.Equal(t, executor.ABIReactor, lang.ABI())
	assert.Equal(t, "/opt/javascript.wasm", lang.Path())
	assert.Empty(t, lang.Args())
}

func TestMissingModuleIsLoadError(t *testing.T) {
	exec, err := executor.New()
	require.NoError(t, err)
	defer exec.Close()

	result := exec.Run(context.Background(), New(WithModulePath("/nonexistent/javascript.wasm")), "1")
	assert.Equal(t, executor.OutcomeLoadError, result.Outcome())
}

// =============================================================================
// INTEGRATION TESTS (need the guest built from guest/javascript)
// =============================================================================

func javascriptOrSkip(t *testing.T) (*executor.Executor, *JavaScript) {
	t.Helper()
	lang := New(WithModulePath(os.Getenv("EVALBOX_JAVASCRIPT_WASM")))
	if _, err := os.Stat(lang.Path()); err != nil {
		t.Skipf("javascript module not available at %s", lang.Path())
	}
	exec, err := executor.Shared()
	require.NoError(t, err)
	return exec, lang
}

// reference evaluates src with goja on the host.
func reference(t *testing.T, src string) string {
	t.Helper()
	vm := goja.New()
	v, err := vm.RunString(src)
	require.NoError(t, err)
	out, err := vm.RunString("JSON.stringify")
	require.NoError(t, err)
	stringify, _ := goja.AssertFunction(out)
	s, err := stringify(goja.Undefined(), v)
	require.NoError(t, err)
	return s.String()
}

func TestJavaScriptMatchesReference(t *testing.T) {
	exec, lang := javascriptOrSkip(t)

	programs := []string{
		"[1,2,3,4,5].reduce((a, b) => a + b, 0)",
		"const fib = [0, 1]; for (let i = 0; i < 4; i++) fib.push(fib[i] + fib[i + 1]); fib",
		`({name: "ada", tags: ["math", "engines"], born: 1815})`,
		`"snow" + "man"`,
		"0.1 + 0.2",
	}

	for _, src := range programs {
		t.Run(src, func(t *testing.T) {
			result := exec.Run(context.Background(), lang, src)
			require.NoError(t, result.Error)
			got, err := result.Value.MarshalJSON()
			require.NoError(t, err)
			assert.JSONEq(t, reference(t, src), string(got))
		})
	}
}

func TestJavaScriptRuntimeError(t *testing.T) {
	exec, lang := javascriptOrSkip(t)
	result := exec.Run(context.Background(), lang, `throw new TypeError("nope")`)

	var ge *executor.GuestError
	require.ErrorAs(t, result.Error, &ge)
	assert.Equal(t, "TypeError", ge.Type)
	assert.Equal(t, "TypeError: nope", ge.Message)
}

func TestJavaScriptTimeout(t *testing.T) {
	exec, lang := javascriptOrSkip(t)
	result := exec.Run(context.Background(), lang, "while (true) {}", executor.WithTimeBudget(time.Second))
	assert.ErrorIs(t, result.Error, executor.ErrTimeBudget)
}

func TestJavaScriptMemoryBudget(t *testing.T) {
	exec, lang := javascriptOrSkip(t)
	result := exec.Run(context.Background(), lang,
		"const xs = []; while (true) xs.push(new Array(1 << 16).fill(1));",
		executor.WithMemoryBudget(64<<20))
	assert.ErrorIs(t, result.Error, executor.ErrMemoryBudget)
}

func TestJavaScriptUnsupported(t *testing.T) {
	exec, lang := javascriptOrSkip(t)
	result := exec.Run(context.Background(), lang, "(() => 1)")

	var ge *executor.GuestError
	require.ErrorAs(t, result.Error, &ge)
	assert.Equal(t, executor.CategoryUnsupported, ge.Category)
}
