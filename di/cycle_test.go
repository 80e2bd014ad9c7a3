package di

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func obj(args ...Argument) *Definition {
	return NewObject("x").AddArgument(args...)
}

//
// -----------------------------------------------------------------------------
// buildStack
// -----------------------------------------------------------------------------

// TestBuildStack_PushPop verifies push rejects re-entry and reports the path.
func TestBuildStack_PushPop(t *testing.T) {
	t.Parallel()

	var s buildStack
	require.NoError(t, s.push("a"))
	require.NoError(t, s.push("b"))
	assert.Equal(t, 2, s.depth())

	err := s.push("a")
	var cyc CyclicDependencyError
	require.ErrorAs(t, err, &cyc)
	assert.Equal(t, []string{"a", "b", "a"}, cyc.Path)
	assert.Equal(t, `di: circular reference "a" -> "b" -> "a"`, err.Error())

	s.pop()
	s.pop()
	assert.Zero(t, s.depth())
	require.NoError(t, s.push("a"))
}

// TestBuildStack_Concurrent verifies the stack is safe to use from several goroutines.
func TestBuildStack_Concurrent(t *testing.T) {
	t.Parallel()

	var (
		s  buildStack
		wg sync.WaitGroup
	)
	for i := range 16 {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if s.push(id) == nil {
				s.pop()
			}
		}(string(rune('a' + i)))
	}
	wg.Wait()
	assert.Zero(t, s.depth())
}

//
// -----------------------------------------------------------------------------
// detectCycles / dependencyLevels
// -----------------------------------------------------------------------------

// TestDetectCycles verifies eager edges form cycles and lazy edges do not.
func TestDetectCycles(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		defs     map[string]*Definition
		wantPath []string
	}{
		{
			name: "acyclic",
			defs: map[string]*Definition{"a": obj(Ref("b")), "b": obj(), "c": obj(Ref("a"), Ref("b"))},
		},
		{
			name:     "direct",
			defs:     map[string]*Definition{"a": obj(Ref("b")), "b": obj(Ref("a"))},
			wantPath: []string{"a", "b", "a"},
		},
		{
			name:     "self",
			defs:     map[string]*Definition{"a": obj(Ref("a"))},
			wantPath: []string{"a", "a"},
		},
		{
			name:     "through sequence",
			defs:     map[string]*Definition{"a": obj(Sequence{Items: []Argument{Ref("b")}}), "b": obj(Ref("a"))},
			wantPath: []string{"a", "b", "a"},
		},
		{
			name: "lazy edge",
			defs: map[string]*Definition{"a": obj(MustWrap("b")), "b": obj(Ref("a"))},
		},
		{
			name: "ignore on uninitialized",
			defs: map[string]*Definition{"a": obj(RefOr("b", IgnoreOnUninitialized)), "b": obj(Ref("a"))},
		},
		{
			name: "missing target",
			defs: map[string]*Definition{"a": obj(Ref("ghost"))},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := detectCycles(tt.defs)
			if tt.wantPath == nil {
				assert.NoError(t, err)
				return
			}
			var cyc CyclicDependencyError
			require.ErrorAs(t, err, &cyc)
			assert.Equal(t, tt.wantPath, cyc.Path)
		})
	}
}

// TestDependencyLevels verifies dependencies come first and levels are sorted.
func TestDependencyLevels(t *testing.T) {
	t.Parallel()

	defs := map[string]*Definition{
		"app":    obj(Ref("mailer"), Ref("store"), Ref("mailer")),
		"mailer": obj(Ref("logger")),
		"store":  obj(Ref("logger")),
		"logger": obj(),
		"cache":  obj(MustWrap("app")),
	}
	assert.Equal(t, [][]string{
		{"cache", "logger"},
		{"mailer", "store"},
		{"app"},
	}, dependencyLevels(defs))
}
