package search

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleBody = `
<div class="result">
  <a rel="nofollow" class="result__a" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Fexample.com%2Fone&amp;rut=abc">First <b>Result</b></a>
</div>
<div class="result">
  <a rel="nofollow" class="result__a" href="https://example.org/two">Second Result</a>
</div>
<div class="result">
  <a rel="nofollow" class="result__a" href="https://example.net/three">Third Result</a>
</div>
`

func TestParseResultsUnwrapsRedirects(t *testing.T) {
	t.Parallel()

	results := parseResults(sampleBody, 5)
	require.Len(t, results, 3)
	require.Equal(t, Result{Title: "First Result", URL: "https://example.com/one"}, results[0])
	require.Equal(t, Result{Title: "Second Result", URL: "https://example.org/two"}, results[1])
}

func TestParseResultsHonorsLimit(t *testing.T) {
	t.Parallel()

	results := parseResults(sampleBody, 2)
	require.Len(t, results, 2)
}

func TestCleanURLPassesThroughPlainLinks(t *testing.T) {
	t.Parallel()

	require.Equal(t, "https://example.org/a", cleanURL("https://example.org/a"))
	require.Equal(t, "https://example.com/one", cleanURL("//duckduckgo.com/l/?uddg=https%3A%2F%2Fexample.com%2Fone"))
}
