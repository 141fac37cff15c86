package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseTrace(t *testing.T) {
	stderr := strings.Join([]string{
		`{"level":"info","msg":"discovery finished"}`,
		"BIONIC_REQUEST_TS 1700000002.500000",
		"BIONIC_REQUEST_TS garbage",
		"BIONIC_REQUEST_TS 1700000000.000000",
	}, "\n")

	got := parseTrace(strings.NewReader(stderr))
	assert.Equal(t, []float64{1700000002.5, 1700000000}, got)
}

func TestParseTrace_LongLinesAreConsumed(t *testing.T) {
	stderr := strings.NewReader(strings.Join([]string{
		"BIONIC_REQUEST_TS 1.000000",
		`{"level":"debug","msg":"` + strings.Repeat("x", 256<<10) + `"}`,
		"BIONIC_REQUEST_TS 4.500000\r",
	}, "\n"))

	got := parseTrace(stderr)

	assert.Equal(t, []float64{1, 4.5}, got)
	assert.Zero(t, stderr.Len(), "stderr must be drained")
}

func TestSummarize(t *testing.T) {
	r := summarize([]float64{10.5, 4, 7.25}, nil)

	assert.Equal(t, []float64{4, 7.25, 10.5}, r.Timestamps)
	assert.Equal(t, []float64{3.25, 3.25}, r.Gaps)
	assert.Equal(t, 3.25, r.MinGap)

	single := summarize([]float64{1}, nil)
	assert.Empty(t, single.Gaps)
	assert.Zero(t, single.MinGap)
}
