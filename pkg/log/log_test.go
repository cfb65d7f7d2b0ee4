package log

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJobLoggerWritesToSink(t *testing.T) {
	var out, sink bytes.Buffer
	Init(Config{Level: DebugLevel, JSONOutput: true, Output: &out})

	logger := JobLogger(&sink, "job-1", "app-1", "deploy")
	logger.Info().Msg("Git clone")

	assert.Contains(t, out.String(), `"job_id":"job-1"`)
	assert.Contains(t, out.String(), `"command":"deploy"`)
	assert.Contains(t, sink.String(), "Git clone")
	assert.Contains(t, sink.String(), "app-1")
}

func TestWithComponent(t *testing.T) {
	var out bytes.Buffer
	Init(Config{Level: InfoLevel, JSONOutput: true, Output: &out})

	logger := WithComponent("autoscale")
	logger.Debug().Msg("hidden")
	logger.Info().Msg("shown")

	assert.NotContains(t, out.String(), "hidden")
	assert.Contains(t, out.String(), `"component":"autoscale"`)
}
