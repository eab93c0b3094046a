package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
	"go.viam.com/test"
)

func TestNewLoggerLevels(t *testing.T) {
	logger, err := NewLogger("pipeline", "debug")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, logger.Desugar().Core().Enabled(zapcore.DebugLevel), test.ShouldBeTrue)

	logger, err = NewLogger("pipeline", "")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, logger.Desugar().Core().Enabled(zapcore.DebugLevel), test.ShouldBeFalse)

	_, err = NewLogger("pipeline", "loud")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "parse log level")
}

func TestOrFallsBackToNop(t *testing.T) {
	test.That(t, Or(nil), test.ShouldNotBeNil)
}
