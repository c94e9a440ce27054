package capture

import (
	"os"
	"testing"

	"github.com/wrenlabs/danmucap/telemetry"
)

func TestMain(m *testing.M) {
	telemetry.Init()
	os.Exit(m.Run())
}
